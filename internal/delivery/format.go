package delivery

import (
	"fmt"
	"html"
	"strings"
	"time"

	"newsbot/internal/content"
)

const parseModeHTML = "HTML"

// Formatter renders news cards.
type Formatter struct {
	loc *time.Location
	now func() time.Time
}

func NewFormatter(loc *time.Location) *Formatter {
	if loc == nil {
		loc = time.Local
	}
	return &Formatter{loc: loc, now: time.Now}
}

// Format renders items as a numbered card for kind. Item titles are escaped.
func (f *Formatter) Format(kind Kind, items []content.Item) Message {
	stamp := f.now().In(f.loc).Format("01월 02일 15:04")

	var b strings.Builder
	switch kind {
	case KindUrgent:
		fmt.Fprintf(&b, "🚨 <b>긴급 뉴스 알림</b> (%s)\n\n", stamp)
		fmt.Fprintf(&b, "📈 <b>새로운 주요 뉴스 %d건 감지!</b>\n\n", len(items))
	case KindManual:
		fmt.Fprintf(&b, "📰 주식 뉴스 업데이트 (%s)\n\n🔥 주요 뉴스 %d건:\n\n", stamp, len(items))
	default:
		fmt.Fprintf(&b, "📰 주식 뉴스 알림 (%s)\n\n🔥 주요 뉴스 %d건:\n\n", stamp, len(items))
	}

	actions := make([]Action, 0, len(items)+2)
	for i, it := range items {
		icon, label := polarityBadge(it.Polarity)
		fmt.Fprintf(&b, "%s %s\n   %s %s | ⏰ %s\n\n", keycap(i+1), html.EscapeString(it.Title), icon, label, it.DisplayTime)
		if it.URL != "" {
			actions = append(actions, Action{Label: keycap(i+1) + " 뉴스 보기", URL: it.URL})
		}
	}

	b.WriteString("💡 각 뉴스를 클릭하면 원문을 확인할 수 있습니다.")
	switch kind {
	case KindScheduled:
		b.WriteString("\n📲 정기 알림을 받고 계십니다.")
	case KindUrgent:
		b.WriteString("\n🔍 새로운 뉴스가 감지되어 즉시 알림을 보내드렸습니다.")
	}

	actions = append(actions,
		Action{Label: "🔄 새로고침", Data: ActionRefresh},
		Action{Label: "⚙️ 알림설정", Data: ActionNotifySettings},
	)
	return Message{Text: b.String(), ParseMode: parseModeHTML, Actions: actions}
}

func polarityBadge(p content.Polarity) (icon, label string) {
	switch p {
	case content.Positive:
		return "📈", "긍정적"
	case content.Negative:
		return "📉", "부정적"
	default:
		return "📊", "중립"
	}
}

// keycap renders n as a keycap emoji ("1️⃣"). Numbers above 9 fall back to "10.".
func keycap(n int) string {
	if n >= 0 && n <= 9 {
		return fmt.Sprintf("%d️⃣", n)
	}
	return fmt.Sprintf("%d.", n)
}
