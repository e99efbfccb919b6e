package control

import (
	"fmt"
	"time"

	"newsbot/internal/delivery"
	"newsbot/internal/monitor"
	"newsbot/internal/subscriber"
	"newsbot/pkg/tgui"
)

func plain(text string) delivery.Message {
	return delivery.Message{Text: tgui.Esc(text).String(), ParseMode: "HTML"}
}

func notRegistered() delivery.Message {
	return plain("등록된 구독 정보가 없습니다. /start 로 시작하세요.")
}

func welcome(sub subscriber.Subscriber) delivery.Message {
	b := tgui.New().
		Title("🤖", "주식 뉴스 봇에 오신 것을 환영합니다!").
		Blank().
		Line("📈 실시간 주식 뉴스를 카드 형태로 전달해드립니다.").
		Line(fmt.Sprintf("📲 정기 알림이 등록되었습니다 (%d회/일).", len(sub.Times))).
		Blank()
	return delivery.Message{
		Text:      b.Build().Text + "\n\n" + commandList().String(),
		ParseMode: "HTML",
		Actions:   []delivery.Action{{Label: "🔄 최신 뉴스", Data: delivery.ActionRefresh}, {Label: "⚙️ 알림설정", Data: delivery.ActionNotifySettings}},
	}
}

func help() delivery.Message {
	return delivery.Message{
		Text: tgui.JoinH("\n\n",
			tgui.Raw("📋 "+tgui.B("사용 가능한 명령어:").String()),
			commandList(),
			tgui.Raw(tgui.B("뉴스 카드 사용법:").String()+"\n"+
				tgui.Esc("• 뉴스 카드에서 각 번호 버튼을 클릭하면 원문을 볼 수 있습니다\n• 🔄 새로고침 버튼으로 최신 뉴스를 다시 받을 수 있습니다").String()),
		).String(),
		ParseMode: "HTML",
	}
}

func commandList() tgui.H {
	rows := []struct{ cmd, desc string }{
		{"/news", "최신 주식 뉴스 보기"},
		{"/notify_on", "알림 켜기"},
		{"/notify_off", "알림 끄기"},
		{"/times 09:00,18:00", "정기 알림 시간 변경"},
		{"/status", "내 구독 현황 확인"},
		{"/unsubscribe", "구독 해제"},
		{"/help", "도움말 보기"},
	}
	parts := make([]tgui.H, 0, len(rows))
	for _, r := range rows {
		parts = append(parts, tgui.Raw("🔸 "+tgui.Code(r.cmd).String()+" - "+tgui.Esc(r.desc).String()))
	}
	return tgui.JoinH("\n", parts...)
}

func status(sub subscriber.Subscriber, loc *time.Location) delivery.Message {
	state := "🔕 꺼짐"
	if sub.Enabled {
		state = "🔔 켜짐"
	}
	msg := tgui.New().
		Title("📊", "구독 현황").
		Blank().
		KV("알림", state).
		KV("알림 시간", fmt.Sprintf("%d개", len(sub.Times))).
		Line(subscriber.FormatTimes(sub.Times)).
		KV("등록일", sub.RegisteredAt.In(loc).Format("2006-01-02 15:04")).
		Build()
	return delivery.Message{Text: msg.Text, ParseMode: msg.Opt.ParseMode}
}

func monitorStatus(st monitor.Status, subscribers int, loc *time.Location) delivery.Message {
	running := "중지됨"
	if st.Running {
		running = "실행 중"
	}
	last := "없음"
	if st.LastBroadcast != nil {
		last = st.LastBroadcast.In(loc).Format("01/02 15:04:05")
	}
	msg := tgui.New().
		Title("🛰", "뉴스 모니터 상태").
		Blank().
		KV("상태", running).
		KV("확인 주기", st.Interval.String()).
		KV("임계값", fmt.Sprintf("%d건", st.Threshold)).
		KV("최소 알림 간격", st.MinInterval.String()).
		KV("확인한 뉴스", fmt.Sprintf("%d건", st.SeenCount)).
		KV("대기 중인 뉴스", fmt.Sprintf("%d건", st.BufferCount)).
		KV("마지막 긴급 알림", last).
		KV("활성 구독자", fmt.Sprintf("%d명", subscribers)).
		Build()
	return delivery.Message{Text: msg.Text, ParseMode: msg.Opt.ParseMode}
}

func settings(sub subscriber.Subscriber) delivery.Message {
	state := "🔕 꺼짐"
	toggle := delivery.Action{Label: "🔔 알림 켜기", Data: delivery.ActionNotifyOn}
	if sub.Enabled {
		state = "🔔 켜짐"
		toggle = delivery.Action{Label: "🔕 알림 끄기", Data: delivery.ActionNotifyOff}
	}
	msg := tgui.New().
		Title("⚙️", "알림 설정").
		Blank().
		KV("현재 상태", state).
		KV("알림 시간", subscriber.FormatTimes(sub.Times)).
		Blank().
		Line("시간 변경: /times 09:00,12:30,18:00").
		Build()
	return delivery.Message{
		Text:      msg.Text,
		ParseMode: msg.Opt.ParseMode,
		Actions:   []delivery.Action{toggle, {Label: "🔄 새로고침", Data: delivery.ActionRefresh}},
	}
}
