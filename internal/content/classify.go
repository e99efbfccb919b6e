package content

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var positiveKeywords = []string{
	"상승", "급등", "호재", "성장", "증가", "확대", "개선", "호조",
	"플러스", "상향", "돌파", "신고가", "최고", "강세", "반등",
	"급증", "폭등", "수익", "성과", "흑자", "실적", "성공",
	"surge", "rally", "gain", "record high", "beat", "upgrade", "growth", "rebound",
}

var negativeKeywords = []string{
	"하락", "급락", "악재", "감소", "하향", "위험", "부진", "약세",
	"마이너스", "손실", "적자", "하락세", "폭락", "최저", "부정적",
	"우려", "불안", "리스크", "문제", "지연", "취소",
	"plunge", "slump", "loss", "downgrade", "miss", "risk", "decline", "selloff",
}

// Classify scores a title by keyword hits. Ties are neutral.
func Classify(title string) Polarity {
	t := strings.ToLower(title)
	pos := countHits(t, positiveKeywords)
	neg := countHits(t, negativeKeywords)
	switch {
	case pos > neg:
		return Positive
	case neg > pos:
		return Negative
	default:
		return Neutral
	}
}

func countHits(s string, words []string) int {
	n := 0
	for _, w := range words {
		if hasKeyword(s, w) {
			n++
		}
	}
	return n
}

// hasKeyword matches Hangul keywords anywhere, since particles attach to the
// stem. ASCII keywords must stand as whole words, with an optional plural s.
func hasKeyword(s, w string) bool {
	if !isASCII(w) {
		return strings.Contains(s, w)
	}
	for off := 0; ; {
		i := strings.Index(s[off:], w)
		if i < 0 {
			return false
		}
		start := off + i
		end := start + len(w)
		if end < len(s) && s[end] == 's' {
			if next, _ := utf8.DecodeRuneInString(s[end+1:]); end+1 == len(s) || !isWordRune(next) {
				end++
			}
		}
		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if (start == 0 || !isWordRune(before)) && (end == len(s) || !isWordRune(after)) {
			return true
		}
		off = start + 1
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
