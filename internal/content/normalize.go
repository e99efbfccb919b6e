package content

import (
	"sort"
	"strings"
	"time"
	"unicode"
)

// MaxTitleRunes bounds item titles.
const MaxTitleRunes = 80

// TrimTitle collapses whitespace and cuts the title to MaxTitleRunes.
func TrimTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > MaxTitleRunes {
		return strings.TrimSpace(string(r[:MaxTitleRunes]))
	}
	return s
}

// NormalizeTitle lowercases and strips punctuation for duplicate detection.
func NormalizeTitle(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NewItem builds an Item from raw source fields, filling polarity and display time.
func NewItem(title, url, source string, published time.Time, loc *time.Location) Item {
	if loc == nil {
		loc = time.Local
	}
	title = TrimTitle(title)
	return Item{
		Title:       title,
		Polarity:    Classify(title),
		DisplayTime: published.In(loc).Format("15:04"),
		URL:         strings.TrimSpace(url),
		Source:      source,
		PublishedAt: published,
	}
}

// Merge orders items newest first (stable for equal times) and drops repeats of
// the same normalized title, keeping the first occurrence.
func Merge(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })

	seen := make(map[string]struct{}, len(out))
	uniq := out[:0]
	for _, it := range out {
		key := NormalizeTitle(it.Title)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		uniq = append(uniq, it)
	}
	return uniq
}
