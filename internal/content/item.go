package content

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNoContent reports that a fetch produced nothing usable.
var ErrNoContent = errors.New("content: no items")

type Polarity string

const (
	Positive Polarity = "positive"
	Negative Polarity = "negative"
	Neutral  Polarity = "neutral"
)

// Item is one news entry. It is not mutated after fetch.
type Item struct {
	Title       string
	Polarity    Polarity
	DisplayTime string // "HH:MM"
	URL         string
	Source      string
	PublishedAt time.Time
}

// Fingerprint identifies an item by title and display time.
// Identical title+time pairs always collide; hash collisions are accepted.
func Fingerprint(it Item) string {
	sum := md5.Sum([]byte(it.Title + it.DisplayTime))
	return hex.EncodeToString(sum[:])
}

// Source fetches the most recent items, newest first.
type Source interface {
	FetchLatest(ctx context.Context, limit int) ([]Item, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, limit int) ([]Item, error)

func (f SourceFunc) FetchLatest(ctx context.Context, limit int) ([]Item, error) {
	return f(ctx, limit)
}

// Fetch calls src with a per-call timeout. An empty result is reported as ErrNoContent.
func Fetch(ctx context.Context, src Source, limit int, timeout time.Duration) ([]Item, error) {
	if src == nil {
		return nil, ErrNoContent
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	items, err := src.FetchLatest(ctx, limit)
	if err != nil {
		return nil, errors.Join(ErrNoContent, err)
	}
	if len(items) == 0 {
		return nil, ErrNoContent
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
