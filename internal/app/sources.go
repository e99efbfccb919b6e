package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"newsbot/internal/config"
	"newsbot/internal/content"
	"newsbot/internal/content/feed"
	"newsbot/internal/content/scrape"
	logx "newsbot/pkg/logx"
)

const (
	defaultUserAgent   = "Mozilla/5.0 (compatible; newsbot/1.0)"
	defaultPerSelector = 10
	minTitleRunes      = 10
)

// buildSources turns news.sources into one merged, failure-tolerant source.
func buildSources(cfg *config.Config, loc *time.Location, client *http.Client, log logx.Logger) (*content.Multi, error) {
	if client == nil {
		client = &http.Client{}
	}
	ua := strings.TrimSpace(cfg.News.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}

	named := make([]content.Named, 0, len(cfg.News.Sources))
	for _, sc := range cfg.News.Sources {
		if sc.Disabled {
			continue
		}
		src, err := buildSource(sc, ua, loc, client)
		if err != nil {
			return nil, fmt.Errorf("news.sources[%s]: %w", sc.Name, err)
		}
		named = append(named, content.Named{Name: sc.Name, Source: content.Safe(sc.Name, src, log)})
	}
	if len(named) == 0 {
		return nil, fmt.Errorf("news.sources: no enabled source")
	}
	return content.NewMulti(mapNewsLimit(cfg), named...), nil
}

func buildSource(sc config.SourceConfig, ua string, loc *time.Location, client *http.Client) (content.Source, error) {
	switch strings.ToLower(strings.TrimSpace(sc.Type)) {
	case config.SourceRSS:
		return feed.New(feed.Config{Name: sc.Name, URL: sc.URL, UserAgent: ua, Location: loc}, client)
	case config.SourceHTML:
		per := sc.PerSelector
		if per <= 0 {
			per = defaultPerSelector
		}
		return scrape.New(scrape.Config{
			Name:          sc.Name,
			URL:           sc.URL,
			Selectors:     sc.Selectors,
			PerSelector:   per,
			MinTitleRunes: minTitleRunes,
			UserAgent:     ua,
			Location:      loc,
		}, client)
	default:
		return nil, fmt.Errorf("unknown source type %q", sc.Type)
	}
}

type sourceBox struct{ src content.Source }

// liveSource lets a config reload swap the underlying sources while the
// scheduler, monitor and control service keep their reference.
type liveSource struct {
	cur atomic.Pointer[sourceBox]
}

func newLiveSource(src content.Source) *liveSource {
	l := &liveSource{}
	l.Swap(src)
	return l
}

func (l *liveSource) Swap(src content.Source) {
	l.cur.Store(&sourceBox{src: src})
}

func (l *liveSource) FetchLatest(ctx context.Context, limit int) ([]content.Item, error) {
	b := l.cur.Load()
	if b == nil || b.src == nil {
		return nil, content.ErrNoContent
	}
	return b.src.FetchLatest(ctx, limit)
}
