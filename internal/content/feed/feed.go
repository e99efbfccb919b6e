// Package feed implements content.Source over RSS and Atom feeds.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mmcdole/gofeed"

	"newsbot/internal/content"
)

type Config struct {
	Name      string
	URL       string
	UserAgent string
	Location  *time.Location
}

const firstSeenCacheSize = 2048

// Source parses one feed URL per fetch.
//
// Items without a published or updated date take the time they were first
// seen, so their fingerprint stays stable across polls.
type Source struct {
	cfg       Config
	base      *url.URL
	client    *http.Client
	now       func() time.Time
	firstSeen *lru.Cache[string, time.Time]
}

func New(cfg Config, client *http.Client) (*Source, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("feed: url is required")
	}
	base, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("feed: invalid url %q: %w", cfg.URL, err)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Name == "" {
		cfg.Name = cfg.URL
	}
	cache, err := lru.New[string, time.Time](firstSeenCacheSize)
	if err != nil {
		return nil, err
	}
	return &Source{cfg: cfg, base: base, client: client, now: time.Now, firstSeen: cache}, nil
}

func (s *Source) FetchLatest(ctx context.Context, limit int) ([]content.Item, error) {
	fp := gofeed.NewParser()
	fp.Client = s.client
	if s.cfg.UserAgent != "" {
		fp.UserAgent = s.cfg.UserAgent
	}
	f, err := fp.ParseURLWithContext(s.cfg.URL, ctx)
	if err != nil {
		return nil, err
	}

	base := s.base
	if fl, err := url.Parse(strings.TrimSpace(f.Link)); err == nil && fl.IsAbs() {
		base = fl
	}

	items := make([]content.Item, 0, len(f.Items))
	for _, it := range f.Items {
		if it == nil || strings.TrimSpace(it.Title) == "" {
			continue
		}
		link := resolve(base, it.Link)
		items = append(items, content.NewItem(it.Title, link, s.cfg.Name, s.published(it, link), s.cfg.Location))
	}
	items = content.Merge(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Source) published(it *gofeed.Item, link string) time.Time {
	switch {
	case it.PublishedParsed != nil:
		return *it.PublishedParsed
	case it.UpdatedParsed != nil:
		return *it.UpdatedParsed
	}
	key := strings.TrimSpace(it.GUID)
	if key == "" {
		key = link
	}
	if key == "" {
		key = content.NormalizeTitle(it.Title)
	}
	if at, ok := s.firstSeen.Get(key); ok {
		return at
	}
	at := s.now()
	s.firstSeen.Add(key, at)
	return at
}

// resolve makes href absolute against base. Links that are not http(s) are
// dropped since Telegram rejects the whole message for one bad button URL.
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
