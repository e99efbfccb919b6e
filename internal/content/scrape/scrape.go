// Package scrape implements content.Source over HTML listing pages.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"

	"newsbot/internal/content"
)

const (
	defaultUserAgent   = "Mozilla/5.0 (compatible; newsbot/1.0)"
	defaultPerSelector = 5
	defaultMinTitle    = 10
	firstSeenCacheSize = 2048
)

type Config struct {
	Name      string
	URL       string
	Selectors []string // tried in order; the first one that yields items wins
	// PerSelector caps items taken from a single selector.
	PerSelector int
	// MinTitleRunes drops navigation links and other short anchors.
	MinTitleRunes int
	UserAgent     string
	Location      *time.Location
}

// Source scrapes anchors from a listing page.
//
// Listing pages carry no publish time, so an item's time is the moment its
// title was first seen. That keeps fingerprints stable across polls.
type Source struct {
	cfg       Config
	base      *url.URL
	client    *http.Client
	now       func() time.Time
	firstSeen *lru.Cache[string, time.Time]
}

func New(cfg Config, client *http.Client) (*Source, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("scrape: invalid url %q", cfg.URL)
	}
	if len(cfg.Selectors) == 0 {
		return nil, errors.New("scrape: at least one selector is required")
	}
	if cfg.PerSelector <= 0 {
		cfg.PerSelector = defaultPerSelector
	}
	if cfg.MinTitleRunes <= 0 {
		cfg.MinTitleRunes = defaultMinTitle
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Name == "" {
		cfg.Name = base.Host
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	cache, err := lru.New[string, time.Time](firstSeenCacheSize)
	if err != nil {
		return nil, err
	}
	return &Source{cfg: cfg, base: base, client: client, now: time.Now, firstSeen: cache}, nil
}

func (s *Source) FetchLatest(ctx context.Context, limit int) ([]content.Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape: %s returned %d", s.cfg.Name, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("scrape: parse %s: %w", s.cfg.Name, err)
	}

	var items []content.Item
	for _, sel := range s.cfg.Selectors {
		items = s.extract(doc, sel)
		if len(items) > 0 {
			break
		}
	}
	items = content.Merge(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Source) extract(doc *goquery.Document, selector string) []content.Item {
	var out []content.Item
	doc.Find(selector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if len(out) >= s.cfg.PerSelector {
			return false
		}
		title := strings.Join(strings.Fields(a.Text()), " ")
		href, ok := a.Attr("href")
		if !ok || utf8.RuneCountInString(title) < s.cfg.MinTitleRunes {
			return true
		}
		link, ok := s.resolve(href)
		if !ok {
			return true
		}
		out = append(out, content.NewItem(title, link, s.cfg.Name, s.seenAt(title), s.cfg.Location))
		return true
	})
	return out
}

func (s *Source) resolve(href string) (string, bool) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	u := s.base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}

func (s *Source) seenAt(title string) time.Time {
	key := content.NormalizeTitle(title)
	if at, ok := s.firstSeen.Get(key); ok {
		return at
	}
	at := s.now()
	s.firstSeen.Add(key, at)
	return at
}
