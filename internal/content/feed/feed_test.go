package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsbot/internal/content"
)

const rss = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Markets</title>
<item><title>코스피 급등 마감</title><link>https://example.com/a</link><pubDate>Mon, 02 Mar 2026 01:30:00 GMT</pubDate></item>
<item><title>환율 불안 지속</title><link>https://example.com/b</link><pubDate>Mon, 02 Mar 2026 02:45:00 GMT</pubDate></item>
<item><title>  </title><link>https://example.com/empty</link></item>
<item><title>코스피 급등 마감!</title><link>https://example.com/dup</link><pubDate>Mon, 02 Mar 2026 00:10:00 GMT</pubDate></item>
</channel></rss>`

func TestFetchLatestParsesRSS(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rss))
	}))
	defer srv.Close()

	src, err := New(Config{Name: "markets", URL: srv.URL, Location: time.UTC}, srv.Client())
	require.NoError(t, err)

	items, err := src.FetchLatest(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "환율 불안 지속", items[0].Title)
	assert.Equal(t, content.Negative, items[0].Polarity)
	assert.Equal(t, "02:45", items[0].DisplayTime)
	assert.Equal(t, "markets", items[0].Source)

	assert.Equal(t, "코스피 급등 마감", items[1].Title)
	assert.Equal(t, content.Positive, items[1].Polarity)
	assert.Equal(t, "https://example.com/a", items[1].URL)
}

func TestFetchLatestLimitsAndFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(rss))
	}))
	defer srv.Close()

	src, err := New(Config{URL: srv.URL}, srv.Client())
	require.NoError(t, err)
	items, err := src.FetchLatest(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer broken.Close()
	src, err = New(Config{URL: broken.URL}, broken.Client())
	require.NoError(t, err)
	_, err = src.FetchLatest(context.Background(), 5)
	assert.Error(t, err)

	_, err = New(Config{}, nil)
	assert.Error(t, err)
}

const datelessRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Markets</title><link>https://news.example.com/</link>
<item><title>반도체 수출 석달째 증가</title><link>/news/1</link></item>
<item><title>외국인 순매도 전환 우려</title><link>javascript:void(0)</link><guid>g-2</guid></item>
</channel></rss>`

func TestDatelessItemsKeepFirstSeenTime(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(datelessRSS))
	}))
	defer srv.Close()

	src, err := New(Config{Name: "markets", URL: srv.URL, Location: time.UTC}, srv.Client())
	require.NoError(t, err)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return now }

	first, err := src.FetchLatest(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, first, 2)

	now = now.Add(5 * time.Minute)
	second, err := src.FetchLatest(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, second, 2)

	for i := range first {
		assert.Equal(t, "10:00", second[i].DisplayTime)
		assert.Equal(t, content.Fingerprint(first[i]), content.Fingerprint(second[i]))
	}
}

func TestLinksResolvedAgainstFeedAndUnsafeDropped(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(datelessRSS))
	}))
	defer srv.Close()

	src, err := New(Config{URL: srv.URL, Location: time.UTC}, srv.Client())
	require.NoError(t, err)
	items, err := src.FetchLatest(context.Background(), 5)
	require.NoError(t, err)

	urls := map[string]string{}
	for _, it := range items {
		urls[it.Title] = it.URL
	}
	assert.Equal(t, "https://news.example.com/news/1", urls["반도체 수출 석달째 증가"])
	assert.Empty(t, urls["외국인 순매도 전환 우려"])
}

func TestResolve(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://feeds.example.com/rss/finance.xml")
	require.NoError(t, err)

	tests := []struct {
		href, want string
	}{
		{"https://other.example.com/a", "https://other.example.com/a"},
		{"/news/9", "https://feeds.example.com/news/9"},
		{"item?id=3", "https://feeds.example.com/rss/item?id=3"},
		{"mailto:desk@example.com", ""},
		{"", ""},
	}
	for _, tc := range tests {
		t.Run(tc.href, func(t *testing.T) {
			assert.Equal(t, tc.want, resolve(base, tc.href))
		})
	}
}
