package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsbot/internal/config"
	"newsbot/internal/content"
	"newsbot/internal/control"
	"newsbot/internal/delivery"
	"newsbot/internal/eventbus"
	"newsbot/internal/monitor"
	"newsbot/internal/storage"
	"newsbot/internal/subscriber"
	"newsbot/internal/task/scheduler"
	kit "newsbot/internal/transport"
	"newsbot/internal/transport/telegram/router"
	logx "newsbot/pkg/logx"
)

func TestMapMonitorConfigDefaultsAndOverrides(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	mc, err := mapMonitorConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, mc.Interval)
	assert.Equal(t, 3, mc.Threshold)
	assert.Equal(t, 600*time.Second, mc.MinInterval)
	assert.Equal(t, 10*time.Second, mc.FetchTimeout)

	cfg.Monitor = config.MonitorConfig{Enabled: true, Interval: "1m", Threshold: 7, MinInterval: "0s"}
	cfg.News.FetchTimeout = "4s"
	mc, err = mapMonitorConfig(cfg)
	require.NoError(t, err)
	assert.True(t, mc.Enabled)
	assert.Equal(t, time.Minute, mc.Interval)
	assert.Equal(t, 7, mc.Threshold)
	assert.Zero(t, mc.MinInterval)
	assert.Equal(t, 4*time.Second, mc.FetchTimeout)

	cfg.Monitor.Threshold = 11
	_, err = mapMonitorConfig(cfg)
	assert.ErrorIs(t, err, monitor.ErrInvalidThreshold)

	cfg.Monitor.Threshold = 3
	cfg.Monitor.Interval = "soon"
	_, err = mapMonitorConfig(cfg)
	assert.Error(t, err)
}

func TestMapSchedulerConfig(t *testing.T) {
	t.Parallel()

	sc, err := mapSchedulerConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultTimezone, sc.Timezone)
	assert.Equal(t, scheduler.DefaultBatchSize, sc.BatchSize)
	assert.Equal(t, scheduler.DefaultFetchTimeout, sc.FetchTimeout)

	sc, err = mapSchedulerConfig(&config.Config{
		News:      config.NewsConfig{Limit: 8},
		Scheduler: config.SchedulerConfig{Enabled: true, Timezone: "UTC", DispatchPolicy: scheduler.PolicyFilterByTime},
	})
	require.NoError(t, err)
	assert.True(t, sc.Enabled)
	assert.Equal(t, "UTC", sc.Timezone)
	assert.Equal(t, 8, sc.BatchSize)
	assert.Equal(t, scheduler.PolicyFilterByTime, sc.DispatchPolicy)
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	_, enabled, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, enabled)

	_, enabled, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "none"}})
	require.NoError(t, err)
	assert.False(t, enabled)

	sc, enabled, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: "bot.db"}})
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "file"}})
	assert.Error(t, err)

	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "redis", Path: "x"}})
	assert.Error(t, err)
}

func TestLoadLocationPrefersNewsTimezone(t *testing.T) {
	t.Parallel()

	loc, err := loadLocation(&config.Config{
		News:      config.NewsConfig{Timezone: "UTC"},
		Scheduler: config.SchedulerConfig{Timezone: "Asia/Tokyo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	loc, err = loadLocation(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultTimezone, loc.String())

	_, err = loadLocation(&config.Config{News: config.NewsConfig{Timezone: "Mars/Base"}})
	assert.Error(t, err)
}

func TestLogTarget(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	_, _, ok := logTarget(cfg)
	assert.False(t, ok)

	cfg.Telegram.GroupLog = " -100123 "
	cfg.Logging.Telegram.ThreadID = 7
	chat, thread, ok := logTarget(cfg)
	require.True(t, ok)
	assert.Equal(t, int64(-100123), chat)
	assert.Equal(t, 7, thread)

	cfg.Telegram.GroupLog = "ops-group"
	_, _, ok = logTarget(cfg)
	assert.False(t, ok)
}

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Markets</title>
<item><title>코스피 상승 출발 외국인 순매수</title><link>https://example.com/a</link><pubDate>Mon, 02 Mar 2026 01:30:00 GMT</pubDate></item>
</channel></rss>`

func TestBuildSourcesSkipsDisabledAndFetches(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(testRSS))
	}))
	defer srv.Close()

	cfg := &config.Config{News: config.NewsConfig{Sources: []config.SourceConfig{
		{Name: "markets", Type: config.SourceRSS, URL: srv.URL},
		{Name: "off", Type: config.SourceHTML, URL: srv.URL, Selectors: []string{"a"}, Disabled: true},
	}}}
	multi, err := buildSources(cfg, time.UTC, srv.Client(), logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, multi.Len())

	items, err := newLiveSource(multi).FetchLatest(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "markets", items[0].Source)
}

func TestBuildSourcesRejectsEmptyAndUnknown(t *testing.T) {
	t.Parallel()

	_, err := buildSources(&config.Config{}, time.UTC, nil, logx.Nop())
	assert.Error(t, err)

	_, err = buildSources(&config.Config{News: config.NewsConfig{Sources: []config.SourceConfig{
		{Name: "x", Type: "json", URL: "https://example.com"},
	}}}, time.UTC, nil, logx.Nop())
	assert.Error(t, err)
}

func TestLiveSourceSwap(t *testing.T) {
	t.Parallel()

	one := content.SourceFunc(func(context.Context, int) ([]content.Item, error) {
		return []content.Item{{Title: "one"}}, nil
	})
	two := content.SourceFunc(func(context.Context, int) ([]content.Item, error) {
		return []content.Item{{Title: "two"}}, nil
	})
	l := newLiveSource(one)
	items, err := l.FetchLatest(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "one", items[0].Title)

	l.Swap(two)
	items, err = l.FetchLatest(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "two", items[0].Title)

	_, err = (&liveSource{}).FetchLatest(context.Background(), 1)
	assert.ErrorIs(t, err, content.ErrNoContent)
}

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sent
	edited  []kit.MessageRef
	editErr error
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, _ string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edited = append(f.edited, ref)
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].text
}

type fakeDispatcher struct {
	res delivery.Result
	err error
}

func (f fakeDispatcher) Dispatch(context.Context, time.Time) (delivery.Result, error) {
	return f.res, f.err
}

func newTestCommands(t *testing.T, src content.Source, d dispatcher) (*commandSet, *subscriber.Registry) {
	t.Helper()
	reg := subscriber.NewRegistry()
	mon := monitor.New(monitor.DefaultConfig(), reg, src, nil, logx.Nop(), nil)
	ctl := control.New(control.Config{NewsLimit: 3, Location: time.UTC}, reg, mon, src, delivery.NewFormatter(time.UTC), logx.Nop())
	return newCommandSet(ctl, d), reg
}

func commandByName(t *testing.T, cs *commandSet, name string) router.Command {
	t.Helper()
	for _, c := range cs.Commands() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("command %q not registered", name)
	return router.Command{}
}

func callbackByAction(t *testing.T, cs *commandSet, action string) router.CallbackRoute {
	t.Helper()
	for _, r := range cs.Callbacks() {
		if r.Action == action {
			return r
		}
	}
	t.Fatalf("callback %q not registered", action)
	return router.CallbackRoute{}
}

func newRequest(ad kit.Adapter, from int64, args ...string) *router.Request {
	return &router.Request{
		Chat:    kit.ChatTarget{ChatID: from},
		FromID:  from,
		Args:    args,
		Adapter: ad,
		Logger:  logx.Nop(),
	}
}

func TestCommandsRegisterAndToggle(t *testing.T) {
	t.Parallel()

	cs, reg := newTestCommands(t, nil, nil)
	ad := &fakeAdapter{}
	ctx := context.Background()

	require.NoError(t, commandByName(t, cs, "start").Handle(ctx, newRequest(ad, 42)))
	sub, ok := reg.Lookup(42)
	require.True(t, ok)
	assert.True(t, sub.Enabled)
	assert.Contains(t, ad.last(), "환영합니다")

	require.NoError(t, commandByName(t, cs, "notify_off").Handle(ctx, newRequest(ad, 42)))
	sub, _ = reg.Lookup(42)
	assert.False(t, sub.Enabled)

	require.NoError(t, commandByName(t, cs, "times").Handle(ctx, newRequest(ad, 42, "09:00,", "12:30")))
	sub, _ = reg.Lookup(42)
	assert.Equal(t, []subscriber.TimeOfDay{{Hour: 9}, {Hour: 12, Minute: 30}}, sub.Times)

	require.NoError(t, commandByName(t, cs, "unsubscribe").Handle(ctx, newRequest(ad, 42)))
	_, ok = reg.Lookup(42)
	assert.False(t, ok)
}

func TestThresholdCommandIsOwnerOnlyAndValidates(t *testing.T) {
	t.Parallel()

	cs, _ := newTestCommands(t, nil, nil)
	cmd := commandByName(t, cs, "threshold")
	assert.Equal(t, router.AccessOwnerOnly, cmd.Access)

	ad := &fakeAdapter{}
	require.NoError(t, cmd.Handle(context.Background(), newRequest(ad, 1, "11")))
	assert.Contains(t, ad.last(), "1~10")

	require.NoError(t, cmd.Handle(context.Background(), newRequest(ad, 1, "5")))
	assert.Contains(t, ad.last(), "5건")
}

func TestNewsCommandRepliesWithItems(t *testing.T) {
	t.Parallel()

	src := content.SourceFunc(func(context.Context, int) ([]content.Item, error) {
		return []content.Item{{Title: "반도체 수출 호조", DisplayTime: "10:00", URL: "https://example.com/x"}}, nil
	})
	cs, _ := newTestCommands(t, src, nil)
	ad := &fakeAdapter{}
	require.NoError(t, commandByName(t, cs, "news").Handle(context.Background(), newRequest(ad, 5)))
	assert.Contains(t, ad.last(), "반도체 수출 호조")
}

func TestDispatchCommandReportsResult(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	cs, _ := newTestCommands(t, nil, fakeDispatcher{res: delivery.Result{Total: 3, Sent: 2, Failed: 1}})
	require.NoError(t, commandByName(t, cs, "dispatch").Handle(context.Background(), newRequest(ad, 1)))
	assert.Contains(t, ad.last(), "정기 발송 완료")

	cs, _ = newTestCommands(t, nil, fakeDispatcher{err: content.ErrNoContent})
	require.NoError(t, commandByName(t, cs, "dispatch").Handle(context.Background(), newRequest(ad, 1)))
	assert.Contains(t, ad.last(), "발송할 뉴스가 없습니다")
}

func TestToggleCallbackEditsInPlace(t *testing.T) {
	t.Parallel()

	cs, reg := newTestCommands(t, nil, nil)
	reg.Register(9)
	ad := &fakeAdapter{}

	req := newRequest(ad, 9)
	req.Update = kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ChatID: 9, MessageID: 77}}
	require.NoError(t, callbackByAction(t, cs, delivery.ActionNotifyOff).Handle(context.Background(), req, ""))

	sub, _ := reg.Lookup(9)
	assert.False(t, sub.Enabled)
	require.Len(t, ad.edited, 1)
	assert.Equal(t, 77, ad.edited[0].MessageID)
	assert.Empty(t, ad.sent)

	ad.editErr = errors.New("message can't be edited")
	require.NoError(t, callbackByAction(t, cs, delivery.ActionNotifyOn).Handle(context.Background(), req, ""))
	sub, _ = reg.Lookup(9)
	assert.True(t, sub.Enabled)
	assert.Len(t, ad.sent, 1)
}

func TestCallbacksCoverCardActions(t *testing.T) {
	t.Parallel()

	cs, _ := newTestCommands(t, nil, nil)
	var actions []string
	for _, r := range cs.Callbacks() {
		actions = append(actions, r.Action)
	}
	assert.ElementsMatch(t, []string{
		delivery.ActionRefresh, delivery.ActionNotifySettings, delivery.ActionNotifyOn, delivery.ActionNotifyOff,
	}, actions)
}

type memAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (m *memAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) RecentAudit(context.Context, int) ([]storage.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.AuditEntry(nil), m.entries...), nil
}

func TestRunAuditRecordsDeliveries(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	store := &memAudit{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runAudit(ctx, events, store, logx.Nop())
	}()

	bus.Publish(eventbus.Event{Type: eventbus.TypeSubscribersChanged, Data: 3})
	bus.Publish(eventbus.Event{Type: eventbus.TypeMonitorBroadcast, Data: eventbus.Delivery{
		RunID: "r1", Kind: "urgent", Items: 3, Total: 2, Sent: 2, Took: 1500 * time.Millisecond,
	}})

	require.Eventually(t, func() bool {
		got, _ := store.RecentAudit(context.Background(), 10)
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)

	got, _ := store.RecentAudit(context.Background(), 10)
	assert.Equal(t, "r1", got[0].RunID)
	assert.Equal(t, "urgent", got[0].Kind)
	assert.Equal(t, int64(1500), got[0].TookMS)

	cancel()
	<-done
	unsub()
}

func TestBuildStatus(t *testing.T) {
	t.Parallel()

	next := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	v := buildStatus(4, 3,
		scheduler.Snapshot{Enabled: true, Running: true, Timezone: "UTC", Schedules: []scheduler.ScheduleInfo{{At: "09:30", Next: next}}},
		monitor.Status{Running: true, Interval: 5 * time.Minute, Threshold: 3, SeenCount: 12},
		nil,
	)
	assert.Equal(t, 4, v.Subscribers)
	assert.Equal(t, "5m0s", v.Monitor.Interval)
	require.Len(t, v.Scheduler.Schedules, 1)
	require.NotNil(t, v.Scheduler.Schedules[0].Next)
	assert.Nil(t, v.Scheduler.Schedules[0].Prev)
	assert.True(t, strings.HasPrefix(v.Scheduler.Schedules[0].At, "09"))
}
