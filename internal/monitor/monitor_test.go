package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsbot/internal/content"
	"newsbot/internal/delivery"
	"newsbot/internal/eventbus"
	"newsbot/internal/subscriber"
	logx "newsbot/pkg/logx"
)

// scriptSource returns the next batch on each call and repeats the last one.
type scriptSource struct {
	mu      sync.Mutex
	batches [][]content.Item
	calls   int
}

func (s *scriptSource) FetchLatest(context.Context, int) ([]content.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.batches) == 0 {
		return nil, nil
	}
	b := s.batches[0]
	if len(s.batches) > 1 {
		s.batches = s.batches[1:]
	}
	return b, nil
}

func (s *scriptSource) push(b ...[]content.Item) {
	s.mu.Lock()
	s.batches = append(s.batches, b...)
	s.mu.Unlock()
}

type sink struct {
	mu    sync.Mutex
	calls []sinkCall
}

type sinkCall struct {
	kind  delivery.Kind
	to    []int64
	items []content.Item
}

func (s *sink) Deliver(_ context.Context, kind delivery.Kind, to []int64, items []content.Item) delivery.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{kind: kind, to: to, items: items})
	return delivery.Result{Total: len(to), Sent: len(to)}
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func batch(prefix string, n int) []content.Item {
	out := make([]content.Item, n)
	for i := range out {
		out[i] = content.Item{Title: fmt.Sprintf("%s-%d", prefix, i), DisplayTime: "10:00"}
	}
	return out
}

type fixture struct {
	svc   *Service
	src   *scriptSource
	out   *sink
	reg   *subscriber.Registry
	clock time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		src:   &scriptSource{},
		out:   &sink{},
		reg:   subscriber.NewRegistry(),
		clock: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	f.svc = New(cfg, f.reg, f.src, f.out, logx.Nop(), nil)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func TestSetThresholdValidates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	for _, n := range []int{0, -1, 11} {
		assert.ErrorIs(t, f.svc.SetThreshold(n), ErrInvalidThreshold, "n=%d", n)
	}
	assert.Equal(t, 3, f.svc.Status().Threshold)

	require.NoError(t, f.svc.SetThreshold(1))
	require.NoError(t, f.svc.SetThreshold(10))
	assert.Equal(t, 10, f.svc.Status().Threshold)
}

func TestStartSeedsSeenSet(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	f.reg.Register(1)
	seed := batch("seed", 4)
	f.src.push(seed)

	require.NoError(t, f.svc.Start(context.Background()))
	t.Cleanup(func() { _ = f.svc.Stop(context.Background()) })
	require.ErrorIs(t, f.svc.Start(context.Background()), ErrAlreadyRunning)

	st := f.svc.Status()
	assert.True(t, st.Running)
	assert.Equal(t, 4, st.SeenCount)
	assert.Zero(t, st.BufferCount)
	assert.Nil(t, st.LastBroadcast)

	n, err := f.svc.Cycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "seeded items are not novel")
	assert.Zero(t, f.out.count())
}

func TestCycleBuffersUntilThresholdThenBroadcasts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	f.reg.Register(7)
	f.src.push(batch("a", 2), batch("b", 6))

	n, err := f.svc.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, f.svc.Status().BufferCount)
	assert.Zero(t, f.out.count())

	n, err = f.svc.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	require.Equal(t, 1, f.out.count())
	call := f.out.calls[0]
	assert.Equal(t, delivery.KindUrgent, call.kind)
	assert.Equal(t, []int64{7}, call.to)
	require.Len(t, call.items, 5, "at most five items per broadcast")
	assert.Equal(t, "a-0", call.items[0].Title, "oldest first")
	assert.Equal(t, "b-2", call.items[4].Title)

	st := f.svc.Status()
	assert.Zero(t, st.BufferCount, "entire buffer is cleared")
	require.NotNil(t, st.LastBroadcast)
	assert.Equal(t, f.clock, *st.LastBroadcast)
}

func TestBroadcastDebounceKeepsBuffer(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	f.reg.Register(7)
	f.src.push(batch("a", 3), batch("b", 3))

	_, err := f.svc.Cycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, f.out.count())

	f.clock = f.clock.Add(5 * time.Minute)
	_, err = f.svc.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.out.count(), "debounced")
	assert.Equal(t, 3, f.svc.Status().BufferCount)

	outcome, _ := f.svc.Broadcast(context.Background())
	assert.Equal(t, OutcomeDebounced, outcome)

	f.clock = f.clock.Add(6 * time.Minute)
	outcome, res := f.svc.Broadcast(context.Background())
	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Equal(t, 1, res.Sent)
	assert.Zero(t, f.svc.Status().BufferCount)
}

func TestBroadcastWithoutSubscribersDropsBuffer(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	f.src.push(batch("a", 4))

	_, err := f.svc.Cycle(context.Background())
	require.NoError(t, err)

	st := f.svc.Status()
	assert.Zero(t, st.BufferCount)
	assert.Nil(t, st.LastBroadcast, "last broadcast is untouched")
	assert.Equal(t, 4, st.SeenCount)
	assert.Zero(t, f.out.count())

	outcome, _ := f.svc.Broadcast(context.Background())
	assert.Equal(t, OutcomeEmpty, outcome)
}

func TestCycleEmptyFetchChangesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	n, err := f.svc.Cycle(context.Background())
	assert.ErrorIs(t, err, content.ErrNoContent)
	assert.Zero(t, n)
	assert.Equal(t, Status{Interval: 300 * time.Second, Threshold: 3, MinInterval: 600 * time.Second}, f.svc.Status())
}

func TestSeenSetIsBounded(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SeenMax = 2
	cfg.Threshold = 10
	f := newFixture(t, cfg)
	first := batch("x", 1)
	f.src.push(first, batch("y", 2), first)

	_, _ = f.svc.Cycle(context.Background())
	_, _ = f.svc.Cycle(context.Background())
	assert.Equal(t, 2, f.svc.Status().SeenCount)

	n, err := f.svc.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "evicted fingerprint is novel again")
}

func TestLoopPollsAndPublishes(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.Threshold = 1
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	src := &scriptSource{}
	out := &sink{}
	reg := subscriber.NewRegistry()
	reg.Register(3)
	svc := New(cfg, reg, src, out, logx.Nop(), bus)

	src.push(batch("seed", 1), batch("fresh", 2))
	require.NoError(t, svc.Start(context.Background()))

	require.Eventually(t, func() bool { return out.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	select {
	case ev := <-events:
		assert.Equal(t, eventbus.TypeMonitorBroadcast, ev.Type)
		d := ev.Data.(eventbus.Delivery)
		assert.Equal(t, 2, d.Items)
	case <-time.After(time.Second):
		t.Fatal("no broadcast event")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))
	assert.False(t, svc.Running())
}

func TestApplyKeepsValidThreshold(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	cfg := DefaultConfig()
	cfg.Threshold = 42
	cfg.Interval = time.Minute
	f.svc.Apply(cfg)

	st := f.svc.Status()
	assert.Equal(t, 3, st.Threshold)
	assert.Equal(t, time.Minute, st.Interval)
}

func TestCycleBroadcastsExactlyAtThreshold(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	f.reg.Register(7)
	f.src.push(batch("a", 2), batch("b", 1))

	_, err := f.svc.Cycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.out.count(), "two items stay below the threshold")

	n, err := f.svc.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Equal(t, 1, f.out.count())
	assert.Len(t, f.out.calls[0].items, 3)
	assert.Zero(t, f.svc.Status().BufferCount)

	_, err = f.svc.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.out.count(), "repeated batch is not novel")
}

func TestFirstBroadcastSendsWholeBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	f.reg.Register(7)
	f.src.push(batch("a", 4))

	n, err := f.svc.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.Equal(t, 1, f.out.count())
	assert.Len(t, f.out.calls[0].items, 4)
	st := f.svc.Status()
	assert.Zero(t, st.BufferCount)
	require.NotNil(t, st.LastBroadcast)
}

func TestLoopPollsRightAfterSeed(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	cfg.Threshold = 1
	src := &scriptSource{}
	out := &sink{}
	reg := subscriber.NewRegistry()
	reg.Register(3)
	svc := New(cfg, reg, src, out, logx.Nop(), nil)

	src.push(batch("seed", 1), batch("fresh", 1))
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })

	require.Eventually(t, func() bool { return out.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestApplyDoesNotPostponePolling(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Interval = 40 * time.Millisecond
	src := &scriptSource{}
	svc := New(cfg, subscriber.NewRegistry(), src, &sink{}, logx.Nop(), nil)
	src.push(batch("seed", 1))
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick := time.NewTicker(5 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				svc.Apply(cfg)
			}
		}
	}()
	defer func() {
		close(stop)
		<-done
	}()

	calls := func() int {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.calls
	}
	// seed + immediate poll + at least two interval polls while Apply keeps poking
	require.Eventually(t, func() bool { return calls() >= 4 }, 2*time.Second, 5*time.Millisecond)
}
