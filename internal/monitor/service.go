package monitor

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"newsbot/internal/content"
	"newsbot/internal/delivery"
	"newsbot/internal/eventbus"
	"newsbot/internal/observability/metrics"
	rtsup "newsbot/internal/runtime/supervisor"
	logx "newsbot/pkg/logx"
)

const runKind = "urgent"

type Service struct {
	mu sync.Mutex

	cfg Config
	log logx.Logger
	bus eventbus.Bus

	reg Recipients
	src content.Source
	out Deliverer

	// seen is bounded by size and age. An evicted fingerprint can be reported again.
	seen          *expirable.LRU[string, struct{}]
	buffer        []content.Item
	lastBroadcast time.Time

	cycleMu sync.Mutex
	sup     *rtsup.Supervisor
	wake    chan struct{}
	now     func() time.Time
}

func New(cfg Config, reg Recipients, src content.Source, out Deliverer, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:  cfg,
		log:  log,
		bus:  bus,
		reg:  reg,
		src:  src,
		out:  out,
		seen: expirable.NewLRU[string, struct{}](cfg.SeenMax, nil, cfg.SeenTTL),
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates timing and threshold. A running loop picks up the new interval
// immediately. An out-of-range threshold is ignored with a warning.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	if err := ValidateThreshold(cfg.Threshold); err != nil {
		s.log.Warn("ignoring monitor threshold", logx.Err(err))
		cfg.Threshold = s.cfg.Threshold
	}
	if cfg.SeenMax != s.cfg.SeenMax {
		s.seen.Resize(cfg.SeenMax)
	}
	s.cfg = cfg
	s.mu.Unlock()
	s.poke()
}

// SetThreshold changes the broadcast threshold. n must be within 1..10.
func (s *Service) SetThreshold(n int) error {
	if err := ValidateThreshold(n); err != nil {
		return err
	}
	s.mu.Lock()
	old := s.cfg.Threshold
	s.cfg.Threshold = n
	s.mu.Unlock()
	s.log.Info("threshold changed", logx.Int("from", old), logx.Int("to", n))
	return nil
}

// Start seeds the seen-set with one fetch and starts the polling loop.
// A failed seed fetch leaves the seen-set empty.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		s.log.Warn("start requested while running")
		return ErrAlreadyRunning
	}
	cfg := s.cfg
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
		rtsup.WithRestartHook(metrics.RecordRestart),
	)
	s.sup = sup
	s.mu.Unlock()

	seeded := s.seed(ctx, cfg)
	s.log.Info("monitor started",
		logx.Int("seeded", seeded),
		logx.Duration("interval", cfg.Interval),
		logx.Int("threshold", cfg.Threshold),
		logx.Duration("min_interval", cfg.MinInterval),
	)

	sup.GoRestart("monitor.loop", s.loop,
		rtsup.WithRestartBackoff(time.Second, cfg.ErrorBackoff),
		rtsup.WithPublishFirstError(false),
	)
	return nil
}

// Stop cancels the loop and waits for it, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("monitor stopped")
	return err
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup != nil
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Running:     s.sup != nil,
		Interval:    s.cfg.Interval,
		Threshold:   s.cfg.Threshold,
		MinInterval: s.cfg.MinInterval,
		SeenCount:   s.seen.Len(),
		BufferCount: len(s.buffer),
	}
	if !s.lastBroadcast.IsZero() {
		lb := s.lastBroadcast
		st.LastBroadcast = &lb
	}
	return st
}

func (s *Service) seed(ctx context.Context, cfg Config) int {
	items, err := content.Fetch(ctx, s.src, cfg.SeedSize, cfg.FetchTimeout)
	if err != nil {
		s.log.Warn("seed fetch returned nothing", logx.Err(err))
		return 0
	}
	s.mu.Lock()
	for _, it := range items {
		s.seen.Add(content.Fingerprint(it), struct{}{})
	}
	s.buffer = nil
	metrics.SetMonitorState(s.seen.Len(), 0)
	s.mu.Unlock()
	return len(items)
}

// loop polls right away, then every Interval. A wake-up from Apply
// re-arms the timer against the last poll, so reloads never postpone it.
func (s *Service) loop(ctx context.Context) error {
	var last time.Time
	wait := time.Duration(0)
	for {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-s.wake:
			t.Stop()
			wait = max(0, time.Until(last.Add(s.interval())))
			continue
		case <-t.C:
		}

		last = time.Now()
		wait = s.interval()
		n, err := s.Cycle(ctx)
		switch {
		case err == nil:
			s.log.Debug("monitor cycle", logx.Int("new", n))
		case errors.Is(err, content.ErrNoContent):
			s.log.Debug("monitor cycle found no content")
		case ctx.Err() != nil:
			return nil
		default:
			s.log.Warn("monitor cycle failed", logx.Err(err))
			wait = s.errorBackoff()
		}
	}
}

// Cycle polls once, records novel fingerprints and buffers the new items.
// It triggers Broadcast when the buffer reaches the threshold.
// An empty or failed fetch changes nothing.
func (s *Service) Cycle(ctx context.Context) (int, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	items, err := content.Fetch(ctx, s.src, cfg.PollSize, cfg.FetchTimeout)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	fresh := 0
	for _, it := range items {
		fp := content.Fingerprint(it)
		if s.seen.Contains(fp) {
			continue
		}
		s.seen.Add(fp, struct{}{})
		s.buffer = append(s.buffer, it)
		fresh++
	}
	buffered := len(s.buffer)
	threshold := s.cfg.Threshold
	metrics.SetMonitorState(s.seen.Len(), buffered)
	s.mu.Unlock()

	metrics.MonitorNewItems.Add(float64(fresh))
	if fresh > 0 {
		s.log.Info("new items detected", logx.Int("new", fresh), logx.Int("buffered", buffered), logx.Int("threshold", threshold))
	}
	if buffered >= threshold {
		s.Broadcast(ctx)
	}
	return fresh, nil
}

// Broadcast delivers the oldest buffered items as an urgent alert.
//
// It is debounced by MinInterval since the last broadcast, keeping the buffer.
// With no enabled subscribers the buffer is dropped and the last broadcast
// time is left alone. Otherwise up to MaxItems are sent and the whole buffer
// is cleared whatever the delivery outcome.
func (s *Service) Broadcast(ctx context.Context) (Outcome, delivery.Result) {
	s.mu.Lock()
	now := s.now()
	cfg := s.cfg
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return OutcomeEmpty, delivery.Result{}
	}
	if !s.lastBroadcast.IsZero() && now.Sub(s.lastBroadcast) < cfg.MinInterval {
		remaining := cfg.MinInterval - now.Sub(s.lastBroadcast)
		buffered := len(s.buffer)
		s.mu.Unlock()
		s.log.Info("broadcast debounced", logx.Int("buffered", buffered), logx.Duration("remaining", remaining))
		metrics.RecordRun(runKind, string(OutcomeDebounced))
		return OutcomeDebounced, delivery.Result{}
	}

	recipients := s.reg.ListEnabled()
	if len(recipients) == 0 {
		dropped := len(s.buffer)
		s.buffer = nil
		metrics.SetMonitorState(s.seen.Len(), 0)
		s.mu.Unlock()
		s.log.Info("no subscribers; buffer dropped", logx.Int("dropped", dropped))
		metrics.RecordRun(runKind, string(OutcomeNoSubscribers))
		return OutcomeNoSubscribers, delivery.Result{}
	}

	items := slices.Clone(s.buffer[:min(cfg.MaxItems, len(s.buffer))])
	s.buffer = nil
	s.lastBroadcast = now
	metrics.SetMonitorState(s.seen.Len(), 0)
	s.mu.Unlock()

	runID := uuid.NewString()
	start := time.Now()
	res := s.out.Deliver(ctx, delivery.KindUrgent, recipients, items)
	metrics.RecordRun(runKind, string(OutcomeDelivered))
	s.log.Info("urgent broadcast done",
		logx.String("run_id", runID),
		logx.Int("items", len(items)),
		logx.Int("sent", res.Sent),
		logx.Int("total", res.Total),
		logx.Int("failed", res.Failed),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeMonitorBroadcast, Data: eventbus.Delivery{
			RunID:  runID,
			Kind:   string(delivery.KindUrgent),
			Items:  len(items),
			Total:  res.Total,
			Sent:   res.Sent,
			Failed: res.Failed,
			Took:   time.Since(start),
		}})
	}
	return OutcomeDelivered, res
}

func (s *Service) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Interval
}

func (s *Service) errorBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.ErrorBackoff
}

func (s *Service) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
