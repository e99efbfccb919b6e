package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"newsbot/internal/content"
	"newsbot/internal/eventbus"
	"newsbot/internal/subscriber"
	logx "newsbot/pkg/logx"
)

func New(cfg Config, reg Registry, src content.Source, out Deliverer, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg: cfg.withDefaults(),
		log: log,
		bus: bus,
		reg: reg,
		src: src,
		out: out,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[subscriber.TimeOfDay]cron.EntryID{},
		now:     time.Now,
	}
	// Wrapped once and shared by every entry, so the skip applies across times.
	s.job = cron.NewChain(cron.SkipIfStillRunning(cronLogger{log})).Then(cron.FuncJob(s.fire))
	return s
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg.withDefaults()

	if s.c == nil {
		return
	}
	if oldTZ != newTZ {
		s.restartLocked()
	}
}

// Start registers the daily entries and starts triggering.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		s.log.Warn("start requested while running")
		return ErrAlreadyRunning
	}
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.syncEntriesLocked()
	s.c.Start()
	s.log.Info("service started",
		logx.String("tz", loc.String()),
		logx.Int("schedules", len(s.entries)),
		logx.String("policy", s.cfg.DispatchPolicy),
	)
	return nil
}

// Stop removes all entries and waits for an in-flight dispatch, bounded by ctx.
// A dispatch still running when ctx ends is cancelled.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.entries = map[subscriber.TimeOfDay]cron.EntryID{}
	s.mu.Unlock()

	if c == nil {
		return
	}
	c.Stop()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("dispatch still running at stop deadline; cancelling")
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Resync reconciles cron entries with the registry's current times.
func (s *Service) Resync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	s.syncEntriesLocked()
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

func (s *Service) desiredTimes() []subscriber.TimeOfDay {
	var ts []subscriber.TimeOfDay
	if s.reg != nil {
		ts = s.reg.Times()
	}
	return subscriber.NormalizeTimes(append(ts, subscriber.DefaultTimes()...))
}

// syncEntriesLocked adds missing daily entries and removes stale ones. Call with s.mu held.
func (s *Service) syncEntriesLocked() {
	want := map[subscriber.TimeOfDay]bool{}
	added, removed := 0, 0
	for _, t := range s.desiredTimes() {
		want[t] = true
		if _, ok := s.entries[t]; ok {
			continue
		}
		spec := dailySpec(t)
		id, err := s.c.AddJob(spec, s.job)
		if err != nil {
			s.log.Error("schedule register failed", logx.String("at", t.String()), logx.String("spec", spec), logx.Err(err))
			continue
		}
		s.entries[t] = id
		added++
		if next := s.previewNextRunsLocked(spec, 2); next != "" {
			s.log.Trace("schedule registered", logx.String("at", t.String()), logx.String("next", next))
		}
	}
	for t, id := range s.entries {
		if !want[t] {
			s.c.Remove(id)
			delete(s.entries, t)
			removed++
		}
	}
	if added > 0 || removed > 0 {
		s.log.Debug("schedules synced", logx.Int("added", added), logx.Int("removed", removed), logx.Int("total", len(s.entries)))
	}
}

func (s *Service) restartLocked() {
	if s.c != nil {
		s.c.Stop()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.entries = map[subscriber.TimeOfDay]cron.EntryID{}
	s.syncEntriesLocked()
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", loc.String()), logx.Int("schedules", len(s.entries)))
}

// fire is the shared cron job.
func (s *Service) fire() {
	s.mu.Lock()
	ctx := s.runCtx
	loc := s.loc
	running := s.c != nil
	if running {
		s.inflight.Add(1)
	}
	s.mu.Unlock()
	if !running || ctx == nil {
		return
	}
	defer s.inflight.Done()

	if loc == nil {
		loc = time.Local
	}
	_, _ = s.Dispatch(ctx, s.now().In(loc))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewNextRunsLocked returns a short list of upcoming run times for spec.
// Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelTrace) || n <= 0 {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := s.now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04"))
	}
	return b.String()
}

func dailySpec(t subscriber.TimeOfDay) string {
	return fmt.Sprintf("%d %d * * *", t.Minute, t.Hour)
}
