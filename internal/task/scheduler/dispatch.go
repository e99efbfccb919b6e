package scheduler

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"newsbot/internal/content"
	"newsbot/internal/delivery"
	"newsbot/internal/eventbus"
	"newsbot/internal/observability/metrics"
	"newsbot/internal/subscriber"
	logx "newsbot/pkg/logx"
)

const runKind = "scheduled"

// Dispatch runs one scheduled delivery for a trigger at firedAt.
// The time slot is read in the scheduler's timezone. With no recipients nothing is fetched. A failed or empty fetch returns an
// error wrapping content.ErrNoContent and sends nothing.
func (s *Service) Dispatch(ctx context.Context, firedAt time.Time) (delivery.Result, error) {
	s.mu.Lock()
	cfg := s.cfg
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	s.mu.Unlock()

	firedAt = firedAt.In(loc)
	runID := uuid.NewString()
	at := subscriber.TimeOfDay{Hour: firedAt.Hour(), Minute: firedAt.Minute()}
	log := s.log.With(logx.String("run_id", runID), logx.String("at", at.String()))
	start := time.Now()

	var recipients []int64
	if cfg.DispatchPolicy == PolicyFilterByTime {
		recipients = s.reg.ListEnabledAt(at)
	} else {
		recipients = s.reg.ListEnabled()
	}
	if len(recipients) == 0 {
		log.Info("no subscribers; skipping dispatch", logx.String("policy", cfg.DispatchPolicy))
		metrics.RecordRun(runKind, "no_subscribers")
		return delivery.Result{}, nil
	}

	items, err := content.Fetch(ctx, s.src, cfg.BatchSize, cfg.FetchTimeout)
	if err != nil {
		log.Warn("no content to dispatch", logx.Err(err), logx.Int("recipients", len(recipients)))
		metrics.RecordRun(runKind, "no_content")
		return delivery.Result{}, err
	}

	res := s.out.Deliver(ctx, delivery.KindScheduled, recipients, items)
	outcome := "delivered"
	if res.Sent == 0 {
		outcome = "failed"
	}
	metrics.RecordRun(runKind, outcome)
	log.Info("scheduled dispatch done",
		logx.Int("items", len(items)),
		logx.Int("sent", res.Sent),
		logx.Int("total", res.Total),
		logx.Int("failed", res.Failed),
		logx.Duration("took", time.Since(start)),
	)

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchDone, Data: eventbus.Delivery{
			RunID:  runID,
			Kind:   string(delivery.KindScheduled),
			Items:  len(items),
			Total:  res.Total,
			Sent:   res.Sent,
			Failed: res.Failed,
			Took:   time.Since(start),
		}})
	}
	if res.Sent == 0 && res.Total > 0 {
		return res, errors.New("scheduler: every send failed")
	}
	return res, nil
}

// Snapshot reports registered entries with their next and previous runs.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	snap := Snapshot{
		Running:  s.c != nil,
		Enabled:  s.cfg.Enabled,
		Timezone: loc.String(),
		Policy:   s.cfg.DispatchPolicy,
	}
	for _, t := range subscriber.NormalizeTimes(slices.Collect(maps.Keys(s.entries))) {
		it := ScheduleInfo{At: t.String()}
		if s.c != nil {
			e := s.c.Entry(s.entries[t])
			it.Next = e.Next
			it.Prev = e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	return snap
}
