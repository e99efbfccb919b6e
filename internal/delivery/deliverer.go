package delivery

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"newsbot/internal/content"
	"newsbot/internal/observability/metrics"
	logx "newsbot/pkg/logx"
)

// DefaultPacing is the minimum gap between two sends.
const DefaultPacing = 100 * time.Millisecond

type Result struct {
	Total  int
	Sent   int
	Failed int
	Took   time.Duration
}

// Deliverer sends one formatted card to many recipients.
// The limiter is shared by every caller so pacing holds across loops.
type Deliverer struct {
	ch      Channel
	fmt     *Formatter
	limiter *rate.Limiter
	log     logx.Logger
}

func NewDeliverer(ch Channel, f *Formatter, pacing time.Duration, log logx.Logger) *Deliverer {
	if log.IsZero() {
		log = logx.Nop()
	}
	if f == nil {
		f = NewFormatter(nil)
	}
	if pacing <= 0 {
		pacing = DefaultPacing
	}
	return &Deliverer{
		ch:      ch,
		fmt:     f,
		limiter: rate.NewLimiter(rate.Every(pacing), 1),
		log:     log.With(logx.String("comp", "delivery")),
	}
}

// SetPacing changes the gap between sends.
func (d *Deliverer) SetPacing(pacing time.Duration) {
	if pacing <= 0 {
		pacing = DefaultPacing
	}
	d.limiter.SetLimit(rate.Every(pacing))
}

func (d *Deliverer) Formatter() *Formatter { return d.fmt }

// Deliver sends items to every recipient in order. A failed send is counted and
// skipped. Cancellation stops the batch and counts the rest as failed.
func (d *Deliverer) Deliver(ctx context.Context, kind Kind, recipients []int64, items []content.Item) Result {
	start := time.Now()
	res := Result{Total: len(recipients)}
	if len(recipients) == 0 || len(items) == 0 {
		return res
	}
	msg := d.fmt.Format(kind, items)

	for i, id := range recipients {
		if err := d.limiter.Wait(ctx); err != nil {
			res.Failed += len(recipients) - i
			d.log.Warn("delivery interrupted", logx.String("kind", string(kind)), logx.Int("remaining", len(recipients)-i), logx.Err(err))
			break
		}
		if err := d.ch.SendTo(ctx, id, msg); err != nil {
			res.Failed++
			d.log.Warn("send failed", logx.String("kind", string(kind)), logx.Int64("subscriber", id), logx.Err(err))
			continue
		}
		res.Sent++
	}
	res.Took = time.Since(start)
	metrics.RecordDelivery(string(kind), res.Sent, res.Failed)
	return res
}
