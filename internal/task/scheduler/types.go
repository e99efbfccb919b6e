package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"newsbot/internal/content"
	"newsbot/internal/delivery"
	"newsbot/internal/eventbus"
	"newsbot/internal/subscriber"
	logx "newsbot/pkg/logx"
)

var ErrAlreadyRunning = errors.New("scheduler: already running")

// Dispatch policies.
const (
	// PolicyAllEnabled sends to every enabled subscriber on every trigger.
	PolicyAllEnabled = "all_enabled"
	// PolicyFilterByTime sends only to subscribers whose times include the trigger time.
	PolicyFilterByTime = "filter_by_time"
)

const (
	DefaultBatchSize    = 5
	DefaultFetchTimeout = 10 * time.Second
)

type Config struct {
	Enabled        bool
	Timezone       string // IANA TZ, e.g. "Asia/Seoul"
	DispatchPolicy string
	BatchSize      int
	FetchTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.DispatchPolicy == "" {
		c.DispatchPolicy = PolicyAllEnabled
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	return c
}

// Registry is the subset of subscriber.Registry the scheduler reads.
type Registry interface {
	ListEnabled() []int64
	ListEnabledAt(t subscriber.TimeOfDay) []int64
	Times() []subscriber.TimeOfDay
}

// Deliverer fans a card out to recipients.
type Deliverer interface {
	Deliver(ctx context.Context, kind delivery.Kind, recipients []int64, items []content.Item) delivery.Result
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	reg Registry
	src content.Source
	out Deliverer

	parser  cron.Parser
	c       *cron.Cron
	job     cron.Job
	entries map[subscriber.TimeOfDay]cron.EntryID

	runCtx    context.Context
	runCancel context.CancelFunc
	inflight  sync.WaitGroup

	now func() time.Time
}

type ScheduleInfo struct {
	At   string
	Next time.Time
	Prev time.Time
}

type Snapshot struct {
	Running   bool
	Enabled   bool
	Timezone  string
	Policy    string
	Schedules []ScheduleInfo
}
