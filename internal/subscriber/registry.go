package subscriber

import (
	"context"
	"slices"
	"sync"
	"time"

	"newsbot/internal/observability/metrics"
	logx "newsbot/pkg/logx"
)

type Subscriber struct {
	ID           int64       `json:"id"`
	Times        []TimeOfDay `json:"times"`
	Enabled      bool        `json:"enabled"`
	RegisteredAt time.Time   `json:"registered_at"`
}

func (s Subscriber) clone() Subscriber {
	s.Times = slices.Clone(s.Times)
	return s
}

// At reports whether t is one of the subscriber's delivery times.
func (s Subscriber) At(t TimeOfDay) bool { return slices.Contains(s.Times, t) }

// Persister loads and stores registry snapshots.
type Persister interface {
	Load(ctx context.Context) ([]Subscriber, error)
	Save(ctx context.Context, subs []Subscriber) error
}

// Registry maps subscriber IDs to subscribers and remembers insertion order.
type Registry struct {
	mu    sync.RWMutex
	subs  map[int64]*Subscriber
	order []int64

	// saveMu spans snapshot and Save so the last write holds the newest state.
	saveMu sync.Mutex

	store    Persister
	log      logx.Logger
	now      func() time.Time
	onChange []func()
}

type Option func(*Registry)

func WithPersister(p Persister) Option { return func(r *Registry) { r.store = p } }
func WithLogger(log logx.Logger) Option { return func(r *Registry) { r.log = log } }
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{subs: map[int64]*Subscriber{}, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.log = r.log.With(logx.String("comp", "subscriber"))
	return r
}

// OnChange registers fn to run after every state change. Hooks run outside the lock.
func (r *Registry) OnChange(fn func()) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.onChange = append(r.onChange, fn)
	r.mu.Unlock()
}

// Restore replaces the registry content with the persisted snapshot.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	subs, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.subs = make(map[int64]*Subscriber, len(subs))
	r.order = r.order[:0]
	for _, s := range subs {
		s := s.clone()
		if len(s.Times) == 0 {
			s.Times = DefaultTimes()
		}
		if _, dup := r.subs[s.ID]; !dup {
			r.order = append(r.order, s.ID)
		}
		r.subs[s.ID] = &s
	}
	r.mu.Unlock()
	r.log.Info("subscribers restored", logx.Int("count", len(subs)))
	r.changed(ctx, false)
	return nil
}

// Register inserts or overwrites id. Without times the default schedule is used.
func (r *Registry) Register(id int64, times ...TimeOfDay) Subscriber {
	if len(times) == 0 {
		times = DefaultTimes()
	}
	s := Subscriber{ID: id, Times: NormalizeTimes(times), Enabled: true, RegisteredAt: r.now()}

	r.mu.Lock()
	if _, ok := r.subs[id]; !ok {
		r.order = append(r.order, id)
	}
	r.subs[id] = &s
	out := s.clone()
	r.mu.Unlock()

	r.log.Info("subscriber registered", logx.Int64("id", id), logx.Int("times", len(s.Times)))
	r.changed(context.Background(), true)
	return out
}

// SetEnabled returns true only when the flag actually changed.
func (r *Registry) SetEnabled(id int64, enabled bool) bool {
	r.mu.Lock()
	s, ok := r.subs[id]
	if !ok || s.Enabled == enabled {
		r.mu.Unlock()
		return false
	}
	s.Enabled = enabled
	r.mu.Unlock()

	r.log.Info("subscriber toggled", logx.Int64("id", id), logx.Bool("enabled", enabled))
	r.changed(context.Background(), true)
	return true
}

// SetTimes replaces the delivery times of an existing subscriber.
func (r *Registry) SetTimes(id int64, times []TimeOfDay) bool {
	if len(times) == 0 {
		return false
	}
	r.mu.Lock()
	s, ok := r.subs[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	s.Times = NormalizeTimes(times)
	r.mu.Unlock()

	r.changed(context.Background(), true)
	return true
}

func (r *Registry) Remove(id int64) bool {
	r.mu.Lock()
	if _, ok := r.subs[id]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.subs, id)
	r.order = slices.DeleteFunc(r.order, func(v int64) bool { return v == id })
	r.mu.Unlock()

	r.log.Info("subscriber removed", logx.Int64("id", id))
	r.changed(context.Background(), true)
	return true
}

func (r *Registry) Lookup(id int64) (Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[id]
	if !ok {
		return Subscriber{}, false
	}
	return s.clone(), true
}

// ListEnabled returns enabled subscriber IDs in insertion order.
func (r *Registry) ListEnabled() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int64, 0, len(r.order))
	for _, id := range r.order {
		if r.subs[id].Enabled {
			out = append(out, id)
		}
	}
	return out
}

// ListEnabledAt is ListEnabled restricted to subscribers scheduled at t.
func (r *Registry) ListEnabledAt(t TimeOfDay) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []int64
	for _, id := range r.order {
		if s := r.subs[id]; s.Enabled && s.At(t) {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) All() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscriber, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.subs[id].clone())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Times returns the union of all subscribers' delivery times, sorted.
func (r *Registry) Times() []TimeOfDay {
	r.mu.RLock()
	var all []TimeOfDay
	for _, s := range r.subs {
		all = append(all, s.Times...)
	}
	r.mu.RUnlock()
	return NormalizeTimes(all)
}

func (r *Registry) changed(ctx context.Context, persist bool) {
	all := r.All()
	if persist && r.store != nil {
		r.saveMu.Lock()
		all = r.All()
		if err := r.store.Save(ctx, all); err != nil {
			r.log.Warn("persist subscribers failed", logx.Err(err), logx.Int("count", len(all)))
		}
		r.saveMu.Unlock()
	}

	enabled := 0
	for _, s := range all {
		if s.Enabled {
			enabled++
		}
	}
	metrics.SetSubscribers(enabled, len(all)-enabled)

	r.mu.RLock()
	hooks := slices.Clone(r.onChange)
	r.mu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
}
