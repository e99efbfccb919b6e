package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	subs  []Subscriber
	saves int
	err   error
}

func (m *memStore) Load(context.Context) ([]Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs, nil
}

func (m *memStore) Save(_ context.Context, subs []Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.subs = subs
	return m.err
}

func TestDefaultTimes(t *testing.T) {
	t.Parallel()

	ts := DefaultTimes()
	require.Len(t, ts, 19)
	assert.Equal(t, "09:00", ts[0].String())
	assert.Equal(t, "09:30", ts[1].String())
	assert.Equal(t, "18:00", ts[18].String())
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "09:30", want: "09:30"},
		{in: " 7:05 ", want: "07:05"},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "1230", wantErr: true},
		{in: "ab:cd", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseTimesSortsAndDedups(t *testing.T) {
	t.Parallel()

	ts, err := ParseTimes("18:00, 09:00,18:00 12:30")
	require.NoError(t, err)
	assert.Equal(t, "09:00, 12:30, 18:00", FormatTimes(ts))

	_, err = ParseTimes(" , ")
	assert.Error(t, err)
}

func TestRegisterDefaultsAndOverwrite(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	r := NewRegistry(WithClock(func() time.Time { return now }))

	s := r.Register(1)
	assert.True(t, s.Enabled)
	assert.Len(t, s.Times, 19)
	assert.Equal(t, now, s.RegisteredAt)

	require.True(t, r.SetEnabled(1, false))
	r.Register(2)
	r.Register(1, TimeOfDay{Hour: 10})

	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.True(t, got.Enabled, "re-register enables again")
	assert.Equal(t, []TimeOfDay{{Hour: 10}}, got.Times)
	assert.Equal(t, []int64{1, 2}, r.ListEnabled(), "overwrite keeps insertion order")
}

func TestSetEnabledReportsChange(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.False(t, r.SetEnabled(42, true), "absent")

	r.Register(42)
	assert.False(t, r.SetEnabled(42, true), "same value")
	assert.True(t, r.SetEnabled(42, false))
	assert.Empty(t, r.ListEnabled())
	assert.True(t, r.SetEnabled(42, true))
	assert.Equal(t, []int64{42}, r.ListEnabled())
}

func TestLookupReturnsCopy(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(7)
	s, _ := r.Lookup(7)
	s.Times[0] = TimeOfDay{Hour: 23}
	s.Enabled = false

	again, _ := r.Lookup(7)
	assert.Equal(t, "09:00", again.Times[0].String())
	assert.True(t, again.Enabled)

	ids := r.ListEnabled()
	ids[0] = 99
	assert.Equal(t, []int64{7}, r.ListEnabled())
}

func TestRemoveAndSetTimes(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(1)
	r.Register(2)
	r.Register(3)

	assert.True(t, r.Remove(2))
	assert.False(t, r.Remove(2))
	assert.Equal(t, []int64{1, 3}, r.ListEnabled())
	assert.Equal(t, 2, r.Len())

	assert.False(t, r.SetTimes(2, []TimeOfDay{{Hour: 8}}))
	assert.False(t, r.SetTimes(1, nil))
	require.True(t, r.SetTimes(1, []TimeOfDay{{Hour: 8}, {Hour: 7, Minute: 30}, {Hour: 8}}))
	s, _ := r.Lookup(1)
	assert.Equal(t, "07:30, 08:00", FormatTimes(s.Times))

	assert.Equal(t, []int64{1}, r.ListEnabledAt(TimeOfDay{Hour: 8}))
	assert.Equal(t, []int64{3}, r.ListEnabledAt(TimeOfDay{Hour: 9}))
	assert.Len(t, r.Times(), 21)
}

func TestPersistenceAndHooks(t *testing.T) {
	t.Parallel()

	store := &memStore{subs: []Subscriber{
		{ID: 5, Enabled: true},
		{ID: 6, Enabled: false, Times: []TimeOfDay{{Hour: 12}}},
	}}
	r := NewRegistry(WithPersister(store))

	var hooks int
	r.OnChange(func() { hooks++ })

	require.NoError(t, r.Restore(context.Background()))
	assert.Equal(t, 0, store.saves, "restore does not write back")
	assert.Equal(t, 1, hooks)
	assert.Equal(t, []int64{5}, r.ListEnabled())
	s, _ := r.Lookup(5)
	assert.Len(t, s.Times, 19, "missing times fall back to defaults")

	r.SetEnabled(6, true)
	r.SetEnabled(6, true)
	assert.Equal(t, 1, store.saves, "no-op mutations are not persisted")
	assert.Equal(t, 2, hooks)

	store.err = errors.New("disk full")
	assert.True(t, r.Remove(5), "save failures do not fail the mutation")
	assert.Equal(t, 1, r.Len())
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			r.Register(id)
			r.SetEnabled(id, id%2 == 0)
			_ = r.ListEnabled()
			_, _ = r.Lookup(id)
		}(int64(i))
	}
	wg.Wait()
	assert.Equal(t, 20, r.Len())
	assert.Len(t, r.ListEnabled(), 10)
}

type slowStore struct {
	memStore
	calls   int
	entered chan struct{}
}

// Save stalls the first call so a later mutation races it.
func (s *slowStore) Save(ctx context.Context, subs []Subscriber) error {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		close(s.entered)
		time.Sleep(50 * time.Millisecond)
	}
	return s.memStore.Save(ctx, subs)
}

func TestConcurrentSavesKeepNewestSnapshot(t *testing.T) {
	t.Parallel()

	store := &slowStore{entered: make(chan struct{})}
	r := NewRegistry(WithPersister(store))

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Register(1)
	}()
	<-store.entered
	r.Register(2)
	<-done

	assert.Equal(t, 2, r.Len())
	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

func TestSubscriberJSONUsesClockTimes(t *testing.T) {
	t.Parallel()

	in := Subscriber{ID: 7, Times: []TimeOfDay{{Hour: 9}, {Hour: 17, Minute: 30}}, Enabled: true}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"times":["09:00","17:30"]`)

	var out Subscriber
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in.Times, out.Times)

	assert.Error(t, json.Unmarshal([]byte(`{"times":["25:00"]}`), &out))
}
