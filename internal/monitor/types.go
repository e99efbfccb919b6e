// Package monitor polls a content source for novel items and raises a
// debounced urgent broadcast once enough of them have accumulated.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"newsbot/internal/content"
	"newsbot/internal/delivery"
)

var (
	ErrAlreadyRunning   = errors.New("monitor: already running")
	ErrInvalidThreshold = errors.New("monitor: threshold must be between 1 and 10")
)

const (
	MinThreshold = 1
	MaxThreshold = 10
)

type Config struct {
	Enabled      bool
	Interval     time.Duration
	Threshold    int
	MinInterval  time.Duration // minimum gap between two broadcasts
	SeedSize     int
	PollSize     int
	MaxItems     int // items per broadcast
	ErrorBackoff time.Duration
	FetchTimeout time.Duration
	SeenMax      int
	SeenTTL      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Interval:     300 * time.Second,
		Threshold:    3,
		MinInterval:  600 * time.Second,
		SeedSize:     20,
		PollSize:     10,
		MaxItems:     5,
		ErrorBackoff: 60 * time.Second,
		FetchTimeout: 10 * time.Second,
		SeenMax:      5000,
		SeenTTL:      48 * time.Hour,
	}
}

// withDefaults fills zero fields. A zero MinInterval disables debouncing.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Threshold == 0 {
		c.Threshold = d.Threshold
	}
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	if c.SeedSize <= 0 {
		c.SeedSize = d.SeedSize
	}
	if c.PollSize <= 0 {
		c.PollSize = d.PollSize
	}
	if c.MaxItems <= 0 {
		c.MaxItems = d.MaxItems
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.SeenMax <= 0 {
		c.SeenMax = d.SeenMax
	}
	if c.SeenTTL <= 0 {
		c.SeenTTL = d.SeenTTL
	}
	return c
}

// ValidateThreshold reports ErrInvalidThreshold for n outside 1..10.
func ValidateThreshold(n int) error {
	if n < MinThreshold || n > MaxThreshold {
		return fmt.Errorf("%w (got %d)", ErrInvalidThreshold, n)
	}
	return nil
}

// Recipients lists enabled subscribers.
type Recipients interface {
	ListEnabled() []int64
}

type Deliverer interface {
	Deliver(ctx context.Context, kind delivery.Kind, recipients []int64, items []content.Item) delivery.Result
}

type Status struct {
	Running       bool
	Interval      time.Duration
	Threshold     int
	MinInterval   time.Duration
	SeenCount     int
	BufferCount   int
	LastBroadcast *time.Time
}

// Outcome describes what a Broadcast call did.
type Outcome string

const (
	OutcomeEmpty         Outcome = "empty"
	OutcomeDebounced     Outcome = "debounced"
	OutcomeNoSubscribers Outcome = "no_subscribers"
	OutcomeDelivered     Outcome = "delivered"
)
