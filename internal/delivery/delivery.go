// Package delivery formats news items into chat messages and fans them out to
// subscribers with pacing.
package delivery

import (
	"context"
)

// Kind selects the message layout.
type Kind string

const (
	KindScheduled Kind = "scheduled"
	KindUrgent    Kind = "urgent"
	KindManual    Kind = "manual"
)

// Callback action identifiers carried in Action.Data.
const (
	ActionRefresh        = "refresh"
	ActionNotifySettings = "notify_settings"
	ActionNotifyOn       = "notify_on"
	ActionNotifyOff      = "notify_off"
)

// Message is transport-neutral. Actions with a URL open a link; actions with
// Data trigger a callback.
type Message struct {
	Text      string
	ParseMode string
	Actions   []Action
}

type Action struct {
	Label string
	URL   string
	Data  string
}

// Channel delivers a message to one subscriber.
type Channel interface {
	SendTo(ctx context.Context, subscriberID int64, msg Message) error
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, subscriberID int64, msg Message) error

func (f ChannelFunc) SendTo(ctx context.Context, subscriberID int64, msg Message) error {
	return f(ctx, subscriberID, msg)
}
