package eventbus

import "time"

const (
	// TypeDispatchDone is published after a scheduled dispatch finished delivering.
	TypeDispatchDone = "dispatch.done"
	// TypeMonitorBroadcast is published after the monitor delivered an urgent alert.
	TypeMonitorBroadcast = "monitor.broadcast"
	// TypeSubscribersChanged is published when the registry content changed.
	TypeSubscribersChanged = "subscribers.changed"
)

// Delivery is the payload of TypeDispatchDone and TypeMonitorBroadcast.
type Delivery struct {
	RunID  string
	Kind   string
	Items  int
	Total  int
	Sent   int
	Failed int
	Took   time.Duration
}
