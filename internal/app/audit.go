package app

import (
	"context"
	"time"

	"newsbot/internal/eventbus"
	"newsbot/internal/monitor"
	"newsbot/internal/storage"
	"newsbot/internal/task/scheduler"
	logx "newsbot/pkg/logx"
)

const auditRecent = 20

type auditStore interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error)
}

// auditEntry converts delivery events; ok is false for other event types.
func auditEntry(e eventbus.Event) (storage.AuditEntry, bool) {
	if e.Type != eventbus.TypeDispatchDone && e.Type != eventbus.TypeMonitorBroadcast {
		return storage.AuditEntry{}, false
	}
	d, ok := e.Data.(eventbus.Delivery)
	if !ok {
		return storage.AuditEntry{}, false
	}
	return storage.AuditEntry{
		At:     e.Time.UTC(),
		RunID:  d.RunID,
		Kind:   d.Kind,
		Items:  d.Items,
		Total:  d.Total,
		Sent:   d.Sent,
		Failed: d.Failed,
		TookMS: d.Took.Milliseconds(),
	}, true
}

// runAudit appends every delivery event to the store until ctx ends.
func runAudit(ctx context.Context, events <-chan eventbus.Event, store auditStore, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			entry, ok := auditEntry(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			err := store.AppendAudit(wctx, entry)
			cancel()
			if err != nil {
				log.Warn("audit append failed", logx.Err(err), logx.String("run_id", entry.RunID))
			}
		}
	}
}

type scheduleView struct {
	At   string     `json:"at"`
	Next *time.Time `json:"next,omitempty"`
	Prev *time.Time `json:"prev,omitempty"`
}

type schedulerView struct {
	Enabled   bool           `json:"enabled"`
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Policy    string         `json:"policy"`
	Schedules []scheduleView `json:"schedules"`
}

type monitorView struct {
	Running       bool       `json:"running"`
	Interval      string     `json:"interval"`
	Threshold     int        `json:"threshold"`
	MinInterval   string     `json:"min_interval"`
	Seen          int        `json:"seen"`
	Buffered      int        `json:"buffered"`
	LastBroadcast *time.Time `json:"last_broadcast,omitempty"`
}

type statusView struct {
	Subscribers int                  `json:"subscribers"`
	Enabled     int                  `json:"enabled"`
	Scheduler   schedulerView        `json:"scheduler"`
	Monitor     monitorView          `json:"monitor"`
	Recent      []storage.AuditEntry `json:"recent,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func buildStatus(subs, enabled int, snap scheduler.Snapshot, st monitor.Status, recent []storage.AuditEntry) statusView {
	v := statusView{
		Subscribers: subs,
		Enabled:     enabled,
		Scheduler: schedulerView{
			Enabled:  snap.Enabled,
			Running:  snap.Running,
			Timezone: snap.Timezone,
			Policy:   snap.Policy,
		},
		Monitor: monitorView{
			Running:       st.Running,
			Interval:      st.Interval.String(),
			Threshold:     st.Threshold,
			MinInterval:   st.MinInterval.String(),
			Seen:          st.SeenCount,
			Buffered:      st.BufferCount,
			LastBroadcast: st.LastBroadcast,
		},
		Recent: recent,
	}
	for _, s := range snap.Schedules {
		v.Scheduler.Schedules = append(v.Scheduler.Schedules, scheduleView{At: s.At, Next: timePtr(s.Next), Prev: timePtr(s.Prev)})
	}
	return v
}

func (a *App) status(ctx context.Context) any {
	var recent []storage.AuditEntry
	if a.store != nil {
		var err error
		if recent, err = a.store.RecentAudit(ctx, auditRecent); err != nil {
			a.log.Warn("audit read failed", logx.Err(err))
		}
	}
	return buildStatus(a.reg.Len(), len(a.reg.ListEnabled()), a.sched.Snapshot(), a.mon.Status(), recent)
}
