package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsbot/internal/content"
	"newsbot/internal/delivery"
	"newsbot/internal/monitor"
	"newsbot/internal/subscriber"
	logx "newsbot/pkg/logx"
)

type fakeMonitor struct {
	threshold int
}

func (f *fakeMonitor) SetThreshold(n int) error {
	if err := monitor.ValidateThreshold(n); err != nil {
		return err
	}
	f.threshold = n
	return nil
}

func (f *fakeMonitor) Status() monitor.Status {
	return monitor.Status{Running: true, Interval: 5 * time.Minute, Threshold: f.threshold, MinInterval: 10 * time.Minute}
}

func newService(t *testing.T, src content.Source) (*Service, *subscriber.Registry, *fakeMonitor) {
	t.Helper()
	reg := subscriber.NewRegistry()
	mon := &fakeMonitor{threshold: 3}
	svc := New(Config{NewsLimit: 2, Location: time.UTC}, reg, mon, src, nil, logx.Nop())
	return svc, reg, mon
}

func TestStartRegistersWithDefaults(t *testing.T) {
	t.Parallel()

	svc, reg, _ := newService(t, nil)
	msg := svc.Start(11)

	sub, ok := reg.Lookup(11)
	require.True(t, ok)
	assert.True(t, sub.Enabled)
	assert.Len(t, sub.Times, 19)
	assert.Contains(t, msg.Text, "환영합니다")
	assert.Contains(t, msg.Text, "<code>/news</code>")
	require.Len(t, msg.Actions, 2)
	assert.Equal(t, delivery.ActionNotifySettings, msg.Actions[1].Data)
}

func TestNotifyToggles(t *testing.T) {
	t.Parallel()

	svc, reg, _ := newService(t, nil)
	assert.Contains(t, svc.NotifyOff(5).Text, "/start", "unknown subscriber")

	svc.NotifyOn(5)
	assert.Equal(t, []int64{5}, reg.ListEnabled(), "notify_on registers unknown callers")
	assert.Contains(t, svc.NotifyOn(5).Text, "이미")

	assert.Contains(t, svc.NotifyOff(5).Text, "비활성화")
	assert.Empty(t, reg.ListEnabled())
	assert.Contains(t, svc.NotifyOff(5).Text, "이미")
}

func TestSetThresholdValidation(t *testing.T) {
	t.Parallel()

	svc, _, mon := newService(t, nil)

	_, err := svc.SetThreshold("abc")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.SetThreshold("11")
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, monitor.ErrInvalidThreshold)
	assert.Equal(t, 3, mon.threshold, "rejected input changes nothing")

	msg, err := svc.SetThreshold(" 4 ")
	require.NoError(t, err)
	assert.Equal(t, 4, mon.threshold)
	assert.Contains(t, msg.Text, "4건")

	assert.Contains(t, svc.MonitorStatus().Text, "4건")
}

func TestSetTimes(t *testing.T) {
	t.Parallel()

	svc, reg, _ := newService(t, nil)

	_, err := svc.SetTimes(1, "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.SetTimes(1, "25:00")
	assert.ErrorIs(t, err, ErrValidation)

	msg, err := svc.SetTimes(1, "09:00")
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "/start")

	reg.Register(1)
	msg, err = svc.SetTimes(1, "18:00,08:30")
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "08:30, 18:00")
	sub, _ := reg.Lookup(1)
	assert.Len(t, sub.Times, 2)
}

func TestNewsFormatsManualCard(t *testing.T) {
	t.Parallel()

	var gotLimit int
	src := content.SourceFunc(func(_ context.Context, limit int) ([]content.Item, error) {
		gotLimit = limit
		return []content.Item{
			{Title: "a", DisplayTime: "09:00", URL: "https://x/1"},
			{Title: "b", DisplayTime: "09:01", URL: "https://x/2"},
			{Title: "c", DisplayTime: "09:02", URL: "https://x/3"},
		}, nil
	})
	svc, _, _ := newService(t, src)

	msg, err := svc.News(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, gotLimit)
	assert.Contains(t, msg.Text, "주식 뉴스 업데이트")
	assert.Contains(t, msg.Text, "주요 뉴스 2건")

	empty, _, _ := newService(t, content.SourceFunc(func(context.Context, int) ([]content.Item, error) { return nil, nil }))
	msg, err = empty.News(context.Background())
	assert.ErrorIs(t, err, content.ErrNoContent)
	assert.Contains(t, msg.Text, "뉴스가 없습니다")
}

func TestSettingsAndToggle(t *testing.T) {
	t.Parallel()

	svc, reg, _ := newService(t, nil)
	reg.Register(9)

	msg := svc.Settings(9)
	require.NotEmpty(t, msg.Actions)
	assert.Equal(t, delivery.ActionNotifyOff, msg.Actions[0].Data)

	msg, err := svc.Toggle(9, delivery.ActionNotifyOff)
	require.NoError(t, err)
	assert.Equal(t, delivery.ActionNotifyOn, msg.Actions[0].Data)
	assert.Empty(t, reg.ListEnabled())

	_, err = svc.Toggle(9, "explode")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStatusAndUnsubscribe(t *testing.T) {
	t.Parallel()

	svc, reg, _ := newService(t, nil)
	assert.Contains(t, svc.Status(3).Text, "/start")

	reg.Register(3)
	assert.Contains(t, svc.Status(3).Text, "켜짐")

	assert.Contains(t, svc.Unsubscribe(3).Text, "해제")
	assert.Zero(t, reg.Len())
	assert.Contains(t, svc.Unsubscribe(3).Text, "/start")
}
