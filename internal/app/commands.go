package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"newsbot/internal/content"
	"newsbot/internal/control"
	"newsbot/internal/delivery"
	"newsbot/internal/delivery/tgchannel"
	"newsbot/internal/transport/telegram/router"
	logx "newsbot/pkg/logx"
	"newsbot/pkg/tgui"
)

const newsTimeout = 20 * time.Second

type dispatcher interface {
	Dispatch(ctx context.Context, firedAt time.Time) (delivery.Result, error)
}

// commandSet binds chat commands and callbacks to the control service.
type commandSet struct {
	ctl   *control.Service
	sched dispatcher
	now   func() time.Time
}

func newCommandSet(ctl *control.Service, sched dispatcher) *commandSet {
	return &commandSet{ctl: ctl, sched: sched, now: time.Now}
}

func reply(ctx context.Context, req *router.Request, msg delivery.Message) error {
	_, err := tgchannel.Render(msg).Send(ctx, req.Adapter, req.Chat)
	return err
}

// replyResult sends msg and keeps validation failures out of the error path.
func replyResult(ctx context.Context, req *router.Request, msg delivery.Message, err error) error {
	if err != nil && !errors.Is(err, control.ErrValidation) {
		req.Logger.Warn("command failed", logx.Err(err))
	}
	return reply(ctx, req, msg)
}

func (c *commandSet) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "start",
			Description: "뉴스 알림 구독 시작",
			Handle: func(ctx context.Context, req *router.Request) error {
				return reply(ctx, req, c.ctl.Start(req.FromID))
			},
		},
		{
			Name:        "help",
			Description: "사용 가능한 명령어",
			Handle: func(ctx context.Context, req *router.Request) error {
				return reply(ctx, req, c.ctl.Help())
			},
		},
		{
			Name:        "news",
			Description: "최신 뉴스 바로 받기",
			Timeout:     newsTimeout,
			Handle: func(ctx context.Context, req *router.Request) error {
				msg, err := c.ctl.News(ctx)
				return replyResult(ctx, req, msg, err)
			},
		},
		{
			Name:        "notify_on",
			Description: "알림 켜기",
			Handle: func(ctx context.Context, req *router.Request) error {
				return reply(ctx, req, c.ctl.NotifyOn(req.FromID))
			},
		},
		{
			Name:        "notify_off",
			Description: "알림 끄기",
			Handle: func(ctx context.Context, req *router.Request) error {
				return reply(ctx, req, c.ctl.NotifyOff(req.FromID))
			},
		},
		{
			Name:        "status",
			Description: "내 구독 상태",
			Handle: func(ctx context.Context, req *router.Request) error {
				return reply(ctx, req, c.ctl.Status(req.FromID))
			},
		},
		{
			Name:        "times",
			Description: "알림 시간 설정",
			Usage:       "/times 09:00,12:30,18:00",
			Handle: func(ctx context.Context, req *router.Request) error {
				msg, err := c.ctl.SetTimes(req.FromID, strings.Join(req.Args, ","))
				return replyResult(ctx, req, msg, err)
			},
		},
		{
			Name:        "unsubscribe",
			Aliases:     []string{"stop"},
			Description: "구독 해지",
			Handle: func(ctx context.Context, req *router.Request) error {
				return reply(ctx, req, c.ctl.Unsubscribe(req.FromID))
			},
		},
		{
			Name:        "threshold",
			Description: "긴급 알림 임계값 설정 (관리자)",
			Usage:       "/threshold 1-10",
			Access:      router.AccessOwnerOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				msg, err := c.ctl.SetThreshold(strings.Join(req.Args, ""))
				return replyResult(ctx, req, msg, err)
			},
		},
		{
			Name:        "monitor",
			Description: "모니터 상태 (관리자)",
			Access:      router.AccessOwnerOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return reply(ctx, req, c.ctl.MonitorStatus())
			},
		},
		{
			Name:        "dispatch",
			Description: "정기 발송 즉시 실행 (관리자)",
			Access:      router.AccessOwnerOnly,
			Timeout:     5 * time.Minute,
			Handle:      c.dispatchNow,
		},
	}
}

func (c *commandSet) dispatchNow(ctx context.Context, req *router.Request) error {
	if c.sched == nil {
		return req.Reply(ctx, "스케줄러가 비활성화되어 있습니다.", nil)
	}
	res, err := c.sched.Dispatch(ctx, c.now())
	if errors.Is(err, content.ErrNoContent) {
		return req.Reply(ctx, "⚠️ 발송할 뉴스가 없습니다.", nil)
	}
	if err != nil {
		req.Logger.Warn("manual dispatch failed", logx.Err(err))
	}
	text := tgui.New().
		Title("📤", "정기 발송 완료").
		KV("대상", strconv.Itoa(res.Total)).
		KV("성공", strconv.Itoa(res.Sent)).
		KV("실패", strconv.Itoa(res.Failed)).
		KV("소요", res.Took.Round(time.Millisecond).String()).
		Build()
	_, err = text.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (c *commandSet) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{
			Prefix:  tgchannel.CallbackPrefix,
			Action:  delivery.ActionRefresh,
			Timeout: newsTimeout,
			Handle: func(ctx context.Context, req *router.Request, _ string) error {
				msg, err := c.ctl.News(ctx)
				return replyResult(ctx, req, msg, err)
			},
		},
		{
			Prefix: tgchannel.CallbackPrefix,
			Action: delivery.ActionNotifySettings,
			Handle: func(ctx context.Context, req *router.Request, _ string) error {
				return reply(ctx, req, c.ctl.Settings(req.FromID))
			},
		},
		{
			Prefix: tgchannel.CallbackPrefix,
			Action: delivery.ActionNotifyOn,
			Handle: c.toggle(delivery.ActionNotifyOn),
		},
		{
			Prefix: tgchannel.CallbackPrefix,
			Action: delivery.ActionNotifyOff,
			Handle: c.toggle(delivery.ActionNotifyOff),
		},
	}
}

// toggle re-renders the settings screen in place, falling back to a new
// message when the original cannot be edited.
func (c *commandSet) toggle(action string) router.CallbackHandlerFunc {
	return func(ctx context.Context, req *router.Request, _ string) error {
		msg, err := c.ctl.Toggle(req.FromID, action)
		if err != nil {
			return fmt.Errorf("toggle %s: %w", action, err)
		}
		if ref, ok := req.MessageRef(); ok {
			if err := tgchannel.Render(msg).Edit(ctx, req.Adapter, ref); err == nil {
				return nil
			}
		}
		return reply(ctx, req, msg)
	}
}
