// Package control implements subscriber and operator commands independently of
// the chat transport. Every operation returns a delivery.Message to show the
// caller.
package control

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"newsbot/internal/content"
	"newsbot/internal/delivery"
	"newsbot/internal/monitor"
	"newsbot/internal/subscriber"
	logx "newsbot/pkg/logx"
)

// ErrValidation marks rejected user input. No state was changed.
var ErrValidation = errors.New("validation failed")

type Registry interface {
	Register(id int64, times ...subscriber.TimeOfDay) subscriber.Subscriber
	SetEnabled(id int64, enabled bool) bool
	SetTimes(id int64, times []subscriber.TimeOfDay) bool
	Lookup(id int64) (subscriber.Subscriber, bool)
	Remove(id int64) bool
	ListEnabled() []int64
	Len() int
}

type Monitor interface {
	SetThreshold(n int) error
	Status() monitor.Status
}

type Config struct {
	NewsLimit    int
	FetchTimeout time.Duration
	Location     *time.Location
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	reg Registry
	mon Monitor
	src content.Source
	fmt *delivery.Formatter
	log logx.Logger
}

func New(cfg Config, reg Registry, mon Monitor, src content.Source, f *delivery.Formatter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.NewsLimit <= 0 {
		cfg.NewsLimit = 5
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if f == nil {
		f = delivery.NewFormatter(cfg.Location)
	}
	return &Service{cfg: cfg, reg: reg, mon: mon, src: src, fmt: f, log: log.With(logx.String("comp", "control"))}
}

// Apply updates the news limit and fetch timeout.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.NewsLimit > 0 {
		s.cfg.NewsLimit = cfg.NewsLimit
	}
	if cfg.FetchTimeout > 0 {
		s.cfg.FetchTimeout = cfg.FetchTimeout
	}
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start registers id with the default schedule.
func (s *Service) Start(id int64) delivery.Message {
	sub := s.reg.Register(id)
	s.log.Info("subscriber started", logx.Int64("id", id))
	return welcome(sub)
}

func (s *Service) Help() delivery.Message { return help() }

// NotifyOn enables scheduled and urgent alerts for id.
func (s *Service) NotifyOn(id int64) delivery.Message {
	if _, ok := s.reg.Lookup(id); !ok {
		s.reg.Register(id)
		return plain("🔔 알림이 활성화되었습니다.\n정기 알림과 긴급 알림을 받아보실 수 있습니다.")
	}
	if !s.reg.SetEnabled(id, true) {
		return plain("🔔 이미 알림을 받고 계십니다.")
	}
	return plain("🔔 알림이 활성화되었습니다.\n정기 알림과 긴급 알림을 받아보실 수 있습니다.")
}

func (s *Service) NotifyOff(id int64) delivery.Message {
	if !s.reg.SetEnabled(id, false) {
		if _, ok := s.reg.Lookup(id); !ok {
			return notRegistered()
		}
		return plain("🔕 이미 알림이 꺼져 있습니다.")
	}
	return plain("🔕 알림이 비활성화되었습니다.\n다시 받으려면 /notify_on 을 입력하세요.")
}

func (s *Service) Unsubscribe(id int64) delivery.Message {
	if !s.reg.Remove(id) {
		return notRegistered()
	}
	s.log.Info("subscriber removed itself", logx.Int64("id", id))
	return plain("👋 구독이 해제되었습니다. 다시 시작하려면 /start 를 입력하세요.")
}

func (s *Service) Status(id int64) delivery.Message {
	sub, ok := s.reg.Lookup(id)
	if !ok {
		return notRegistered()
	}
	return status(sub, s.config().Location)
}

// SetTimes replaces the delivery times of id from "HH:MM,HH:MM".
func (s *Service) SetTimes(id int64, arg string) (delivery.Message, error) {
	if strings.TrimSpace(arg) == "" {
		return plain("사용법: /times 09:00,12:30,18:00"), fmt.Errorf("%w: times required", ErrValidation)
	}
	times, err := subscriber.ParseTimes(arg)
	if err != nil {
		return plain("⚠️ 시간 형식이 올바르지 않습니다. 예: /times 09:00,12:30"), fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if !s.reg.SetTimes(id, times) {
		return notRegistered(), nil
	}
	return plain("⏰ 알림 시간이 변경되었습니다: " + subscriber.FormatTimes(times)), nil
}

// News fetches the latest items for a single caller, bypassing the timers.
func (s *Service) News(ctx context.Context) (delivery.Message, error) {
	cfg := s.config()
	items, err := content.Fetch(ctx, s.src, cfg.NewsLimit, cfg.FetchTimeout)
	if err != nil {
		s.log.Warn("manual refresh found no content", logx.Err(err))
		return plain("현재 사용 가능한 뉴스가 없습니다. 잠시 후 다시 시도해주세요."), err
	}
	return s.fmt.Format(delivery.KindManual, items), nil
}

// SetThreshold parses arg and changes the monitor threshold (1..10).
func (s *Service) SetThreshold(arg string) (delivery.Message, error) {
	if s.mon == nil {
		return plain("모니터가 비활성화되어 있습니다."), fmt.Errorf("%w: monitor disabled", ErrValidation)
	}
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return plain(fmt.Sprintf("⚠️ 임계값은 %d~%d 사이의 숫자여야 합니다.", monitor.MinThreshold, monitor.MaxThreshold)),
			fmt.Errorf("%w: threshold %q is not a number", ErrValidation, arg)
	}
	if err := s.mon.SetThreshold(n); err != nil {
		return plain(fmt.Sprintf("⚠️ 임계값은 %d~%d 사이여야 합니다.", monitor.MinThreshold, monitor.MaxThreshold)),
			fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return plain(fmt.Sprintf("✅ 긴급 알림 임계값이 %d건으로 설정되었습니다.", n)), nil
}

func (s *Service) MonitorStatus() delivery.Message {
	if s.mon == nil {
		return plain("모니터가 비활성화되어 있습니다.")
	}
	return monitorStatus(s.mon.Status(), len(s.reg.ListEnabled()), s.config().Location)
}

// Settings renders the notification settings screen for id.
func (s *Service) Settings(id int64) delivery.Message {
	sub, ok := s.reg.Lookup(id)
	if !ok {
		return notRegistered()
	}
	return settings(sub)
}

// Toggle applies a settings callback and re-renders the settings screen.
func (s *Service) Toggle(id int64, action string) (delivery.Message, error) {
	switch action {
	case delivery.ActionNotifyOn:
		if _, ok := s.reg.Lookup(id); !ok {
			s.reg.Register(id)
		} else {
			s.reg.SetEnabled(id, true)
		}
	case delivery.ActionNotifyOff:
		s.reg.SetEnabled(id, false)
	default:
		return delivery.Message{}, fmt.Errorf("%w: unknown action %q", ErrValidation, action)
	}
	return s.Settings(id), nil
}
