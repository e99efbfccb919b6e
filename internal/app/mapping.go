package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"newsbot/internal/config"
	"newsbot/internal/control"
	"newsbot/internal/delivery"
	"newsbot/internal/monitor"
	"newsbot/internal/observability/ops"
	"newsbot/internal/storage"
	"newsbot/internal/task/scheduler"
	logx "newsbot/pkg/logx"
)

const defaultTimezone = "Asia/Seoul"

// durationOr parses raw, returning def only when raw is empty so that an
// explicit "0s" stays zero.
func durationOr(path, raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return config.ParseDurationField(path, raw)
}

func loadLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.News.Timezone)
	if tz == "" {
		tz = strings.TrimSpace(cfg.Scheduler.Timezone)
	}
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}
	return loc, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logTarget parses telegram.group_log; ok is false when unset or invalid.
func logTarget(cfg *config.Config) (chatID int64, threadID int, ok bool) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0, 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return id, cfg.Logging.Telegram.ThreadID, true
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapFetchTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("news.fetch_timeout", cfg.News.FetchTimeout, scheduler.DefaultFetchTimeout)
}

func mapNewsLimit(cfg *config.Config) int {
	if cfg.News.Limit <= 0 {
		return scheduler.DefaultBatchSize
	}
	return cfg.News.Limit
}

func mapPacing(cfg *config.Config) (time.Duration, error) {
	return durationOr("scheduler.pacing", cfg.Scheduler.Pacing, delivery.DefaultPacing)
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	ft, err := mapFetchTimeout(cfg)
	if err != nil {
		return scheduler.Config{}, err
	}
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		tz = defaultTimezone
	}
	return scheduler.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Timezone:       tz,
		DispatchPolicy: strings.TrimSpace(cfg.Scheduler.DispatchPolicy),
		BatchSize:      mapNewsLimit(cfg),
		FetchTimeout:   ft,
	}, nil
}

func mapMonitorConfig(cfg *config.Config) (monitor.Config, error) {
	d := monitor.DefaultConfig()
	m := cfg.Monitor
	out := monitor.Config{
		Enabled:   m.Enabled,
		Threshold: m.Threshold,
		SeedSize:  m.SeedSize,
		PollSize:  m.PollSize,
		MaxItems:  m.MaxItems,
		SeenMax:   m.SeenMax,
	}
	if out.Threshold == 0 {
		out.Threshold = d.Threshold
	}
	if err := monitor.ValidateThreshold(out.Threshold); err != nil {
		return monitor.Config{}, err
	}

	var err error
	if out.Interval, err = durationOr("monitor.interval", m.Interval, d.Interval); err != nil {
		return monitor.Config{}, err
	}
	if out.MinInterval, err = durationOr("monitor.min_interval", m.MinInterval, d.MinInterval); err != nil {
		return monitor.Config{}, err
	}
	if out.ErrorBackoff, err = durationOr("monitor.error_backoff", m.ErrorBackoff, d.ErrorBackoff); err != nil {
		return monitor.Config{}, err
	}
	if out.SeenTTL, err = durationOr("monitor.seen_ttl", m.SeenTTL, d.SeenTTL); err != nil {
		return monitor.Config{}, err
	}
	if out.FetchTimeout, err = mapFetchTimeout(cfg); err != nil {
		return monitor.Config{}, err
	}
	return out, nil
}

func mapControlConfig(cfg *config.Config, loc *time.Location) (control.Config, error) {
	ft, err := mapFetchTimeout(cfg)
	if err != nil {
		return control.Config{}, err
	}
	return control.Config{NewsLimit: mapNewsLimit(cfg), FetchTimeout: ft, Location: loc}, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	o := cfg.Ops
	rt, err := config.ParseDurationOrDefault("ops.read_timeout", o.ReadTimeout, 10*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	wt, err := config.ParseDurationField("ops.write_timeout", o.WriteTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("ops.idle_timeout", o.IdleTimeout, 60*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:              o.Enabled,
		Addr:                 strings.TrimSpace(o.Addr),
		Token:                strings.TrimSpace(o.Token),
		AllowInsecure:        o.AllowInsecure,
		Pprof:                o.Pprof,
		ReadTimeout:          rt,
		WriteTimeout:         wt,
		IdleTimeout:          it,
		MutexProfileFraction: o.MutexProfileFraction,
		BlockProfileRate:     o.BlockProfileRate,
	}, nil
}
