package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("invalid config")

// Validate reports every problem at once, wrapped in ErrInvalidConfig.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required (or set %s)", EnvBotToken)
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	if n := cfg.News.Limit; n != 0 && (n < 1 || n > 10) {
		add("news.limit must be within 1..10, got %d", n)
	}
	dur("news.fetch_timeout", cfg.News.FetchTimeout)
	if tz := strings.TrimSpace(cfg.News.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("news.timezone: %v", err)
		}
	}
	enabled := 0
	seen := map[string]bool{}
	for i, s := range cfg.News.Sources {
		path := fmt.Sprintf("news.sources[%d]", i)
		name := strings.TrimSpace(s.Name)
		if name == "" {
			add("%s.name is required", path)
		} else if seen[name] {
			add("%s.name %q is duplicated", path, name)
		}
		seen[name] = true

		switch strings.ToLower(strings.TrimSpace(s.Type)) {
		case SourceRSS:
		case SourceHTML:
			if len(s.Selectors) == 0 {
				add("%s.selectors is required for html sources", path)
			}
		default:
			add("%s.type must be rss or html, got %q", path, s.Type)
		}
		if u, err := url.Parse(strings.TrimSpace(s.URL)); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("%s.url must be an absolute http(s) URL", path)
		}
		if !s.Disabled {
			enabled++
		}
	}
	if enabled == 0 {
		add("news.sources needs at least one enabled source")
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}
	switch strings.TrimSpace(cfg.Scheduler.DispatchPolicy) {
	case "", "all_enabled", "filter_by_time":
	default:
		add("scheduler.dispatch_policy must be all_enabled or filter_by_time, got %q", cfg.Scheduler.DispatchPolicy)
	}
	dur("scheduler.pacing", cfg.Scheduler.Pacing)

	m := cfg.Monitor
	if m.Threshold != 0 && (m.Threshold < 1 || m.Threshold > 10) {
		add("monitor.threshold must be within 1..10, got %d", m.Threshold)
	}
	dur("monitor.interval", m.Interval)
	dur("monitor.min_interval", m.MinInterval)
	dur("monitor.error_backoff", m.ErrorBackoff)
	dur("monitor.seen_ttl", m.SeenTTL)
	for path, v := range map[string]int{
		"monitor.seed_size": m.SeedSize,
		"monitor.poll_size": m.PollSize,
		"monitor.max_items": m.MaxItems,
		"monitor.seen_max":  m.SeenMax,
	} {
		if v < 0 {
			add("%s must be >= 0", path)
		}
	}

	if st := cfg.Storage; st != nil {
		switch d := strings.ToLower(strings.TrimSpace(st.Driver)); d {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				add("storage.path is required when storage.driver=%s", d)
			}
		default:
			add("unknown storage.driver: %s", st.Driver)
		}
		dur("storage.busy_timeout", st.BusyTimeout)
	}

	dur("ops.read_timeout", cfg.Ops.ReadTimeout)
	dur("ops.write_timeout", cfg.Ops.WriteTimeout)
	dur("ops.idle_timeout", cfg.Ops.IdleTimeout)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
