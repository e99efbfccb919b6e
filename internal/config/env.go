package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment overrides. They win over the config file so secrets can stay
// out of it.
const (
	EnvBotToken           = "TELEGRAM_BOT_TOKEN"
	EnvNewsLimit          = "NEWS_LIMIT"
	EnvMonitorInterval    = "MONITOR_INTERVAL"
	EnvMonitorThreshold   = "MONITOR_THRESHOLD"
	EnvMonitorMinInterval = "MONITOR_MIN_INTERVAL"
)

const defaultNewsLimit = 5

// LoadDotenv loads the given .env files (default ".env") into the process
// environment without overriding variables that are already set. Missing files
// are ignored.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. lookup is usually os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if cfg == nil || lookup == nil {
		return nil
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		if !ok {
			return "", false
		}
		v = stripInlineComment(v)
		return v, v != ""
	}

	if v, ok := get(EnvBotToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvNewsLimit); ok {
		// An unparsable limit falls back to the default instead of failing startup.
		n, err := strconv.Atoi(v)
		if err != nil {
			n = defaultNewsLimit
		}
		cfg.News.Limit = n
	}
	if v, ok := get(EnvMonitorInterval); ok {
		d, err := envDuration(EnvMonitorInterval, v)
		if err != nil {
			return err
		}
		cfg.Monitor.Interval = d
	}
	if v, ok := get(EnvMonitorMinInterval); ok {
		d, err := envDuration(EnvMonitorMinInterval, v)
		if err != nil {
			return err
		}
		cfg.Monitor.MinInterval = d
	}
	if v, ok := get(EnvMonitorThreshold); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", EnvMonitorThreshold, v)
		}
		cfg.Monitor.Threshold = n
	}
	return nil
}

// envDuration accepts plain seconds ("300") or a Go duration ("5m") and
// returns a duration string for the config.
func envDuration(key, v string) (string, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return "", fmt.Errorf("%s: must be >= 0", key)
		}
		return (time.Duration(n) * time.Second).String(), nil
	}
	if _, err := ParseDurationField(key, v); err != nil {
		return "", err
	}
	return v, nil
}

func stripInlineComment(v string) string {
	if i := strings.IndexByte(v, '#'); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
