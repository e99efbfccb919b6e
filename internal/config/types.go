package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	News      NewsConfig      `json:"news"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Monitor   MonitorConfig   `json:"monitor"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Ops       OpsConfig       `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// NewsConfig describes where headlines come from.
//
// Example:
//
//	"news": {
//	  "limit": 5,
//	  "fetch_timeout": "10s",
//	  "sources": [
//	    {"name": "hankyung", "type": "rss", "url": "https://www.hankyung.com/feed/finance"},
//	    {"name": "naver", "type": "html", "url": "https://finance.naver.com/news/mainnews.naver",
//	     "selectors": [".mainNewsList li dd.articleSubject a"]}
//	  ]
//	}
type NewsConfig struct {
	// Limit is the number of items in scheduled and manual broadcasts (1..10).
	Limit        int            `json:"limit"`
	FetchTimeout string         `json:"fetch_timeout"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Timezone     string         `json:"timezone,omitempty"` // display zone; default scheduler.timezone
	Sources      []SourceConfig `json:"sources"`
}

const (
	SourceRSS  = "rss"
	SourceHTML = "html"
)

type SourceConfig struct {
	Name string `json:"name"`
	Type string `json:"type"` // rss | html
	URL  string `json:"url"`
	// Selectors are tried in order (html only); the first that yields items wins.
	Selectors   []string `json:"selectors,omitempty"`
	PerSelector int      `json:"per_selector,omitempty"`
	Disabled    bool     `json:"disabled,omitempty"`
}

// SchedulerConfig controls fixed daily broadcasts.
//
// DispatchPolicy is "all_enabled" (default) or "filter_by_time".
// Pacing is the delay between two sends (default "100ms"), shared with the monitor.
type SchedulerConfig struct {
	Enabled        bool   `json:"enabled"`
	Timezone       string `json:"timezone,omitempty"`
	DispatchPolicy string `json:"dispatch_policy,omitempty"`
	Pacing         string `json:"pacing,omitempty"`
}

// MonitorConfig controls urgent broadcasts.
//
// All durations are Go duration strings. Defaults:
//   - interval: "300s", min_interval: "600s", error_backoff: "60s"
//   - threshold: 3 (1..10), seed_size: 20, poll_size: 10, max_items: 5
//   - seen_max: 5000, seen_ttl: "48h"
type MonitorConfig struct {
	Enabled      bool   `json:"enabled"`
	Interval     string `json:"interval,omitempty"`
	Threshold    int    `json:"threshold,omitempty"`
	MinInterval  string `json:"min_interval,omitempty"`
	SeedSize     int    `json:"seed_size,omitempty"`
	PollSize     int    `json:"poll_size,omitempty"`
	MaxItems     int    `json:"max_items,omitempty"`
	ErrorBackoff string `json:"error_backoff,omitempty"`
	SeenMax      int    `json:"seen_max,omitempty"`
	SeenTTL      string `json:"seen_ttl,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/newsbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// OpsConfig controls the optional operations HTTP server (/metrics, /healthz, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /debug/pprof/profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
