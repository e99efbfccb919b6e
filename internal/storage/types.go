package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot + jsonl audit log next to Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one broadcast run.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time `json:"at"`
	RunID  string    `json:"run_id"`
	Kind   string    `json:"kind"`
	Items  int       `json:"items"`
	Total  int       `json:"total"`
	Sent   int       `json:"sent"`
	Failed int       `json:"failed"`
	TookMS int64     `json:"took_ms"`
	Error  string    `json:"error,omitempty"`
}
