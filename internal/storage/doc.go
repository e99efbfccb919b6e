// Package storage persists the subscriber registry and an audit trail of
// broadcast runs.
//
// Two backends are available: a file backend (JSON snapshot + jsonl audit
// log) and SQLite.
package storage
