package audit

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("audit disabled")

// Config configures the audit trail.
//
// Driver values:
//   - "file": dependency-free append-only JSON Lines file
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", auditing is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry records one job run transition.
// Keep it compact and schema-stable.
type Entry struct {
	At      time.Time `json:"at"`
	Event   string    `json:"event"`
	JobID   string    `json:"jobId"`
	JobName string    `json:"jobName,omitempty"`
	RunID   string    `json:"runId,omitempty"`
	Status  string    `json:"status,omitempty"`
	TookMS  int64     `json:"tookMs,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Store is the minimal persistence API for the audit trail.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Close() error
}
