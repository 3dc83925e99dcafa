package store

import (
	"context"
	"time"
)

// Record is one status transition persisted to the journal. The shell reads
// the journal to show last-known service state across daemon restarts.
type Record struct {
	ID        int64     `json:"id"`
	Service   string    `json:"service"`
	State     string    `json:"state"`
	Port      int       `json:"port,omitempty"`
	PID       int       `json:"pid,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	At        time.Time `json:"at"`
}

// Store journals service status transitions. Implementations must be safe
// for concurrent use.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordTransition(ctx context.Context, rec Record) error
	LastByService(ctx context.Context, service string) (Record, error)
	Recent(ctx context.Context, limit int) ([]Record, error)
	PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}
