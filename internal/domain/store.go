package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MetricsStore persists computed estimates.
type MetricsStore interface {
	Insert(ctx context.Context, rec MetricsRecord) error
	ListRecent(ctx context.Context, opts ListOpts) ([]MetricsRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]MetricsRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SessionStore persists the final counters of each source session.
type SessionStore interface {
	Upsert(ctx context.Context, source string, stats PerformanceStats) error
	Get(ctx context.Context, sessionID string) (PerformanceStats, error)
}
