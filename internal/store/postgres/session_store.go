package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradesim/internal/domain"
)

// SessionStore implements domain.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new SessionStore backed by the given connection pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// minLatencyParam maps the +Inf sentinel to NULL.
func minLatencyParam(stats domain.PerformanceStats) *float64 {
	if !stats.HasMinLatency() {
		return nil
	}
	v := stats.MinLatencyMs
	return &v
}

// Upsert writes the latest counters of a session. Counters only move forward
// within a session, so the greatest value wins on conflict.
func (s *SessionStore) Upsert(ctx context.Context, source string, stats domain.PerformanceStats) error {
	if stats.SessionID == "" {
		return fmt.Errorf("postgres: upsert session: empty session id")
	}
	const query = `
		INSERT INTO feed_sessions (
			session_id, source, started_at, total_updates, total_latency_ms,
			max_latency_ms, min_latency_ms, error_count, reconnect_count, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			total_updates    = GREATEST(feed_sessions.total_updates, EXCLUDED.total_updates),
			total_latency_ms = GREATEST(feed_sessions.total_latency_ms, EXCLUDED.total_latency_ms),
			max_latency_ms   = GREATEST(feed_sessions.max_latency_ms, EXCLUDED.max_latency_ms),
			min_latency_ms   = LEAST(feed_sessions.min_latency_ms, EXCLUDED.min_latency_ms),
			error_count      = GREATEST(feed_sessions.error_count, EXCLUDED.error_count),
			reconnect_count  = GREATEST(feed_sessions.reconnect_count, EXCLUDED.reconnect_count),
			updated_at       = NOW()`

	_, err := s.pool.Exec(ctx, query,
		stats.SessionID, source, stats.StartedAt, stats.TotalUpdates, stats.TotalLatencyMs,
		stats.MaxLatencyMs, minLatencyParam(stats), stats.ErrorCount, stats.ReconnectCount,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert session %s: %w", stats.SessionID, err)
	}
	return nil
}

// Get returns the stored counters for sessionID. Window statistics are not
// persisted and come back zero.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (domain.PerformanceStats, error) {
	var (
		st     domain.PerformanceStats
		minLat *float64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, started_at, total_updates, total_latency_ms,
		       max_latency_ms, min_latency_ms, error_count, reconnect_count
		FROM feed_sessions WHERE session_id = $1`, sessionID,
	).Scan(
		&st.SessionID, &st.StartedAt, &st.TotalUpdates, &st.TotalLatencyMs,
		&st.MaxLatencyMs, &minLat, &st.ErrorCount, &st.ReconnectCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PerformanceStats{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PerformanceStats{}, fmt.Errorf("postgres: get session %s: %w", sessionID, err)
	}

	st.MinLatencyMs = math.Inf(1)
	if minLat != nil {
		st.MinLatencyMs = *minLat
	}
	return st, nil
}

// Compile-time interface check.
var _ domain.SessionStore = (*SessionStore)(nil)
