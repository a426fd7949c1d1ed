package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradesim/internal/domain"
)

// MetricsStore implements domain.MetricsStore using PostgreSQL. Params and
// metrics are stored as JSONB so the schema does not follow every field
// change.
type MetricsStore struct {
	pool *pgxpool.Pool
}

// NewMetricsStore creates a new MetricsStore backed by the given connection pool.
func NewMetricsStore(pool *pgxpool.Pool) *MetricsStore {
	return &MetricsStore{pool: pool}
}

const metricsSelectCols = `id, session_id, source, exchange, symbol, params, metrics, created_at`

func scanMetricsRows(rows pgx.Rows) ([]domain.MetricsRecord, error) {
	var out []domain.MetricsRecord
	for rows.Next() {
		var r domain.MetricsRecord
		if err := rows.Scan(
			&r.ID, &r.SessionID, &r.Source, &r.Exchange, &r.Symbol,
			&r.Params, &r.Metrics, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Insert stores rec. A zero CreatedAt is replaced by the database clock.
func (s *MetricsStore) Insert(ctx context.Context, rec domain.MetricsRecord) error {
	var createdAt any
	if !rec.CreatedAt.IsZero() {
		createdAt = rec.CreatedAt
	}
	const query = `
		INSERT INTO metrics_history (
			session_id, source, exchange, symbol, params, metrics, net_cost_pct, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8::timestamptz, NOW()))`

	_, err := s.pool.Exec(ctx, query,
		rec.SessionID, rec.Source, rec.Exchange, rec.Symbol,
		rec.Params, rec.Metrics, rec.Metrics.NetCostPct, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert metrics: %w", err)
	}
	return nil
}

// buildListQuery assembles the recent-history query for opts, newest first.
func buildListQuery(opts domain.ListOpts) (string, []any) {
	query := `SELECT ` + metricsSelectCols + ` FROM metrics_history WHERE TRUE`
	var args []any
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

// ListRecent returns stored estimates, newest first.
func (s *MetricsStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.MetricsRecord, error) {
	query, args := buildListQuery(opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list metrics: %w", err)
	}
	defer rows.Close()

	recs, err := scanMetricsRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan metrics: %w", err)
	}
	return recs, nil
}

// ListBefore returns every estimate created before the cutoff, oldest first.
func (s *MetricsStore) ListBefore(ctx context.Context, before time.Time) ([]domain.MetricsRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+metricsSelectCols+` FROM metrics_history WHERE created_at < $1 ORDER BY created_at, id`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list metrics before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	recs, err := scanMetricsRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan metrics before: %w", err)
	}
	return recs, nil
}

// DeleteBefore removes estimates created before the cutoff and reports how
// many rows went.
func (s *MetricsStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM metrics_history WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete metrics before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.MetricsStore = (*MetricsStore)(nil)
