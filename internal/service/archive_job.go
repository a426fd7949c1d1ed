package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradesim/internal/domain"
)

// ArchiveJob periodically moves metrics history older than the retention
// period to cold storage.
type ArchiveJob struct {
	archiver  domain.Archiver
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiveJob creates an ArchiveJob. retentionDays below 1 mean 1.
func NewArchiveJob(archiver domain.Archiver, interval time.Duration, retentionDays int, logger *slog.Logger) *ArchiveJob {
	if retentionDays < 1 {
		retentionDays = 1
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &ArchiveJob{
		archiver:  archiver,
		interval:  interval,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archive_job")),
	}
}

// Run archives once immediately and then on every interval until ctx is
// cancelled. Failed runs are logged and retried on the next tick.
func (j *ArchiveJob) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce archives everything older than the retention cutoff.
func (j *ArchiveJob) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.retention).UTC().Truncate(time.Hour)
	n, err := j.archiver.ArchiveMetrics(ctx, cutoff)
	if err != nil {
		return n, err
	}
	j.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("archived", n),
		slog.Time("cutoff", cutoff),
	)
	return n, nil
}
