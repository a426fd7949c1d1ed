package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradesim/internal/domain"
	"github.com/alanyoungcy/tradesim/internal/pipeline"
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// EveryN persists one in every N new estimates. Values below 1 mean 1.
	EveryN int
	// StatsInterval is how often session counters are written. Zero writes
	// them only when a session ends and on shutdown.
	StatsInterval time.Duration
}

// Recorder persists a sample of estimates to the metrics store and the
// metrics stream, and keeps session counters in the session store. Any of
// the three sinks may be nil.
type Recorder struct {
	feed     UpdateFeed
	store    domain.MetricsStore
	stream   domain.MetricsStream
	sessions domain.SessionStore
	cfg      RecorderConfig
	logger   *slog.Logger

	seen         int
	lastComputed time.Time
	last         pipeline.Update
	haveLast     bool
}

// NewRecorder creates a Recorder.
func NewRecorder(
	feed UpdateFeed,
	store domain.MetricsStore,
	stream domain.MetricsStream,
	sessions domain.SessionStore,
	cfg RecorderConfig,
	logger *slog.Logger,
) *Recorder {
	if cfg.EveryN < 1 {
		cfg.EveryN = 1
	}
	return &Recorder{
		feed:     feed,
		store:    store,
		stream:   stream,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "recorder")),
	}
}

// Run records updates until ctx is cancelled, then writes the final
// counters of the current session.
func (r *Recorder) Run(ctx context.Context) error {
	updates, cancel := r.feed.Subscribe()
	defer cancel()

	var tick <-chan time.Time
	if r.cfg.StatsInterval > 0 {
		ticker := time.NewTicker(r.cfg.StatsInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			flushCtx, flushCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			r.flushSession(flushCtx)
			flushCancel()
			return nil
		case u := <-updates:
			r.Observe(ctx, u)
		case <-tick:
			r.flushSession(ctx)
		}
	}
}

// Observe handles one update. A new estimate is recognised by its
// ComputedAt; subscriptions skip updates, so Seq and Recomputed alone do not
// tell whether one was missed.
func (r *Recorder) Observe(ctx context.Context, u pipeline.Update) {
	if r.haveLast && r.last.Stats.SessionID != "" && r.last.Stats.SessionID != u.Stats.SessionID {
		r.flushSession(ctx)
	}
	r.last, r.haveLast = u, true

	if u.Metrics.ComputedAt.IsZero() || !u.Metrics.ComputedAt.After(r.lastComputed) {
		return
	}
	r.lastComputed = u.Metrics.ComputedAt
	r.seen++
	if r.seen%r.cfg.EveryN != 0 {
		return
	}
	r.record(ctx, u)
}

func (r *Recorder) record(ctx context.Context, u pipeline.Update) {
	rec := domain.MetricsRecord{
		SessionID: u.Stats.SessionID,
		Source:    u.Status.Source,
		Exchange:  u.Book.Exchange,
		Symbol:    u.Book.Symbol,
		Params:    u.Params,
		Metrics:   u.Metrics,
		CreatedAt: u.Metrics.ComputedAt,
	}
	if r.store != nil {
		if err := r.store.Insert(ctx, rec); err != nil {
			r.logger.WarnContext(ctx, "persist estimate failed", slog.String("error", err.Error()))
		}
	}
	if r.stream != nil {
		if err := r.stream.Append(ctx, rec); err != nil {
			r.logger.WarnContext(ctx, "append estimate failed", slog.String("error", err.Error()))
		}
	}
}

// flushSession writes the counters of the last seen session.
func (r *Recorder) flushSession(ctx context.Context) {
	if r.sessions == nil || !r.haveLast || r.last.Stats.SessionID == "" {
		return
	}
	if err := r.sessions.Upsert(ctx, r.last.Status.Source, r.last.Stats); err != nil {
		r.logger.WarnContext(ctx, "persist session failed",
			slog.String("session_id", r.last.Stats.SessionID),
			slog.String("error", err.Error()),
		)
	}
}
