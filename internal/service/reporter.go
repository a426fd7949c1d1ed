package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradesim/internal/pipeline"
)

// Reporter logs the latest estimate at a fixed interval. It is the only
// output of the simulate mode.
type Reporter struct {
	feed     UpdateFeed
	interval time.Duration
	logger   *slog.Logger
}

// NewReporter creates a Reporter. interval defaults to 5s.
func NewReporter(feed UpdateFeed, interval time.Duration, logger *slog.Logger) *Reporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Reporter{feed: feed, interval: interval, logger: logger.With(slog.String("component", "reporter"))}
}

// Run logs until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	updates, cancel := r.feed.Subscribe()
	defer cancel()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var (
		latest  pipeline.Update
		haveAny bool
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			latest, haveAny = u, true
		case <-ticker.C:
			if !haveAny {
				continue
			}
			m, st := latest.Metrics, NewStatsView(latest.Stats)
			r.logger.InfoContext(ctx, "estimate",
				slog.String("state", latest.Status.State),
				slog.String("side", string(latest.Params.Side)),
				slog.String("order_type", string(latest.Params.OrderType)),
				slog.Float64("quantity", latest.Params.Quantity),
				slog.Float64("slippage_pct", m.SlippagePct),
				slog.Float64("fees_usd", m.FeesUSD),
				slog.Float64("market_impact_pct", m.MarketImpactPct),
				slog.Float64("net_cost_pct", m.NetCostPct),
				slog.Float64("maker_pct", m.MakerPct),
				slog.Float64("latency_ms", m.LatencyMs),
				slog.Int64("updates", st.TotalUpdates),
				slog.Float64("p99_latency_ms", st.P99LatencyMs),
			)
		}
	}
}
