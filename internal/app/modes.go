package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradesim/internal/costmodel"
	"github.com/alanyoungcy/tradesim/internal/domain"
	"github.com/alanyoungcy/tradesim/internal/feed"
	"github.com/alanyoungcy/tradesim/internal/pipeline"
	"github.com/alanyoungcy/tradesim/internal/server"
	"github.com/alanyoungcy/tradesim/internal/server/handler"
	"github.com/alanyoungcy/tradesim/internal/server/ws"
	"github.com/alanyoungcy/tradesim/internal/service"
	"github.com/alanyoungcy/tradesim/internal/telemetry"
)

// core is what every mode runs: the pipeline over its source plus the fee
// catalog the parameters are resolved against.
type core struct {
	pipe    *pipeline.Pipeline
	catalog *domain.FeeCatalog
}

// buildCore resolves the default order, picks the snapshot source and
// latency sampler, and creates the pipeline.
func (a *App) buildCore() (*core, error) {
	catalog := a.cfg.FeeCatalog()
	defaults, err := a.cfg.DefaultParams(catalog)
	if err != nil {
		return nil, fmt.Errorf("default order: %w", err)
	}

	var src feed.Source
	switch strings.ToLower(a.cfg.Feed.Source) {
	case "websocket":
		src = feed.NewWSSource(feed.WSConfig{
			URL:               a.cfg.Feed.WsURL,
			Exchange:          a.cfg.Feed.Exchange,
			Symbol:            a.cfg.Feed.Symbol,
			ConnectTimeout:    a.cfg.Feed.ConnectTimeout.Duration,
			ReconnectDelay:    a.cfg.Feed.ReconnectDelay.Duration,
			Jitter:            a.cfg.Feed.ReconnectJitter,
			MaxReconnectDelay: a.cfg.Feed.MaxReconnectDelay.Duration,
		}, a.logger)
	default:
		src = feed.NewSyntheticSource(feed.SyntheticConfig{
			Exchange: a.cfg.Feed.Exchange,
			Symbol:   a.cfg.Feed.Symbol,
			Cadence:  a.cfg.Feed.Cadence.Duration,
			Seed:     a.cfg.Feed.Seed,
		}, a.logger)
	}

	var latency costmodel.LatencySampler
	if a.cfg.Order.RandomLatency {
		latency = costmodel.NewRandomLatency(a.cfg.Feed.Seed)
	}

	engine := costmodel.NewEngine(costmodel.Config{
		ImpactCoefficient: a.cfg.Model.ImpactCoefficient,
		ShortfallPenalty:  a.cfg.Model.ShortfallPenalty,
	})
	pipe := pipeline.New(engine, src, pipeline.Config{
		Defaults:        defaults,
		Latency:         latency,
		WindowSize:      a.cfg.Model.StatsWindow,
		SlippageHistory: a.cfg.Model.SlippageHistory,
	}, a.logger)

	return &core{pipe: pipe, catalog: catalog}, nil
}

// startCore runs the pipeline and, when configured, opens the first session.
func (a *App) startCore(ctx context.Context, g *errgroup.Group, c *core) {
	g.Go(func() error {
		return c.pipe.Run(ctx)
	})
	if a.cfg.Feed.AutoConnect {
		g.Go(func() error {
			if err := c.pipe.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
				// The session can still be opened through the API.
				a.logger.WarnContext(ctx, "auto connect failed",
					slog.String("component", "app"),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
}

// SimulateMode runs the pipeline and logs the estimate periodically. It needs
// no external infrastructure.
func (a *App) SimulateMode(ctx context.Context, _ *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode")

	c, err := a.buildCore()
	if err != nil {
		return fmt.Errorf("simulate mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, c)

	reporter := service.NewReporter(c.pipe, a.cfg.Recorder.LogInterval.Duration, a.logger)
	g.Go(func() error {
		return reporter.Run(ctx)
	})

	return g.Wait()
}

// ServeMode adds the redis broadcaster, the websocket hub and the HTTP API.
// Estimates are sampled into the redis stream for /api/history.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	c, err := a.buildCore()
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, c)
	a.startPresentation(ctx, g, c, deps, nil)

	if a.cfg.Recorder.Enabled && deps.MetricsStream != nil {
		a.startRecorder(ctx, g, c, deps.MetricsStream, nil, nil)
	}

	return g.Wait()
}

// FullMode is serve mode plus postgres history, session persistence and
// periodic S3 archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	c, err := a.buildCore()
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, c)
	a.startPresentation(ctx, g, c, deps, deps.MetricsStore)

	if a.cfg.Recorder.Enabled {
		a.startRecorder(ctx, g, c, deps.MetricsStream, deps.MetricsStore, deps.SessionStore)
	}

	if deps.Archiver != nil {
		job := service.NewArchiveJob(deps.Archiver, a.cfg.Archive.Interval.Duration, a.cfg.Archive.RetentionDays, a.logger)
		g.Go(func() error {
			return job.Run(ctx)
		})
	}

	return g.Wait()
}

func (a *App) startRecorder(
	ctx context.Context,
	g *errgroup.Group,
	c *core,
	stream domain.MetricsStream,
	store domain.MetricsStore,
	sessions domain.SessionStore,
) {
	rec := service.NewRecorder(c.pipe, store, stream, sessions, service.RecorderConfig{
		EveryN:        a.cfg.Recorder.EveryN,
		StatsInterval: a.cfg.Recorder.StatsInterval.Duration,
	}, a.logger)
	g.Go(func() error {
		return rec.Run(ctx)
	})
}

// startPresentation adds the broadcaster, Prometheus collector, websocket
// hub and HTTP server to g. history may be nil, in which case /api/history
// reads the redis stream.
func (a *App) startPresentation(
	ctx context.Context,
	g *errgroup.Group,
	c *core,
	deps *Dependencies,
	history domain.MetricsStore,
) {
	mode := strings.ToLower(a.cfg.Mode)
	sim := service.NewSimulatorService(c.pipe, c.catalog, history, deps.MetricsStream, mode)
	sim.SetExecutionModel(a.cfg.ExecutionModel(0))

	broadcaster := service.NewBroadcaster(c.pipe, deps.SignalBus, deps.BookCache, service.BroadcasterConfig{
		Every: a.cfg.Server.BroadcastEvery.Duration,
		Mode:  mode,
	}, a.logger)
	g.Go(func() error {
		return broadcaster.Run(ctx)
	})

	collector := telemetry.NewCollector()
	g.Go(func() error {
		return collector.Run(ctx, c.pipe)
	})

	if !a.cfg.Server.Enabled {
		return
	}

	hub := ws.NewHub(deps.SignalBus, ws.Config{
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		Snapshot:       snapshotMessages(sim),
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimitPerSec: a.cfg.Server.RateLimitPerSec,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Simulator: handler.NewSimulatorHandler(sim, a.logger),
		Metrics:   collector.Handler(),
	}, hub, deps.RateLimiter, a.logger)
	g.Go(func() error {
		return srv.Run(ctx)
	})
}

// snapshotMessages renders the current state in the broadcast envelope so a
// fresh websocket client can draw before the next broadcast.
func snapshotMessages(sim *service.SimulatorService) ws.SnapshotFunc {
	return func() [][]byte {
		envs := []service.Envelope{
			{Type: service.MessageStatus, Data: sim.Status()},
			{Type: service.MessageMetrics, Data: sim.Metrics()},
			{Type: service.MessageBook, Data: sim.Book()},
		}
		out := make([][]byte, 0, len(envs))
		for _, env := range envs {
			if b, err := json.Marshal(env); err == nil {
				out = append(out, b)
			}
		}
		return out
	}
}
