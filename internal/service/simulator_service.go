package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/tradesim/internal/costmodel"
	"github.com/alanyoungcy/tradesim/internal/domain"
	"github.com/alanyoungcy/tradesim/internal/pipeline"
)

// ErrHistoryUnavailable is returned by History when no history sink is
// configured.
var ErrHistoryUnavailable = errors.New("service: metrics history unavailable")

// MaxHistoryLimit caps how many records History returns.
const MaxHistoryLimit = 500

// Controller is the pipeline surface used by the presentation layer.
type Controller interface {
	UpdateFeed
	UpdateParams(fn func(domain.OrderParameters) (domain.OrderParameters, error)) (domain.OrderParameters, error)
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ResetParams(ctx context.Context) error
	Metrics() domain.MetricsData
	Book() domain.OrderBook
	Params() domain.OrderParameters
	Stats() domain.PerformanceStats
	Status() pipeline.Status
	Defaults() domain.OrderParameters
}

// ParamsUpdate is a partial change to the order parameters. Nil fields keep
// their current value. TradingVolumeUSD selects the fee tier by volume when
// FeeTier is not given.
type ParamsUpdate struct {
	Quantity         *float64 `json:"quantity,omitempty"`
	OrderType        *string  `json:"order_type,omitempty"`
	Side             *string  `json:"side,omitempty"`
	FeeTier          *string  `json:"fee_tier,omitempty"`
	Volatility       *float64 `json:"volatility,omitempty"`
	TradingVolumeUSD *float64 `json:"trading_volume_usd,omitempty"`
}

// SimulatorService exposes the pipeline and the fee catalog to handlers.
type SimulatorService struct {
	ctl     Controller
	catalog *domain.FeeCatalog
	store   domain.MetricsStore
	stream  domain.MetricsStream
	mode    string
	exec    costmodel.ExecutionModel
}

// NewSimulatorService creates a SimulatorService. store and stream may be
// nil; History prefers the store.
func NewSimulatorService(
	ctl Controller,
	catalog *domain.FeeCatalog,
	store domain.MetricsStore,
	stream domain.MetricsStream,
	mode string,
) *SimulatorService {
	return &SimulatorService{
		ctl:     ctl,
		catalog: catalog,
		store:   store,
		stream:  stream,
		mode:    mode,
		exec:    costmodel.NewExecutionModel(0),
	}
}

// Mode returns the run mode the service was started in.
func (s *SimulatorService) Mode() string { return s.mode }

// Metrics returns the latest estimate.
func (s *SimulatorService) Metrics() domain.MetricsData { return s.ctl.Metrics() }

// Book returns the presentation view of the current book.
func (s *SimulatorService) Book() BookView { return NewBookView(s.ctl.Book()) }

// Stats returns the current session statistics.
func (s *SimulatorService) Stats() StatsView { return NewStatsView(s.ctl.Stats()) }

// Status returns connection status with the session statistics.
func (s *SimulatorService) Status() StatusView {
	return StatusView{Status: s.ctl.Status(), Mode: s.mode, Stats: NewStatsView(s.ctl.Stats())}
}

// Params returns the current order parameters.
func (s *SimulatorService) Params() domain.OrderParameters { return s.ctl.Params() }

// FeeTiers returns the fee catalog.
func (s *SimulatorService) FeeTiers() []domain.FeeTier { return s.catalog.Tiers() }

// ApplyParams merges upd into params and validates the result.
func (s *SimulatorService) ApplyParams(params domain.OrderParameters, upd ParamsUpdate) (domain.OrderParameters, error) {
	if upd.Quantity != nil {
		params.Quantity = *upd.Quantity
	}
	if upd.OrderType != nil {
		ot, err := domain.ParseOrderType(*upd.OrderType)
		if err != nil {
			return params, err
		}
		params.OrderType = ot
	}
	if upd.Side != nil {
		side, err := domain.ParseSide(*upd.Side)
		if err != nil {
			return params, err
		}
		params.Side = side
	}
	switch {
	case upd.FeeTier != nil:
		tier, err := s.catalog.Lookup(*upd.FeeTier)
		if err != nil {
			return params, err
		}
		params.FeeTier = tier
	case upd.TradingVolumeUSD != nil:
		tier, ok := s.catalog.ForVolume(*upd.TradingVolumeUSD)
		if !ok {
			return params, fmt.Errorf("%w: empty fee catalog", domain.ErrUnknownFeeTier)
		}
		params.FeeTier = tier
	}
	if upd.Volatility != nil {
		params.Volatility = *upd.Volatility
	}
	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}

// UpdateParams merges upd into the latest requested parameters and hands
// the result to the pipeline, which recomputes asynchronously. Consecutive
// partial updates accumulate even before the first one is published.
func (s *SimulatorService) UpdateParams(upd ParamsUpdate) (domain.OrderParameters, error) {
	return s.ctl.UpdateParams(func(cur domain.OrderParameters) (domain.OrderParameters, error) {
		return s.ApplyParams(cur, upd)
	})
}

// ResetParams restores the default order parameters.
func (s *SimulatorService) ResetParams(ctx context.Context) (domain.OrderParameters, error) {
	if err := s.ctl.ResetParams(ctx); err != nil {
		return domain.OrderParameters{}, err
	}
	return s.ctl.Defaults(), nil
}

// Connect starts a feed session.
func (s *SimulatorService) Connect(ctx context.Context) error { return s.ctl.Connect(ctx) }

// Disconnect ends the feed session.
func (s *SimulatorService) Disconnect(ctx context.Context) error { return s.ctl.Disconnect(ctx) }

// History returns up to limit recent estimates, newest first.
func (s *SimulatorService) History(ctx context.Context, limit int) ([]domain.MetricsRecord, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	switch {
	case s.store != nil:
		recs, err := s.store.ListRecent(ctx, domain.ListOpts{Limit: limit})
		if err != nil {
			return nil, fmt.Errorf("service: history: %w", err)
		}
		return recs, nil
	case s.stream != nil:
		recs, err := s.stream.Recent(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("service: history: %w", err)
		}
		return recs, nil
	}
	return nil, ErrHistoryUnavailable
}
