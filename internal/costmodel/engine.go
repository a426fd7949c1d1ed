package costmodel

import (
	"fmt"

	"github.com/alanyoungcy/tradesim/internal/domain"
)

// Config holds the model constants. The zero value is not useful; start from
// DefaultConfig.
type Config struct {
	ImpactCoefficient float64
	ShortfallPenalty  float64
}

// DefaultConfig returns the constants used in production.
func DefaultConfig() Config {
	return Config{
		ImpactCoefficient: DefaultImpactCoefficient,
		ShortfallPenalty:  DefaultShortfallPenalty,
	}
}

// Engine assembles slippage, fees, impact and the maker/taker split into one
// MetricsData. It holds no state between calls.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with cfg.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Compute estimates the cost of params against book. It does not set
// LatencyMs or ComputedAt; those belong to the caller.
//
// Degenerate input returns zero metrics (with the 50/50 split) and
// domain.ErrInvalidOrder or domain.ErrEmptyBook. Callers are expected to keep
// their previous estimate in that case.
func (e *Engine) Compute(book domain.OrderBook, params domain.OrderParameters) (domain.MetricsData, error) {
	if err := params.Validate(); err != nil {
		return domain.InitialMetrics(), fmt.Errorf("costmodel: compute: %w", err)
	}
	if book.IsEmpty() {
		return domain.InitialMetrics(), fmt.Errorf("costmodel: compute: %w", domain.ErrEmptyBook)
	}

	levels := book.Asks
	if params.Side == domain.SideSell {
		levels = book.Bids
	}
	best := levels[0].Price

	fill := WalkBook(params.Quantity, params.Side, levels, e.cfg.ShortfallPenalty)
	slippage := Slippage(params.Quantity, params.OrderType, params.Side, levels, e.cfg.ShortfallPenalty)

	notional := params.Quantity * best
	fees := Fees(params.Quantity, params.OrderType, params.FeeTier, best)
	var feesPct float64
	if notional > 0 {
		feesPct = fees / notional * 100
	}

	impact := MarketImpact(params.Quantity, params.Volatility, book.TotalVolume(), e.cfg.ImpactCoefficient)
	maker, taker := MakerTakerSplit(params.OrderType, params.Volatility)

	effective := fill.EffectivePrice
	if params.OrderType == domain.OrderTypeLimit {
		effective = best
	}

	mid, _ := book.MidPrice()
	spread, _ := book.Spread()

	return domain.MetricsData{
		SlippagePct:     slippage,
		FeesUSD:         fees,
		FeesPct:         feesPct,
		MarketImpactPct: impact,
		NetCostPct:      slippage + feesPct + impact,
		MakerPct:        maker,
		TakerPct:        taker,
		Notional:        notional,
		EffectivePrice:  effective,
		MidPrice:        mid,
		Spread:          spread,
		BookTimestamp:   book.Timestamp,
	}, nil
}
