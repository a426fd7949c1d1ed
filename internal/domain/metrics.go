package domain

import (
	"math"
	"time"
)

// MetricsData is one complete cost estimate. A new value supersedes the old
// one as a whole; consumers never see a partially updated estimate.
type MetricsData struct {
	SlippagePct     float64   `json:"slippage_pct"`
	FeesUSD         float64   `json:"fees_usd"`
	FeesPct         float64   `json:"fees_pct"`
	MarketImpactPct float64   `json:"market_impact_pct"`
	NetCostPct      float64   `json:"net_cost_pct"`
	MakerPct        float64   `json:"maker_pct"`
	TakerPct        float64   `json:"taker_pct"`
	LatencyMs       float64   `json:"latency_ms"`
	Notional        float64   `json:"notional"`
	EffectivePrice  float64   `json:"effective_price"`
	MidPrice        float64   `json:"mid_price"`
	Spread          float64   `json:"spread"`
	BookTimestamp   time.Time `json:"book_timestamp"`
	ComputedAt      time.Time `json:"computed_at"`

	// Regression forecast from past market walks at this pipeline; zero until
	// the history spans two quantities.
	EstimatedSlippagePct float64 `json:"estimated_slippage_pct,omitempty"`
	EstimateConfidence   float64 `json:"estimate_confidence,omitempty"`
}

// InitialMetrics is the value shown before the first computation.
func InitialMetrics() MetricsData {
	return MetricsData{MakerPct: 50, TakerPct: 50}
}

// PerformanceStats are the rolling counters of one source session. Counters
// only ever grow within a session.
type PerformanceStats struct {
	SessionID      string    `json:"session_id"`
	StartedAt      time.Time `json:"started_at"`
	TotalUpdates   int64     `json:"total_updates"`
	TotalLatencyMs float64   `json:"total_latency_ms"`
	MaxLatencyMs   float64   `json:"max_latency_ms"`
	MinLatencyMs   float64   `json:"min_latency_ms"`
	ErrorCount     int64     `json:"error_count"`
	ReconnectCount int64     `json:"reconnect_count"`

	// Statistics over the trailing sample window only.
	WindowSize  int     `json:"window_size"`
	WindowAvgMs float64 `json:"window_avg_ms"`
	WindowP50Ms float64 `json:"window_p50_ms"`
	WindowP99Ms float64 `json:"window_p99_ms"`
}

// AverageLatencyMs is TotalLatencyMs/TotalUpdates, or 0 before any update.
func (s PerformanceStats) AverageLatencyMs() float64 {
	if s.TotalUpdates == 0 {
		return 0
	}
	return s.TotalLatencyMs / float64(s.TotalUpdates)
}

// HasMinLatency is false while MinLatencyMs still holds the +Inf sentinel.
func (s PerformanceStats) HasMinLatency() bool {
	return !math.IsInf(s.MinLatencyMs, 1)
}

// MetricsRecord is a persisted metrics estimate with the inputs that
// produced it.
type MetricsRecord struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	Source    string          `json:"source"`
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Params    OrderParameters `json:"params"`
	Metrics   MetricsData     `json:"metrics"`
	CreatedAt time.Time       `json:"created_at"`
}
