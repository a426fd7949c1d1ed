package service

import (
	"strconv"
	"time"

	"github.com/alanyoungcy/tradesim/internal/domain"
	"github.com/alanyoungcy/tradesim/internal/pipeline"
)

// unavailable is shown in place of a value that cannot be derived yet.
const unavailable = "-"

func formatOrDash(v float64, ok bool) string {
	if !ok {
		return unavailable
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// BookView is the presentation form of an orderbook: raw levels, cumulative
// depth per side, and display strings for the top of book.
type BookView struct {
	Exchange  string                   `json:"exchange"`
	Symbol    string                   `json:"symbol"`
	Bids      []domain.PriceLevel      `json:"bids"`
	Asks      []domain.PriceLevel      `json:"asks"`
	CumBids   []domain.CumulativeLevel `json:"cumulative_bids"`
	CumAsks   []domain.CumulativeLevel `json:"cumulative_asks"`
	BestBid   string                   `json:"best_bid"`
	BestAsk   string                   `json:"best_ask"`
	MidPrice  string                   `json:"mid_price"`
	Spread    string                   `json:"spread"`
	Timestamp time.Time                `json:"timestamp"`
}

// NewBookView derives the view of book.
func NewBookView(book domain.OrderBook) BookView {
	bid, bidOK := book.BestBid()
	ask, askOK := book.BestAsk()
	mid, midOK := book.MidPrice()
	spread, spreadOK := book.Spread()

	v := BookView{
		Exchange:  book.Exchange,
		Symbol:    book.Symbol,
		Bids:      book.Bids,
		Asks:      book.Asks,
		CumBids:   domain.DeriveCumulative(book.Bids),
		CumAsks:   domain.DeriveCumulative(book.Asks),
		BestBid:   formatOrDash(bid.Price, bidOK),
		BestAsk:   formatOrDash(ask.Price, askOK),
		MidPrice:  formatOrDash(mid, midOK),
		Spread:    formatOrDash(spread, spreadOK),
		Timestamp: book.Timestamp,
	}
	if v.Bids == nil {
		v.Bids = []domain.PriceLevel{}
	}
	if v.Asks == nil {
		v.Asks = []domain.PriceLevel{}
	}
	return v
}

// StatsView is the presentation form of session statistics. MinLatencyMs is
// null and MinLatency is "-" until the first update.
type StatsView struct {
	SessionID      string    `json:"session_id"`
	StartedAt      time.Time `json:"started_at"`
	TotalUpdates   int64     `json:"total_updates"`
	AvgLatencyMs   float64   `json:"avg_latency_ms"`
	MaxLatencyMs   float64   `json:"max_latency_ms"`
	MinLatencyMs   *float64  `json:"min_latency_ms"`
	MinLatency     string    `json:"min_latency"`
	ErrorCount     int64     `json:"error_count"`
	ReconnectCount int64     `json:"reconnect_count"`
	WindowSize     int       `json:"window_size"`
	WindowAvgMs    float64   `json:"window_avg_ms"`
	P50LatencyMs   float64   `json:"p50_latency_ms"`
	P99LatencyMs   float64   `json:"p99_latency_ms"`
}

// NewStatsView converts stats for display.
func NewStatsView(s domain.PerformanceStats) StatsView {
	v := StatsView{
		SessionID:      s.SessionID,
		StartedAt:      s.StartedAt,
		TotalUpdates:   s.TotalUpdates,
		AvgLatencyMs:   s.AverageLatencyMs(),
		MaxLatencyMs:   s.MaxLatencyMs,
		MinLatency:     formatOrDash(s.MinLatencyMs, s.HasMinLatency()),
		ErrorCount:     s.ErrorCount,
		ReconnectCount: s.ReconnectCount,
		WindowSize:     s.WindowSize,
		WindowAvgMs:    s.WindowAvgMs,
		P50LatencyMs:   s.WindowP50Ms,
		P99LatencyMs:   s.WindowP99Ms,
	}
	if s.HasMinLatency() {
		minMs := s.MinLatencyMs
		v.MinLatencyMs = &minMs
	}
	return v
}

// StatusView is what ch:status and GET /api/status carry.
type StatusView struct {
	pipeline.Status
	Mode  string    `json:"mode,omitempty"`
	Stats StatsView `json:"stats"`
}

// Envelope wraps every message pushed to websocket clients.
type Envelope struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
	Data any    `json:"data"`
}

// Message types carried in Envelope.Type.
const (
	MessageMetrics = "metrics"
	MessageBook    = "orderbook"
	MessageStatus  = "status"
)
