package domain

import (
	"context"
	"time"
)

// OrderbookCache stores the latest orderbook per instrument.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, key string, book OrderBook) error
	GetSnapshot(ctx context.Context, key string) (OrderBook, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus provides pub/sub for presentation updates.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Channels published on the SignalBus.
const (
	ChannelMetrics = "ch:metrics"
	ChannelBook    = "ch:book"
	ChannelStatus  = "ch:status"
)

// MetricsStream is a capped log of recent estimates, newest first on read.
type MetricsStream interface {
	Append(ctx context.Context, rec MetricsRecord) error
	Recent(ctx context.Context, n int) ([]MetricsRecord, error)
}
