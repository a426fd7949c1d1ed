package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/alanyoungcy/tradesim/internal/domain"
	"github.com/alanyoungcy/tradesim/internal/pipeline"
)

// UpdateFeed is the part of the pipeline sinks subscribe to.
type UpdateFeed interface {
	Subscribe() (<-chan pipeline.Update, func())
}

// BroadcasterConfig configures a Broadcaster.
type BroadcasterConfig struct {
	// Every throttles publishing; zero publishes every update.
	Every time.Duration
	Mode  string
}

// Broadcaster pushes pipeline updates onto the signal bus and keeps the
// latest book in the orderbook cache. Redis failures trip a circuit breaker
// so a dead redis does not cost one timeout per update.
type Broadcaster struct {
	feed    UpdateFeed
	bus     domain.SignalBus
	books   domain.OrderbookCache
	breaker *gobreaker.CircuitBreaker
	cfg     BroadcasterConfig
	logger  *slog.Logger

	lastBook time.Time
}

// NewBroadcaster creates a Broadcaster. books may be nil.
func NewBroadcaster(
	feed UpdateFeed,
	bus domain.SignalBus,
	books domain.OrderbookCache,
	cfg BroadcasterConfig,
	logger *slog.Logger,
) *Broadcaster {
	logger = logger.With(slog.String("component", "broadcaster"))
	st := gobreaker.Settings{
		Name:     "redis-publish",
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}
	return &Broadcaster{
		feed:    feed,
		bus:     bus,
		books:   books,
		breaker: gobreaker.NewCircuitBreaker(st),
		cfg:     cfg,
		logger:  logger,
	}
}

// Run publishes updates until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	updates, cancel := b.feed.Subscribe()
	defer cancel()

	if b.cfg.Every <= 0 {
		for {
			select {
			case <-ctx.Done():
				return nil
			case u := <-updates:
				b.Broadcast(ctx, u)
			}
		}
	}

	ticker := time.NewTicker(b.cfg.Every)
	defer ticker.Stop()

	var (
		pending pipeline.Update
		dirty   bool
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			pending, dirty = u, true
		case <-ticker.C:
			if dirty {
				b.Broadcast(ctx, pending)
				dirty = false
			}
		}
	}
}

// Broadcast publishes one update on every channel. Failures are logged and
// never returned since the next update supersedes this one. Broadcast is
// called from Run and is not safe for concurrent use.
func (b *Broadcaster) Broadcast(ctx context.Context, u pipeline.Update) {
	status := StatusView{Status: u.Status, Mode: b.cfg.Mode, Stats: NewStatsView(u.Stats)}

	b.publish(ctx, domain.ChannelMetrics, Envelope{Type: MessageMetrics, Seq: u.Seq, Data: u.Metrics})
	b.publish(ctx, domain.ChannelBook, Envelope{Type: MessageBook, Seq: u.Seq, Data: NewBookView(u.Book)})
	b.publish(ctx, domain.ChannelStatus, Envelope{Type: MessageStatus, Seq: u.Seq, Data: status})

	if b.books != nil && !u.Book.IsEmpty() && !u.Book.Timestamp.Equal(b.lastBook) {
		key := BookKey(u.Book)
		_, err := b.breaker.Execute(func() (any, error) {
			return nil, b.books.SetSnapshot(ctx, key, u.Book)
		})
		if err != nil {
			b.logFailure(ctx, "cache book", key, err)
			return
		}
		b.lastBook = u.Book.Timestamp
	}
}

func (b *Broadcaster) publish(ctx context.Context, channel string, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		b.logger.ErrorContext(ctx, "marshal broadcast",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	_, err = b.breaker.Execute(func() (any, error) {
		return nil, b.bus.Publish(ctx, channel, payload)
	})
	if err != nil {
		b.logFailure(ctx, "publish", channel, err)
	}
}

func (b *Broadcaster) logFailure(ctx context.Context, op, target string, err error) {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.DebugContext(ctx, op+" skipped, breaker open", slog.String("target", target))
		return
	}
	b.logger.WarnContext(ctx, op+" failed",
		slog.String("target", target),
		slog.String("error", err.Error()),
	)
}

// BookKey names a book in the orderbook cache.
func BookKey(book domain.OrderBook) string {
	exchange, symbol := book.Exchange, book.Symbol
	if exchange == "" {
		exchange = "unknown"
	}
	if symbol == "" {
		symbol = "unknown"
	}
	return fmt.Sprintf("%s:%s", exchange, symbol)
}
