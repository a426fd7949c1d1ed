package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/tradesim/internal/domain"
	"github.com/alanyoungcy/tradesim/internal/platform/okx"
)

// WSConfig configures WSSource.
type WSConfig struct {
	URL            string
	Exchange       string // used when a message carries none
	Symbol         string
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	// Jitter adds up to this fraction of the delay, e.g. 0.2. Zero disables it.
	Jitter float64
	// MaxReconnectDelay enables doubling backoff capped at this value. Zero
	// keeps the delay fixed.
	MaxReconnectDelay time.Duration
}

// WSSource streams snapshots from a websocket depth feed and reconnects on
// failure until Disconnect is called.
type WSSource struct {
	cfg    WSConfig
	logger *slog.Logger
	events chan Event
	state  atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWSSource creates a disconnected source.
func NewWSSource(cfg WSConfig, logger *slog.Logger) *WSSource {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &WSSource{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ws_source")),
		events: make(chan Event, eventBuffer),
	}
}

func (s *WSSource) Name() string { return "websocket" }

func (s *WSSource) Events() <-chan Event { return s.events }

func (s *WSSource) State() State { return State(s.state.Load()) }

// Connect starts the connection loop and returns immediately; the outcome of
// each attempt is reported on Events.
func (s *WSSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	if s.cfg.URL == "" {
		return fmt.Errorf("feed: ws connect: empty url")
	}

	// The loop outlives the caller's request context; only Disconnect ends it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.state.Store(int32(StateConnecting))
	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Disconnect cancels the connection loop and waits for it to exit.
func (s *WSSource) Disconnect() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	s.wg.Wait()
	s.state.Store(int32(StateDisconnected))
	s.logger.Info("ws feed stopped")
	return nil
}

func (s *WSSource) run(ctx context.Context) {
	defer s.wg.Done()

	delay := s.cfg.ReconnectDelay
	attempt := 0
	// One guard per session: a reconnect must not rewind the book either.
	guard := &orderGuard{}
	for {
		err := s.runConnection(ctx, guard)
		if ctx.Err() != nil {
			return
		}
		attempt++
		s.state.Store(int32(StateConnecting))
		s.logger.WarnContext(ctx, "ws feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		stop := ctx.Done()
		if !emit(stop, s.events, Event{Kind: EventError, Err: err, ReceivedAt: time.Now()}) ||
			!emit(stop, s.events, Event{Kind: EventStatus, Connected: false, ReceivedAt: time.Now()}) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.withJitter(delay)):
		}
		if !emit(stop, s.events, Event{Kind: EventReconnect, ReceivedAt: time.Now()}) {
			return
		}
		if s.cfg.MaxReconnectDelay > 0 {
			delay *= 2
			if delay > s.cfg.MaxReconnectDelay {
				delay = s.cfg.MaxReconnectDelay
			}
		}
	}
}

func (s *WSSource) withJitter(d time.Duration) time.Duration {
	if s.cfg.Jitter <= 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*s.cfg.Jitter*float64(d))
}

// runConnection holds one connection until it fails or ctx ends.
func (s *WSSource) runConnection(ctx context.Context, guard *orderGuard) error {
	client := okx.NewWSClient(s.cfg.URL, s.cfg.ConnectTimeout)
	defer client.Close()

	stop := ctx.Done()
	// Frames wait until the connected status has been emitted.
	ready := make(chan struct{})
	client.OnMessage(func(raw []byte, receivedAt time.Time) {
		select {
		case <-ready:
		case <-stop:
			return
		}
		emit(stop, s.events, s.decode(raw, receivedAt, guard))
	})

	connCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	err := client.Connect(connCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: ws: %w", err)
	}

	s.state.Store(int32(StateConnected))
	s.logger.InfoContext(ctx, "ws feed connected", slog.String("url", s.cfg.URL))
	if !emit(stop, s.events, Event{Kind: EventStatus, Connected: true, ReceivedAt: time.Now()}) {
		return ctx.Err()
	}
	close(ready)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-client.Done():
		if err := client.Err(); err != nil {
			return err
		}
		return fmt.Errorf("feed: ws: %w", domain.ErrWSDisconnect)
	}
}

// decode turns one frame into a snapshot or error event. Latency is the time
// spent parsing. Frames run on the connection's read loop, one at a time.
func (s *WSSource) decode(raw []byte, receivedAt time.Time, guard *orderGuard) Event {
	start := time.Now()
	dec, err := okx.DecodeDepth(raw, receivedAt)
	if err == nil {
		err = checkBook(dec.Book)
	}
	if err == nil {
		err = guard.admit(dec.Book.Timestamp)
	}
	if err != nil {
		s.logger.Debug("dropping ws frame", slog.String("error", err.Error()))
		return Event{Kind: EventError, Err: err, ReceivedAt: receivedAt}
	}
	if dec.Book.Exchange == "" {
		dec.Book.Exchange = s.cfg.Exchange
	}
	if dec.Book.Symbol == "" {
		dec.Book.Symbol = s.cfg.Symbol
	}
	if dec.Dropped > 0 {
		s.logger.Debug("dropped malformed levels", slog.Int("count", dec.Dropped))
	}
	return Event{
		Kind:       EventSnapshot,
		Book:       dec.Book,
		LatencyMs:  float64(time.Since(start)) / float64(time.Millisecond),
		ReceivedAt: receivedAt,
	}
}
