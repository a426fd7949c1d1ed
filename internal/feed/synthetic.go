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
)

const (
	syntheticMid    = 61254.0
	syntheticBand   = 5.0
	syntheticLevels = 5
	syntheticStep   = 0.7
)

// SyntheticConfig configures SyntheticSource. Zero fields take defaults.
type SyntheticConfig struct {
	Exchange string
	Symbol   string
	Cadence  time.Duration
	Seed     uint64
	Rand     *rand.Rand
	Now      func() time.Time
}

// SyntheticSource emits a random orderbook around a fixed mid on every tick.
// It never fails, so it only ever emits snapshot and status events.
type SyntheticSource struct {
	cfg    SyntheticConfig
	rng    *rand.Rand
	logger *slog.Logger
	events chan Event
	state  atomic.Int32

	mu     sync.Mutex
	stop   chan struct{}
	wg     sync.WaitGroup
	lastTS time.Time
}

// NewSyntheticSource creates a disconnected source.
func NewSyntheticSource(cfg SyntheticConfig, logger *slog.Logger) *SyntheticSource {
	if cfg.Exchange == "" {
		cfg.Exchange = "OKX"
	}
	if cfg.Symbol == "" {
		cfg.Symbol = "BTC-USDT-SWAP"
	}
	if cfg.Cadence <= 0 {
		cfg.Cadence = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	rng := cfg.Rand
	if rng == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &SyntheticSource{
		cfg:    cfg,
		rng:    rng,
		logger: logger.With(slog.String("component", "synthetic_source")),
		events: make(chan Event, eventBuffer),
	}
}

func (s *SyntheticSource) Name() string { return "synthetic" }

func (s *SyntheticSource) Events() <-chan Event { return s.events }

func (s *SyntheticSource) State() State { return State(s.state.Load()) }

// Connect starts the ticker goroutine. The first snapshot is emitted
// immediately.
func (s *SyntheticSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("feed: synthetic connect: %w", err)
	}

	s.stop = make(chan struct{})
	s.state.Store(int32(StateConnected))
	s.wg.Add(1)
	go s.run(s.stop)
	s.logger.InfoContext(ctx, "synthetic feed started", slog.Duration("cadence", s.cfg.Cadence))
	return nil
}

// Disconnect stops the ticker and waits for it.
func (s *SyntheticSource) Disconnect() error {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	s.wg.Wait()
	s.state.Store(int32(StateDisconnected))
	s.logger.Info("synthetic feed stopped")
	return nil
}

func (s *SyntheticSource) run(stop <-chan struct{}) {
	defer s.wg.Done()

	if !emit(stop, s.events, Event{Kind: EventStatus, Connected: true, ReceivedAt: s.cfg.Now()}) {
		return
	}

	ticker := time.NewTicker(s.cfg.Cadence)
	defer ticker.Stop()
	for {
		if !s.tick(stop) {
			return
		}
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (s *SyntheticSource) tick(stop <-chan struct{}) bool {
	book := s.Generate()
	ev := Event{
		Kind:       EventSnapshot,
		Book:       book,
		LatencyMs:  1 + s.rng.Float64()*14,
		ReceivedAt: book.Timestamp,
	}
	if err := checkBook(book); err != nil {
		ev = Event{Kind: EventError, Err: fmt.Errorf("feed: synthetic: %w", err), ReceivedAt: book.Timestamp}
	}
	return emit(stop, s.events, ev)
}

// Generate builds one book. It uses the source's random stream and must not
// be called concurrently with a connected source.
func (s *SyntheticSource) Generate() domain.OrderBook {
	mid := syntheticMid + (s.rng.Float64()*2*syntheticBand - syntheticBand)

	bids := make([]domain.PriceLevel, syntheticLevels)
	for i := range bids {
		bids[i] = domain.PriceLevel{
			Price: mid - float64(i)*syntheticStep - s.rng.Float64()*0.5,
			Size:  0.5 + s.rng.Float64()*3,
		}
	}
	asks := make([]domain.PriceLevel, syntheticLevels)
	for i := range asks {
		asks[i] = domain.PriceLevel{
			Price: mid + float64(i)*syntheticStep + s.rng.Float64()*0.5,
			Size:  0.5 + s.rng.Float64()*3,
		}
	}

	ts := s.cfg.Now()
	if ts.Before(s.lastTS) {
		ts = s.lastTS
	}
	s.lastTS = ts

	return domain.OrderBook{
		Exchange:  s.cfg.Exchange,
		Symbol:    s.cfg.Symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
	}
}
