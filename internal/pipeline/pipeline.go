// Package pipeline joins a snapshot source with caller-owned order
// parameters and keeps the latest cost estimate current.
//
// All state changes happen on the goroutine running Pipeline.Run. Readers
// get immutable snapshots through atomic pointers, so a reader either sees
// the previous estimate or the next one, never a mix.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/tradesim/internal/costmodel"
	"github.com/alanyoungcy/tradesim/internal/domain"
	"github.com/alanyoungcy/tradesim/internal/feed"
	"github.com/google/uuid"
)

// ErrStopped is returned by commands issued after Run has returned.
var ErrStopped = errors.New("pipeline: stopped")

// Status is the connection status shown to consumers.
type Status struct {
	Source    string    `json:"source"`
	State     string    `json:"state"`
	Connected bool      `json:"connected"`
	LatencyMs float64   `json:"latency_ms"`
	SessionID string    `json:"session_id"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Update is everything a sink needs after one loop iteration. Recomputed is
// true when Metrics holds a new estimate.
type Update struct {
	Seq        uint64
	Recomputed bool
	Metrics    domain.MetricsData
	Book       domain.OrderBook
	Params     domain.OrderParameters
	Stats      domain.PerformanceStats
	Status     Status
}

// Config configures a Pipeline.
type Config struct {
	Defaults        domain.OrderParameters
	Latency         costmodel.LatencySampler
	WindowSize      int
	SlippageHistory int
	Now             func() time.Time
}

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdDisconnect
	cmdResetParams
)

type command struct {
	kind  commandKind
	ctx   context.Context
	reply chan error
}

// Pipeline is the single writer of book, params, metrics and stats.
type Pipeline struct {
	engine  *costmodel.Engine
	source  feed.Source
	latency costmodel.LatencySampler
	cfg     Config
	logger  *slog.Logger

	// desired is the latest requested parameters. Writers merge into it
	// under desiredMu and poke paramsDirty; the loop copies it into params.
	desiredMu   sync.Mutex
	desired     domain.OrderParameters
	paramsDirty chan struct{}
	cmds        chan command
	stopped     chan struct{}
	stopOnce    sync.Once

	// Loop-owned.
	book     domain.OrderBook
	params   domain.OrderParameters
	metrics  domain.MetricsData
	stats    *Stats
	status   Status
	active   bool
	seq      uint64
	slippage *costmodel.SlippageEstimator

	// Published.
	metricsP atomic.Pointer[domain.MetricsData]
	bookP    atomic.Pointer[domain.OrderBook]
	paramsP  atomic.Pointer[domain.OrderParameters]
	statsP   atomic.Pointer[domain.PerformanceStats]
	statusP  atomic.Pointer[Status]

	subsMu sync.Mutex
	subs   map[int]chan Update
	nextID int
}

// New creates a pipeline over source. Until the first snapshot arrives the
// book is the reference mock book.
func New(engine *costmodel.Engine, source feed.Source, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Latency == nil {
		cfg.Latency = costmodel.MeasuredLatency{Now: cfg.Now}
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}

	p := &Pipeline{
		engine:      engine,
		source:      source,
		latency:     cfg.Latency,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "pipeline")),
		desired:     cfg.Defaults,
		paramsDirty: make(chan struct{}, 1),
		cmds:        make(chan command),
		stopped:     make(chan struct{}),
		book:        domain.ReferenceBook(cfg.Now()),
		params:      cfg.Defaults,
		metrics:     domain.InitialMetrics(),
		stats:       NewStats("", time.Time{}, cfg.WindowSize),
		slippage:    costmodel.NewSlippageEstimator(cfg.SlippageHistory),
		status: Status{
			Source: source.Name(),
			State:  feed.StateDisconnected.String(),
		},
		subs: make(map[int]chan Update),
	}
	p.status.UpdatedAt = cfg.Now()
	p.publish(false)
	return p
}

// Run processes events and commands until ctx is cancelled. The source is
// disconnected on the way out.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.stopOnce.Do(func() { close(p.stopped) })
	p.logger.InfoContext(ctx, "pipeline started", slog.String("source", p.source.Name()))

	events := p.source.Events()
	for {
		select {
		case <-ctx.Done():
			if p.active {
				p.disconnect()
			}
			p.logger.Info("pipeline stopped")
			return nil

		case cmd := <-p.cmds:
			cmd.reply <- p.handleCommand(cmd)

		case <-p.paramsDirty:
			p.params = p.loadDesired()
			recomputed := p.recompute(time.Time{})
			p.publish(recomputed)

		case ev := <-events:
			if !p.active {
				continue
			}
			p.handleEvent(ev)
		}
	}
}

// SetParams replaces the order parameters. It never blocks; a burst of
// calls between two loop iterations collapses into one recompute against
// the last value.
func (p *Pipeline) SetParams(params domain.OrderParameters) {
	p.desiredMu.Lock()
	p.desired = params
	p.desiredMu.Unlock()
	p.markDirty()
}

// UpdateParams applies fn to the latest requested parameters, not the last
// published ones, so consecutive partial updates build on each other even
// before the loop has caught up. An error from fn leaves them unchanged.
func (p *Pipeline) UpdateParams(fn func(domain.OrderParameters) (domain.OrderParameters, error)) (domain.OrderParameters, error) {
	p.desiredMu.Lock()
	next, err := fn(p.desired)
	if err != nil {
		p.desiredMu.Unlock()
		return domain.OrderParameters{}, err
	}
	p.desired = next
	p.desiredMu.Unlock()
	p.markDirty()
	return next, nil
}

func (p *Pipeline) loadDesired() domain.OrderParameters {
	p.desiredMu.Lock()
	defer p.desiredMu.Unlock()
	return p.desired
}

func (p *Pipeline) markDirty() {
	select {
	case p.paramsDirty <- struct{}{}:
	default:
	}
}

// Connect starts a new session if the source is not already running.
func (p *Pipeline) Connect(ctx context.Context) error {
	return p.do(ctx, cmdConnect)
}

// Disconnect stops the source. When it returns, no event from the ended
// session will change metrics or stats.
func (p *Pipeline) Disconnect(ctx context.Context) error {
	return p.do(ctx, cmdDisconnect)
}

// ResetParams restores the configured default parameters and returns once
// they are published.
func (p *Pipeline) ResetParams(ctx context.Context) error {
	p.desiredMu.Lock()
	p.desired = p.cfg.Defaults
	p.desiredMu.Unlock()
	return p.do(ctx, cmdResetParams)
}

func (p *Pipeline) do(ctx context.Context, kind commandKind) error {
	cmd := command{kind: kind, ctx: ctx, reply: make(chan error, 1)}
	select {
	case p.cmds <- cmd:
	case <-p.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) handleCommand(cmd command) error {
	switch cmd.kind {
	case cmdConnect:
		if p.active {
			return nil
		}
		if err := p.source.Connect(cmd.ctx); err != nil {
			return fmt.Errorf("pipeline: connect: %w", err)
		}
		now := p.cfg.Now()
		p.active = true
		p.stats = NewStats(uuid.NewString(), now, p.cfg.WindowSize)
		p.status.SessionID = p.stats.s.SessionID
		p.status.State = p.source.State().String()
		p.status.LastError = ""
		p.status.UpdatedAt = now
		p.logger.InfoContext(cmd.ctx, "session started", slog.String("session_id", p.status.SessionID))
		p.publish(false)
		return nil

	case cmdDisconnect:
		if !p.active {
			return nil
		}
		err := p.disconnect()
		p.publish(false)
		return err

	case cmdResetParams:
		// An update racing the reset already built on the defaults.
		p.params = p.loadDesired()
		p.publish(p.recompute(time.Time{}))
		return nil
	}
	return fmt.Errorf("pipeline: unknown command %d", cmd.kind)
}

// disconnect stops the source, discards anything it left buffered and
// retires the session.
func (p *Pipeline) disconnect() error {
	err := p.source.Disconnect()
	events := p.source.Events()
	for drained := false; !drained; {
		select {
		case <-events:
		default:
			drained = true
		}
	}

	p.active = false
	p.status.Connected = false
	p.status.LatencyMs = 0
	p.status.State = feed.StateDisconnected.String()
	p.status.UpdatedAt = p.cfg.Now()
	p.logger.Info("session ended",
		slog.String("session_id", p.status.SessionID),
		slog.Int64("updates", p.stats.s.TotalUpdates),
	)
	if err != nil {
		return fmt.Errorf("pipeline: disconnect: %w", err)
	}
	return nil
}

func (p *Pipeline) handleEvent(ev feed.Event) {
	p.status.UpdatedAt = p.cfg.Now()
	p.status.State = p.source.State().String()

	switch ev.Kind {
	case feed.EventSnapshot:
		p.stats.RecordUpdate(ev.LatencyMs)
		p.book = ev.Book
		p.status.Connected = true
		p.status.LatencyMs = ev.LatencyMs
		p.publish(p.recompute(ev.ReceivedAt))

	case feed.EventStatus:
		p.status.Connected = ev.Connected
		if !ev.Connected {
			p.status.LatencyMs = 0
		}
		p.publish(false)

	case feed.EventError:
		p.stats.RecordError()
		if ev.Err != nil {
			p.status.LastError = ev.Err.Error()
			p.logger.Warn("source error", slog.String("error", ev.Err.Error()))
		}
		p.publish(false)

	case feed.EventReconnect:
		p.stats.RecordReconnect()
		p.publish(false)
	}
}

// recompute refreshes metrics from the current book and params. It reports
// false, leaving the previous estimate in place, when either is unusable.
func (p *Pipeline) recompute(receivedAt time.Time) bool {
	if p.book.IsEmpty() || !(p.params.Quantity > 0) {
		return false
	}
	m, err := p.engine.Compute(p.book, p.params)
	if err != nil {
		p.logger.Debug("recompute skipped", slog.String("error", err.Error()))
		return false
	}
	if p.params.OrderType == domain.OrderTypeMarket {
		p.slippage.Observe(p.params.Quantity, m.SlippagePct)
		if est, ok := p.slippage.Estimate(p.params.Quantity); ok {
			m.EstimatedSlippagePct = est.SlippagePct
			m.EstimateConfidence = est.Confidence
		}
	}
	m.LatencyMs = p.latency.SampleMs(receivedAt)
	m.ComputedAt = p.cfg.Now()
	p.metrics = m
	return true
}

// publish swaps in fresh snapshots and notifies subscribers.
func (p *Pipeline) publish(recomputed bool) {
	p.seq++
	metrics := p.metrics
	book := p.book.Clone()
	params := p.params
	stats := p.stats.Snapshot()
	status := p.status

	p.metricsP.Store(&metrics)
	p.bookP.Store(&book)
	p.paramsP.Store(&params)
	p.statsP.Store(&stats)
	p.statusP.Store(&status)

	u := Update{
		Seq:        p.seq,
		Recomputed: recomputed,
		Metrics:    metrics,
		Book:       book,
		Params:     params,
		Stats:      stats,
		Status:     status,
	}

	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	for _, ch := range p.subs {
		// Latest wins: replace whatever the subscriber has not read yet.
		select {
		case <-ch:
		default:
		}
		ch <- u
	}
}

// Subscribe returns a channel that always holds the most recent update the
// subscriber has not consumed. Slow subscribers skip updates.
func (p *Pipeline) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 1)
	p.subsMu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	p.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subsMu.Lock()
			delete(p.subs, id)
			p.subsMu.Unlock()
		})
	}
}

// The accessors below are safe from any goroutine. Returned values share
// backing arrays with the published snapshot and must not be modified.

func (p *Pipeline) Metrics() domain.MetricsData      { return *p.metricsP.Load() }
func (p *Pipeline) Book() domain.OrderBook           { return *p.bookP.Load() }
func (p *Pipeline) Params() domain.OrderParameters   { return *p.paramsP.Load() }
func (p *Pipeline) Stats() domain.PerformanceStats   { return *p.statsP.Load() }
func (p *Pipeline) Status() Status                   { return *p.statusP.Load() }
func (p *Pipeline) Defaults() domain.OrderParameters { return p.cfg.Defaults }
