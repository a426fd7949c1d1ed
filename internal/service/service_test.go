package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradesim/internal/costmodel"
	"github.com/alanyoungcy/tradesim/internal/domain"
	"github.com/alanyoungcy/tradesim/internal/feed"
	"github.com/alanyoungcy/tradesim/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

type fakeBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
	err      error
	calls    int
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.messages == nil {
		f.messages = map[string][][]byte{}
	}
	f.messages[channel] = append(f.messages[channel], payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

type fakeBooks struct {
	keys []string
}

func (f *fakeBooks) SetSnapshot(_ context.Context, key string, _ domain.OrderBook) error {
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeBooks) GetSnapshot(context.Context, string) (domain.OrderBook, error) {
	return domain.OrderBook{}, domain.ErrNotFound
}

type fakeMetricsStore struct {
	inserted []domain.MetricsRecord
}

func (f *fakeMetricsStore) Insert(_ context.Context, rec domain.MetricsRecord) error {
	f.inserted = append(f.inserted, rec)
	return nil
}

func (f *fakeMetricsStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.MetricsRecord, error) {
	out := f.inserted
	if opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeMetricsStore) ListBefore(context.Context, time.Time) ([]domain.MetricsRecord, error) {
	return nil, nil
}

func (f *fakeMetricsStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeSessions struct {
	upserts []domain.PerformanceStats
}

func (f *fakeSessions) Upsert(_ context.Context, _ string, stats domain.PerformanceStats) error {
	f.upserts = append(f.upserts, stats)
	return nil
}

func (f *fakeSessions) Get(context.Context, string) (domain.PerformanceStats, error) {
	return domain.PerformanceStats{}, domain.ErrNotFound
}

func testUpdate(seq uint64, session string, computedAt time.Time) pipeline.Update {
	book := domain.ReferenceBook(time.Unix(1700000000, 0))
	book.Exchange, book.Symbol = "OKX", "BTC-USDT-SWAP"
	return pipeline.Update{
		Seq:        seq,
		Recomputed: true,
		Metrics:    domain.MetricsData{NetCostPct: 0.12, ComputedAt: computedAt},
		Book:       book,
		Stats:      domain.PerformanceStats{SessionID: session, TotalUpdates: int64(seq), MinLatencyMs: math.Inf(1)},
		Status:     pipeline.Status{Source: "synthetic", State: "connected", Connected: true, SessionID: session},
	}
}

func TestNewBookView(t *testing.T) {
	v := NewBookView(domain.OrderBook{})
	assert.Equal(t, unavailable, v.MidPrice)
	assert.Equal(t, unavailable, v.Spread)
	assert.Equal(t, unavailable, v.BestBid)
	assert.NotNil(t, v.Bids)

	book := domain.OrderBook{
		Bids: []domain.PriceLevel{{Price: 99, Size: 1}, {Price: 98, Size: 2}},
		Asks: []domain.PriceLevel{{Price: 101, Size: 0.5}},
	}
	v = NewBookView(book)
	assert.Equal(t, "100.00", v.MidPrice)
	assert.Equal(t, "2.00", v.Spread)
	assert.Equal(t, "99.00", v.BestBid)
	assert.Equal(t, []domain.CumulativeLevel{{Price: 99, Total: 1}, {Price: 98, Total: 3}}, v.CumBids)
}

func TestNewStatsView_MinLatencyUnset(t *testing.T) {
	v := NewStatsView(domain.PerformanceStats{MinLatencyMs: math.Inf(1)})
	assert.Nil(t, v.MinLatencyMs)
	assert.Equal(t, unavailable, v.MinLatency)
	assert.Zero(t, v.AvgLatencyMs)

	// Must be encodable; +Inf is not valid JSON.
	_, err := json.Marshal(v)
	require.NoError(t, err)

	v = NewStatsView(domain.PerformanceStats{TotalUpdates: 2, TotalLatencyMs: 6, MinLatencyMs: 1.5, MaxLatencyMs: 4.5})
	require.NotNil(t, v.MinLatencyMs)
	assert.Equal(t, 1.5, *v.MinLatencyMs)
	assert.Equal(t, "1.50", v.MinLatency)
	assert.Equal(t, 3.0, v.AvgLatencyMs)
}

func TestBroadcaster_PublishesAllChannels(t *testing.T) {
	bus := &fakeBus{}
	books := &fakeBooks{}
	b := NewBroadcaster(nil, bus, books, BroadcasterConfig{Mode: "serve"}, testLogger())

	u := testUpdate(7, "s1", time.Now())
	b.Broadcast(context.Background(), u)
	b.Broadcast(context.Background(), u)

	require.Len(t, bus.messages[domain.ChannelMetrics], 2)
	require.Len(t, bus.messages[domain.ChannelBook], 2)
	require.Len(t, bus.messages[domain.ChannelStatus], 2)

	var env struct {
		Type string          `json:"type"`
		Seq  uint64          `json:"seq"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(bus.messages[domain.ChannelMetrics][0], &env))
	assert.Equal(t, MessageMetrics, env.Type)
	assert.Equal(t, uint64(7), env.Seq)

	var status StatusView
	require.NoError(t, json.Unmarshal(bus.messages[domain.ChannelStatus][0], &env))
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, "serve", status.Mode)
	assert.Equal(t, "s1", status.SessionID)

	// Same book timestamp is cached once.
	assert.Equal(t, []string{"OKX:BTC-USDT-SWAP"}, books.keys)
}

func TestBroadcaster_BreakerOpensOnFailures(t *testing.T) {
	bus := &fakeBus{err: errors.New("redis down")}
	b := NewBroadcaster(nil, bus, nil, BroadcasterConfig{}, testLogger())

	for i := 0; i < 5; i++ {
		b.Broadcast(context.Background(), testUpdate(uint64(i), "s1", time.Now()))
	}
	// Three consecutive failures trip the breaker; later publishes are not attempted.
	assert.Equal(t, 3, bus.calls)
}

func TestRecorder_EveryNAndSessionFlush(t *testing.T) {
	store := &fakeMetricsStore{}
	sessions := &fakeSessions{}
	r := NewRecorder(nil, store, nil, sessions, RecorderConfig{EveryN: 2}, testLogger())
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	r.Observe(ctx, testUpdate(1, "s1", base))
	r.Observe(ctx, testUpdate(2, "s1", base.Add(time.Second)))
	// Unchanged ComputedAt is not a new estimate.
	r.Observe(ctx, testUpdate(3, "s1", base.Add(time.Second)))
	r.Observe(ctx, testUpdate(4, "s1", base.Add(2*time.Second)))
	r.Observe(ctx, testUpdate(5, "s1", base.Add(3*time.Second)))

	require.Len(t, store.inserted, 2)
	assert.Equal(t, base.Add(time.Second), store.inserted[0].CreatedAt)
	assert.Equal(t, "OKX", store.inserted[0].Exchange)
	assert.Equal(t, "synthetic", store.inserted[0].Source)
	assert.Empty(t, sessions.upserts)

	// A new session flushes the last counters of the old one.
	r.Observe(ctx, testUpdate(1, "s2", base.Add(4*time.Second)))
	require.Len(t, sessions.upserts, 1)
	assert.Equal(t, "s1", sessions.upserts[0].SessionID)
	assert.Equal(t, int64(5), sessions.upserts[0].TotalUpdates)
}

type fakeArchiver struct {
	cutoffs []time.Time
}

func (f *fakeArchiver) ArchiveMetrics(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 3, nil
}

func TestArchiveJob_Cutoff(t *testing.T) {
	arch := &fakeArchiver{}
	job := NewArchiveJob(arch, time.Hour, 30, testLogger())
	job.now = func() time.Time { return time.Date(2026, 10, 14, 15, 42, 0, 0, time.UTC) }

	n, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.Len(t, arch.cutoffs, 1)
	assert.Equal(t, time.Date(2026, 9, 14, 15, 0, 0, 0, time.UTC), arch.cutoffs[0])
}

type fakeController struct {
	params   domain.OrderParameters
	defaults domain.OrderParameters
	set      []domain.OrderParameters
	book     domain.OrderBook
}

func (f *fakeController) Subscribe() (<-chan pipeline.Update, func()) {
	return make(chan pipeline.Update), func() {}
}
func (f *fakeController) UpdateParams(fn func(domain.OrderParameters) (domain.OrderParameters, error)) (domain.OrderParameters, error) {
	p, err := fn(f.params)
	if err != nil {
		return domain.OrderParameters{}, err
	}
	f.set = append(f.set, p)
	f.params = p
	return p, nil
}
func (f *fakeController) Connect(context.Context) error    { return nil }
func (f *fakeController) Disconnect(context.Context) error { return nil }
func (f *fakeController) ResetParams(context.Context) error {
	f.params = f.defaults
	return nil
}
func (f *fakeController) Metrics() domain.MetricsData      { return domain.InitialMetrics() }
func (f *fakeController) Book() domain.OrderBook           { return f.book }
func (f *fakeController) Params() domain.OrderParameters   { return f.params }
func (f *fakeController) Stats() domain.PerformanceStats   { return domain.PerformanceStats{} }
func (f *fakeController) Status() pipeline.Status          { return pipeline.Status{} }
func (f *fakeController) Defaults() domain.OrderParameters { return f.defaults }

func newTestService(store domain.MetricsStore) (*SimulatorService, *fakeController) {
	tiers := domain.DefaultFeeTiers()
	defaults := domain.OrderParameters{
		Quantity: 1, OrderType: domain.OrderTypeMarket, Side: domain.SideBuy,
		FeeTier: tiers[0], Volatility: 2,
	}
	ctl := &fakeController{params: defaults, defaults: defaults}
	return NewSimulatorService(ctl, domain.NewFeeCatalog(tiers), store, nil, "serve"), ctl
}

func TestSimulatorService_UpdateParams(t *testing.T) {
	svc, ctl := newTestService(nil)

	got, err := svc.UpdateParams(ParamsUpdate{
		Quantity:  ptr(2.5),
		OrderType: ptr("LIMIT"),
		Side:      ptr("sell"),
		FeeTier:   ptr("tier3"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2.5, got.Quantity)
	assert.Equal(t, domain.OrderTypeLimit, got.OrderType)
	assert.Equal(t, domain.SideSell, got.Side)
	assert.Equal(t, "tier3", got.FeeTier.ID)
	assert.Equal(t, 2.0, got.Volatility)
	require.Len(t, ctl.set, 1)

	got, err = svc.UpdateParams(ParamsUpdate{TradingVolumeUSD: ptr(600_000.0)})
	require.NoError(t, err)
	assert.Equal(t, "tier4", got.FeeTier.ID)
}

func TestSimulatorService_UpdateParamsRejects(t *testing.T) {
	svc, ctl := newTestService(nil)

	_, err := svc.UpdateParams(ParamsUpdate{Quantity: ptr(0.0)})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = svc.UpdateParams(ParamsUpdate{FeeTier: ptr("gold")})
	assert.ErrorIs(t, err, domain.ErrUnknownFeeTier)
	_, err = svc.UpdateParams(ParamsUpdate{Volatility: ptr(250.0)})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Empty(t, ctl.set)
}

func TestSimulatorService_ResetParams(t *testing.T) {
	svc, ctl := newTestService(nil)
	_, err := svc.UpdateParams(ParamsUpdate{Quantity: ptr(9.0)})
	require.NoError(t, err)

	got, err := svc.ResetParams(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Quantity)
	assert.Equal(t, 1.0, ctl.params.Quantity)
}

func TestSimulatorService_History(t *testing.T) {
	svc, _ := newTestService(nil)
	_, err := svc.History(context.Background(), 10)
	assert.ErrorIs(t, err, ErrHistoryUnavailable)

	store := &fakeMetricsStore{inserted: make([]domain.MetricsRecord, 3)}
	svc, _ = newTestService(store)
	recs, err := svc.History(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestSimulatorService_PartialUpdatesAccumulate(t *testing.T) {
	tiers := domain.DefaultFeeTiers()
	defaults := domain.OrderParameters{
		Quantity: 1, OrderType: domain.OrderTypeMarket, Side: domain.SideBuy,
		FeeTier: tiers[0], Volatility: 2,
	}
	src := feed.NewSyntheticSource(feed.SyntheticConfig{Seed: 7, Cadence: time.Hour}, testLogger())
	p := pipeline.New(costmodel.NewEngine(costmodel.DefaultConfig()), src, pipeline.Config{Defaults: defaults}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	svc := NewSimulatorService(p, domain.NewFeeCatalog(tiers), nil, nil, "serve")
	for i := 0; i < 100; i++ {
		qty := float64(10 + i)
		vol := float64(i%90) + 0.5

		_, err := svc.UpdateParams(ParamsUpdate{Quantity: ptr(qty)})
		require.NoError(t, err)
		got, err := svc.UpdateParams(ParamsUpdate{Volatility: ptr(vol)})
		require.NoError(t, err)
		assert.Equal(t, qty, got.Quantity)

		require.Eventually(t, func() bool {
			cur := p.Params()
			return cur.Quantity == qty && cur.Volatility == vol
		}, 2*time.Second, time.Millisecond, "iteration %d", i)
	}

	_, err := svc.ResetParams(context.Background())
	require.NoError(t, err)
	_, err = svc.UpdateParams(ParamsUpdate{Side: ptr("sell")})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Params().Side == domain.SideSell }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1.0, p.Params().Quantity)
}

func TestSimulatorService_ExecutionPlan(t *testing.T) {
	svc, ctl := newTestService(nil)

	_, err := svc.ExecutionPlan(4)
	assert.ErrorIs(t, err, domain.ErrEmptyBook)

	ctl.book = domain.ReferenceBook(time.Time{})
	ctl.params.Quantity = 8
	ctl.params.Volatility = 30
	mid, ok := ctl.book.MidPrice()
	require.True(t, ok)

	plan, err := svc.ExecutionPlan(4)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 5)
	assert.Equal(t, 8.0, plan.Steps[0].Remaining)
	assert.Zero(t, plan.Steps[0].Trade)
	assert.Zero(t, plan.Steps[4].Remaining)
	assert.Equal(t, 1.0, plan.Steps[4].AtHours)

	var traded float64
	for _, s := range plan.Steps {
		traded += s.Trade
	}
	assert.InDelta(t, 8, traded, 1e-9)
	assert.InDelta(t, mid, plan.MidPrice, 1e-12)
	assert.InDelta(t, plan.TotalCost-8*mid, plan.ImpactCost, 1e-6)
	assert.InDelta(t, plan.ImpactCost/(8*mid)*100, plan.ImpactPct, 1e-9)
	assert.Greater(t, plan.Kappa, 0.0)

	// Front-loaded: the first interval trades at least the TWAP slice.
	assert.GreaterOrEqual(t, plan.Steps[1].Trade, 2.0)

	_, err = svc.ExecutionPlan(0)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = svc.ExecutionPlan(MaxPlanSteps + 1)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	svc.SetExecutionModel(costmodel.ExecutionModel{PermanentImpact: 0.1, TemporaryImpact: 0, RiskAversion: 0.1, Horizon: 1})
	_, err = svc.ExecutionPlan(4)
	assert.ErrorIs(t, err, costmodel.ErrInvalidExecutionModel)
}
