package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/tradesim/internal/domain"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalBus_Publish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	bus := NewSignalBus(Wrap(db))
	ctx := context.Background()

	mock.ExpectPublish(domain.ChannelMetrics, []byte(`{"slippage_pct":0.5}`)).SetVal(1)
	require.NoError(t, bus.Publish(ctx, domain.ChannelMetrics, []byte(`{"slippage_pct":0.5}`)))

	mock.ExpectPublish(domain.ChannelBook, []byte("x")).SetErr(errors.New("connection refused"))
	err := bus.Publish(ctx, domain.ChannelBook, []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ch:book")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("ch:*"))
	assert.False(t, hasPattern(domain.ChannelStatus))
}

func TestOrderbookCache_SetSnapshot(t *testing.T) {
	db, mock := redismock.NewClientMock()
	ttl := time.Minute
	cache := NewOrderbookCache(Wrap(db), ttl)
	key := BookKey("OKX", "BTC-USDT-SWAP")

	book := domain.OrderBook{
		Exchange:  "OKX",
		Symbol:    "BTC-USDT-SWAP",
		Bids:      []domain.PriceLevel{{Price: 99.5, Size: 2}},
		Asks:      []domain.PriceLevel{{Price: 100, Size: 1.25}},
		Timestamp: time.Unix(1700000000, 0),
	}

	mock.ExpectTxPipeline()
	mock.ExpectDel(bookBidsKey(key), bookAsksKey(key), bookBidSizeKey(key), bookAskSizeKey(key), bookMetaKey(key)).SetVal(5)
	mock.ExpectZAdd(bookBidsKey(key), redis.Z{Score: 99.5, Member: "99.5"}).SetVal(1)
	mock.ExpectHSet(bookBidSizeKey(key), "99.5", "2").SetVal(1)
	mock.ExpectZAdd(bookAsksKey(key), redis.Z{Score: 100, Member: "100"}).SetVal(1)
	mock.ExpectHSet(bookAskSizeKey(key), "100", "1.25").SetVal(1)
	mock.ExpectHSet(bookMetaKey(key), "exchange", "OKX", "symbol", "BTC-USDT-SWAP", "ts", "1700000000000000000").SetVal(3)
	for _, k := range []string{bookBidsKey(key), bookAsksKey(key), bookBidSizeKey(key), bookAskSizeKey(key), bookMetaKey(key)} {
		mock.ExpectExpire(k, ttl).SetVal(true)
	}
	mock.ExpectTxPipelineExec()

	require.NoError(t, cache.SetSnapshot(context.Background(), key, book))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderbookCache_GetSnapshot(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewOrderbookCache(Wrap(db), 0)
	key := BookKey("OKX", "BTC-USDT-SWAP")

	mock.ExpectZRevRangeWithScores(bookBidsKey(key), 0, -1).SetVal([]redis.Z{{Score: 99.5, Member: "99.5"}, {Score: 99, Member: "99"}})
	mock.ExpectZRangeWithScores(bookAsksKey(key), 0, -1).SetVal([]redis.Z{{Score: 100, Member: "100"}})
	mock.ExpectHGetAll(bookBidSizeKey(key)).SetVal(map[string]string{"99.5": "2", "99": "0.5"})
	mock.ExpectHGetAll(bookAskSizeKey(key)).SetVal(map[string]string{"100": "1.25"})
	mock.ExpectHGetAll(bookMetaKey(key)).SetVal(map[string]string{"exchange": "OKX", "symbol": "BTC-USDT-SWAP", "ts": "1700000000000000000"})

	book, err := cache.GetSnapshot(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "OKX", book.Exchange)
	assert.Equal(t, time.Unix(1700000000, 0), book.Timestamp)
	assert.Equal(t, []domain.PriceLevel{{Price: 99.5, Size: 2}, {Price: 99, Size: 0.5}}, book.Bids)
	assert.Equal(t, []domain.PriceLevel{{Price: 100, Size: 1.25}}, book.Asks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderbookCache_GetSnapshotNotFound(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewOrderbookCache(Wrap(db), 0)
	key := BookKey("OKX", "ETH-USDT")

	mock.ExpectZRevRangeWithScores(bookBidsKey(key), 0, -1).SetVal(nil)
	mock.ExpectZRangeWithScores(bookAsksKey(key), 0, -1).SetVal(nil)
	mock.ExpectHGetAll(bookBidSizeKey(key)).SetVal(map[string]string{})
	mock.ExpectHGetAll(bookAskSizeKey(key)).SetVal(map[string]string{})
	mock.ExpectHGetAll(bookMetaKey(key)).SetVal(map[string]string{})

	_, err := cache.GetSnapshot(context.Background(), key)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMetricsStream(t *testing.T) {
	db, mock := redismock.NewClientMock()
	stream := NewMetricsStream(Wrap(db))
	ctx := context.Background()

	rec := domain.MetricsRecord{
		SessionID: "s1",
		Source:    "synthetic",
		Exchange:  "OKX",
		Symbol:    "BTC-USDT-SWAP",
		Metrics:   domain.MetricsData{SlippagePct: 0.5, NetCostPct: 0.7},
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: MetricsStreamKey,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": string(payload)},
	}).SetVal("1-0")
	require.NoError(t, stream.Append(ctx, rec))

	mock.ExpectXRevRangeN(MetricsStreamKey, "+", "-", 2).SetVal([]redis.XMessage{
		{ID: "1-0", Values: map[string]interface{}{"payload": string(payload)}},
		{ID: "0-1", Values: map[string]interface{}{"payload": "not json"}},
	})
	got, err := stream.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])

	empty, err := stream.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_Allow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(Wrap(db))
	now := time.UnixMicro(1_700_000_000_000_000)
	rl.now = func() time.Time { return now }
	rl.member = func() string { return "req-1" }
	sha := rl.slidingWindow.Hash()

	mock.ExpectEvalSha(sha, []string{"ratelimit:api:1.2.3.4"}, now.UnixMicro(), time.Second.Microseconds(), 5, "req-1").
		SetVal([]interface{}{int64(1), int64(1)})
	ok, err := rl.Allow(context.Background(), "api:1.2.3.4", 5, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectEvalSha(sha, []string{"ratelimit:api:1.2.3.4"}, now.UnixMicro(), time.Second.Microseconds(), 5, "req-1").
		SetVal([]interface{}{int64(0), int64(5)})
	ok, err = rl.Allow(context.Background(), "api:1.2.3.4", 5, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClientPing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := Wrap(db)

	mock.ExpectPing().SetVal("PONG")
	require.NoError(t, c.Ping(context.Background()))

	mock.ExpectPing().SetErr(errors.New("connection refused"))
	assert.ErrorContains(t, c.Ping(context.Background()), "redis: ping")
	assert.NoError(t, mock.ExpectationsWereMet())
}
