package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/tradesim/internal/domain"
	"github.com/redis/go-redis/v9"
)

// OrderbookCache implements domain.OrderbookCache using Redis sorted sets and
// hashes for each instrument's latest book.
//
// Key schema, where {key} is usually "{exchange}:{symbol}":
//
//	book:{key}:bids     - sorted set of bid prices (score = price)
//	book:{key}:asks     - sorted set of ask prices (score = price)
//	book:{key}:bid:size - hash mapping price -> size for bids
//	book:{key}:ask:size - hash mapping price -> size for asks
//	book:{key}:meta     - hash with "exchange", "symbol" and "ts" (unix nanos)
//
// Every key expires after ttl so a stopped feed does not leave a stale book
// behind indefinitely.
type OrderbookCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewOrderbookCache creates an OrderbookCache backed by the given Client. A
// zero ttl disables expiry.
func NewOrderbookCache(c *Client, ttl time.Duration) *OrderbookCache {
	return &OrderbookCache{rdb: c.Underlying(), ttl: ttl}
}

// BookKey is the cache key for an instrument.
func BookKey(exchange, symbol string) string { return exchange + ":" + symbol }

func bookBidsKey(key string) string    { return "book:" + key + ":bids" }
func bookAsksKey(key string) string    { return "book:" + key + ":asks" }
func bookBidSizeKey(key string) string { return "book:" + key + ":bid:size" }
func bookAskSizeKey(key string) string { return "book:" + key + ":ask:size" }
func bookMetaKey(key string) string    { return "book:" + key + ":meta" }

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// SetSnapshot atomically replaces the entire book for key. It clears existing
// data and repopulates the sorted sets, size hashes and the metadata hash.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, key string, book domain.OrderBook) error {
	bidsKey := bookBidsKey(key)
	asksKey := bookAsksKey(key)
	bidSizeKey := bookBidSizeKey(key)
	askSizeKey := bookAskSizeKey(key)
	metaKey := bookMetaKey(key)

	pipe := oc.rdb.TxPipeline()

	pipe.Del(ctx, bidsKey, asksKey, bidSizeKey, askSizeKey, metaKey)

	for _, lvl := range book.Bids {
		price := formatFloat(lvl.Price)
		pipe.ZAdd(ctx, bidsKey, redis.Z{Score: lvl.Price, Member: price})
		pipe.HSet(ctx, bidSizeKey, price, formatFloat(lvl.Size))
	}
	for _, lvl := range book.Asks {
		price := formatFloat(lvl.Price)
		pipe.ZAdd(ctx, asksKey, redis.Z{Score: lvl.Price, Member: price})
		pipe.HSet(ctx, askSizeKey, price, formatFloat(lvl.Size))
	}

	pipe.HSet(ctx, metaKey,
		"exchange", book.Exchange,
		"symbol", book.Symbol,
		"ts", strconv.FormatInt(book.Timestamp.UnixNano(), 10),
	)

	if oc.ttl > 0 {
		for _, k := range []string{bidsKey, asksKey, bidSizeKey, askSizeKey, metaKey} {
			pipe.Expire(ctx, k, oc.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set orderbook snapshot %s: %w", key, err)
	}
	return nil
}

// GetSnapshot reconstructs the book stored under key. It returns
// domain.ErrNotFound if nothing is stored.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, key string) (domain.OrderBook, error) {
	pipe := oc.rdb.Pipeline()

	bidsCmd := pipe.ZRevRangeWithScores(ctx, bookBidsKey(key), 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, bookAsksKey(key), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bookBidSizeKey(key))
	askSizeCmd := pipe.HGetAll(ctx, bookAskSizeKey(key))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(key))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.OrderBook{}, fmt.Errorf("redis: get orderbook snapshot %s: %w", key, err)
	}

	meta, _ := metaCmd.Result()
	if len(meta) == 0 {
		return domain.OrderBook{}, domain.ErrNotFound
	}

	book := domain.OrderBook{
		Exchange: meta["exchange"],
		Symbol:   meta["symbol"],
	}
	if ns, err := strconv.ParseInt(meta["ts"], 10, 64); err == nil {
		book.Timestamp = time.Unix(0, ns)
	}

	bidSizes, _ := bidSizeCmd.Result()
	bidsZ, _ := bidsCmd.Result()
	book.Bids = levelsFromZ(bidsZ, bidSizes)

	askSizes, _ := askSizeCmd.Result()
	asksZ, _ := asksCmd.Result()
	book.Asks = levelsFromZ(asksZ, askSizes)

	return book, nil
}

func levelsFromZ(zs []redis.Z, sizes map[string]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(zs))
	for _, z := range zs {
		price, ok := z.Member.(string)
		if !ok {
			continue
		}
		var size float64
		if s, exists := sizes[price]; exists {
			size, _ = strconv.ParseFloat(s, 64)
		}
		out = append(out, domain.PriceLevel{Price: z.Score, Size: size})
	}
	return out
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)
