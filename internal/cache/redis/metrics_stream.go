package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/tradesim/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	// MetricsStreamKey is the stream holding recent estimates.
	MetricsStreamKey = "stream:metrics"

	// streamMaxLen is the approximate maximum length for the stream, enforced
	// via XADD MAXLEN ~.
	streamMaxLen int64 = 10000
)

// MetricsStream implements domain.MetricsStream on a Redis stream. It backs
// the history endpoint when no database is configured.
type MetricsStream struct {
	rdb *redis.Client
	key string
}

// NewMetricsStream creates a MetricsStream on MetricsStreamKey.
func NewMetricsStream(c *Client) *MetricsStream {
	return &MetricsStream{rdb: c.Underlying(), key: MetricsStreamKey}
}

// Append adds rec using XADD with an approximate MAXLEN for trimming.
func (ms *MetricsStream) Append(ctx context.Context, rec domain.MetricsRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: stream append %s: marshal: %w", ms.key, err)
	}
	args := &redis.XAddArgs{
		Stream: ms.key,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": string(payload),
		},
	}
	if err := ms.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", ms.key, err)
	}
	return nil
}

// Recent returns up to n records, newest first. Entries that fail to decode
// are skipped.
func (ms *MetricsStream) Recent(ctx context.Context, n int) ([]domain.MetricsRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	msgs, err := ms.rdb.XRevRangeN(ctx, ms.key, "+", "-", int64(n)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", ms.key, err)
	}

	out := make([]domain.MetricsRecord, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["payload"].(string)
		if !ok {
			continue
		}
		var rec domain.MetricsRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.MetricsStream = (*MetricsStream)(nil)
