package okx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/tradesim/internal/domain"
	"github.com/shopspring/decimal"
)

// DepthMessage is one L2 snapshot as pushed by the feed:
//
//	{"timestamp":"...","exchange":"OKX","symbol":"BTC-USDT-SWAP",
//	 "asks":[["61254.1","0.9"],...],"bids":[["61253.5","1.2"],...]}
//
// Sides are kept raw so that a malformed side can be told apart from a
// malformed entry.
type DepthMessage struct {
	Timestamp string          `json:"timestamp"`
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Asks      json.RawMessage `json:"asks"`
	Bids      json.RawMessage `json:"bids"`
}

// Decoded is the result of decoding one message.
type Decoded struct {
	Book    domain.OrderBook
	Dropped int // entries skipped for a non-numeric or out-of-range field
}

// DecodeDepth parses raw into an orderbook. Entries whose price or size is
// not numeric are dropped and counted; a side that is not a JSON array fails
// the whole message with domain.ErrMalformedMessage. Levels are sorted and
// duplicate prices merged. fallback is used when the message carries no
// parseable timestamp.
func DecodeDepth(raw []byte, fallback time.Time) (Decoded, error) {
	var msg DepthMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Decoded{}, fmt.Errorf("okx: decode depth: %w: %v", domain.ErrMalformedMessage, err)
	}

	asks, droppedAsks, err := decodeSide(msg.Asks)
	if err != nil {
		return Decoded{}, fmt.Errorf("okx: decode asks: %w", err)
	}
	bids, droppedBids, err := decodeSide(msg.Bids)
	if err != nil {
		return Decoded{}, fmt.Errorf("okx: decode bids: %w", err)
	}

	ts := fallback
	if msg.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
			ts = t
		}
	}

	return Decoded{
		Book: domain.OrderBook{
			Exchange:  msg.Exchange,
			Symbol:    msg.Symbol,
			Bids:      normalize(bids, true),
			Asks:      normalize(asks, false),
			Timestamp: ts,
		},
		Dropped: droppedAsks + droppedBids,
	}, nil
}

type level struct {
	price decimal.Decimal
	size  decimal.Decimal
}

func decodeSide(raw json.RawMessage) ([]level, int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, 0, nil
	}
	var entries []json.RawMessage
	if trimmed[0] != '[' || json.Unmarshal(trimmed, &entries) != nil {
		return nil, 0, fmt.Errorf("%w: side is not an array", domain.ErrMalformedMessage)
	}

	out := make([]level, 0, len(entries))
	dropped := 0
	for _, e := range entries {
		var pair []json.RawMessage
		if err := json.Unmarshal(e, &pair); err != nil || len(pair) < 2 {
			dropped++
			continue
		}
		price, err := parseNumber(pair[0])
		if err != nil || !price.IsPositive() {
			dropped++
			continue
		}
		size, err := parseNumber(pair[1])
		if err != nil || size.IsNegative() {
			dropped++
			continue
		}
		out = append(out, level{price: price, size: size})
	}
	return out, dropped, nil
}

// parseNumber accepts a JSON string or a JSON number.
func parseNumber(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, err
		}
	}
	return decimal.NewFromString(strings.TrimSpace(s))
}

// normalize merges equal prices and orders best-first.
func normalize(levels []level, descending bool) []domain.PriceLevel {
	if len(levels) == 0 {
		return nil
	}
	merged := make(map[string]int, len(levels))
	uniq := make([]level, 0, len(levels))
	for _, l := range levels {
		key := l.price.String()
		if i, ok := merged[key]; ok {
			uniq[i].size = uniq[i].size.Add(l.size)
			continue
		}
		merged[key] = len(uniq)
		uniq = append(uniq, l)
	}

	sort.Slice(uniq, func(i, j int) bool {
		if descending {
			return uniq[i].price.GreaterThan(uniq[j].price)
		}
		return uniq[i].price.LessThan(uniq[j].price)
	})

	out := make([]domain.PriceLevel, len(uniq))
	for i, l := range uniq {
		out[i] = domain.PriceLevel{
			Price: l.price.InexactFloat64(),
			Size:  l.size.InexactFloat64(),
		}
	}
	return out
}
