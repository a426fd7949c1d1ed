package domain

import (
	"fmt"
	"math"
	"time"
)

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook is a full L2 snapshot. Bids are ordered best-first (descending
// price), asks best-first (ascending price). A snapshot is never mutated once
// it has been handed to the pipeline; each update replaces it wholesale.
type OrderBook struct {
	Exchange  string       `json:"exchange,omitempty"`
	Symbol    string       `json:"symbol,omitempty"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// CumulativeLevel is a derived depth point: the running total of size at or
// better than Price.
type CumulativeLevel struct {
	Price float64 `json:"price"`
	Total float64 `json:"total"`
}

// DeriveCumulative prefix-sums the sizes of one side in the order given. The
// side is expected to be best-first already; nothing is reordered or merged.
func DeriveCumulative(side []PriceLevel) []CumulativeLevel {
	out := make([]CumulativeLevel, len(side))
	var running float64
	for i, lvl := range side {
		running += lvl.Size
		out[i] = CumulativeLevel{Price: lvl.Price, Total: running}
	}
	return out
}

// BestBid returns the top bid level.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// MidPrice returns (bestBid+bestAsk)/2. ok is false when either side is empty.
func (b OrderBook) MidPrice() (float64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// Spread returns bestAsk-bestBid. It can be negative for a crossed book; ok is
// false when either side is empty.
func (b OrderBook) Spread() (float64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// TotalVolume sums the size of every level on both sides.
func (b OrderBook) TotalVolume() float64 {
	var v float64
	for _, l := range b.Bids {
		v += l.Size
	}
	for _, l := range b.Asks {
		v += l.Size
	}
	return v
}

// IsEmpty reports whether either side has no levels. Metrics cannot be
// computed against such a book.
func (b OrderBook) IsEmpty() bool {
	return len(b.Bids) == 0 || len(b.Asks) == 0
}

// Clone returns a deep copy so callers outside the pipeline can hold on to a
// book without aliasing its level slices.
func (b OrderBook) Clone() OrderBook {
	out := b
	out.Bids = append([]PriceLevel(nil), b.Bids...)
	out.Asks = append([]PriceLevel(nil), b.Asks...)
	return out
}

// Validate checks the ingestion contract: positive finite prices,
// non-negative finite sizes, strictly ordered sides and no crossed or locked
// top of book.
func (b OrderBook) Validate() error {
	if err := validateSide(b.Bids, "bids", func(prev, cur float64) bool { return cur < prev }); err != nil {
		return err
	}
	if err := validateSide(b.Asks, "asks", func(prev, cur float64) bool { return cur > prev }); err != nil {
		return err
	}
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if okBid && okAsk && bid.Price >= ask.Price {
		return fmt.Errorf("%w: best bid %g >= best ask %g", ErrCrossedBook, bid.Price, ask.Price)
	}
	return nil
}

func validateSide(levels []PriceLevel, name string, ordered func(prev, cur float64) bool) error {
	for i, l := range levels {
		if !(l.Price > 0) || math.IsInf(l.Price, 0) {
			return fmt.Errorf("%w: %s[%d] price %g", ErrMalformedBook, name, i, l.Price)
		}
		if !(l.Size >= 0) || math.IsInf(l.Size, 0) {
			return fmt.Errorf("%w: %s[%d] size %g", ErrMalformedBook, name, i, l.Size)
		}
		if i > 0 && !ordered(levels[i-1].Price, l.Price) {
			return fmt.Errorf("%w: %s[%d] out of order at %g", ErrMalformedBook, name, i, l.Price)
		}
	}
	return nil
}

// ReferenceBook is the static 5x5 book shown before the first live snapshot
// arrives.
func ReferenceBook(now time.Time) OrderBook {
	return OrderBook{
		Exchange: "OKX",
		Symbol:   "BTC-USDT-SWAP",
		Bids: []PriceLevel{
			{Price: 61253.5, Size: 1.2},
			{Price: 61252.8, Size: 0.8},
			{Price: 61252.1, Size: 2.3},
			{Price: 61251.7, Size: 1.5},
			{Price: 61250.9, Size: 3.1},
		},
		Asks: []PriceLevel{
			{Price: 61254.1, Size: 0.9},
			{Price: 61255.2, Size: 1.7},
			{Price: 61256.0, Size: 2.1},
			{Price: 61257.5, Size: 1.3},
			{Price: 61258.2, Size: 2.8},
		},
		Timestamp: now,
	}
}
