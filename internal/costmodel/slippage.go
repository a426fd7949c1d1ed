// Package costmodel turns an orderbook snapshot and order parameters into
// trade-cost estimates. Everything here is pure and total: degenerate input
// yields zero rather than a panic or NaN.
package costmodel

import (
	"math"

	"github.com/alanyoungcy/tradesim/internal/domain"
)

// DefaultShortfallPenalty prices unfilled quantity 5% beyond the last visible
// level. It is a worst-case bias for unknown deeper liquidity, not an
// estimate.
const DefaultShortfallPenalty = 0.05

// Fill is the result of walking one side of the book.
type Fill struct {
	Filled         float64 // quantity matched against visible levels
	Shortfall      float64 // quantity charged at the penalty price
	TotalCost      float64
	EffectivePrice float64
}

// WalkBook consumes levels best-first until qty is filled. Any remainder is
// charged at the last level's price adjusted by penalty: above it for buys,
// below it for sells.
func WalkBook(qty float64, side domain.Side, levels []domain.PriceLevel, penalty float64) Fill {
	if !(qty > 0) || len(levels) == 0 {
		return Fill{}
	}

	remaining := qty
	var f Fill
	for _, lvl := range levels {
		fillQty := math.Min(remaining, lvl.Size)
		if !(fillQty > 0) {
			continue
		}
		f.TotalCost += fillQty * lvl.Price
		f.Filled += fillQty
		remaining -= fillQty
		if remaining <= 0 {
			break
		}
	}

	if remaining > 0 {
		last := levels[len(levels)-1].Price
		penaltyPrice := last * (1 + penalty)
		if side == domain.SideSell {
			penaltyPrice = last * (1 - penalty)
		}
		f.TotalCost += remaining * penaltyPrice
		f.Shortfall = remaining
	}

	f.EffectivePrice = f.TotalCost / qty
	return f
}

// Slippage returns the percentage by which the average fill price is worse
// than the best price on the consumed side. Limit orders are assumed to fill
// at their quoted price and always return 0.
func Slippage(qty float64, orderType domain.OrderType, side domain.Side, levels []domain.PriceLevel, penalty float64) float64 {
	if orderType == domain.OrderTypeLimit {
		return 0
	}
	if !(qty > 0) || len(levels) == 0 {
		return 0
	}
	best := levels[0].Price
	if !(best > 0) {
		return 0
	}
	f := WalkBook(qty, side, levels, penalty)
	if side == domain.SideSell {
		return (best - f.EffectivePrice) / best * 100
	}
	return (f.EffectivePrice - best) / best * 100
}
