package costmodel

import "github.com/alanyoungcy/tradesim/internal/domain"

// FeeRate returns the tier's percentage rate that applies to orderType:
// market orders pay taker, limit orders pay maker.
func FeeRate(orderType domain.OrderType, tier domain.FeeTier) float64 {
	if orderType == domain.OrderTypeMarket {
		return tier.TakerRate
	}
	return tier.MakerRate
}

// Fees returns the absolute fee for qty executed at price. The price is the
// best level of the consumed side; fees do not walk the book.
func Fees(qty float64, orderType domain.OrderType, tier domain.FeeTier, price float64) float64 {
	if !(qty > 0) || !(price > 0) {
		return 0
	}
	notional := qty * price
	return notional * FeeRate(orderType, tier) / 100
}
