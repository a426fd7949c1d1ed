package costmodel

import (
	"math"

	"github.com/alanyoungcy/tradesim/internal/domain"
)

const (
	logisticSteepness = 10.0
	logisticMidpoint  = 0.5
)

// MakerTakerSplit estimates the share of an order that fills as maker versus
// taker, in percent. Market orders always take. For limit orders the taker
// share rises logistically with volatility, since resting orders are more
// likely to be swept in a fast market.
func MakerTakerSplit(orderType domain.OrderType, volatility float64) (maker, taker float64) {
	if orderType == domain.OrderTypeMarket {
		return 0, 100
	}
	if math.IsNaN(volatility) {
		return 50, 50
	}
	// The larger share comes from the logistic and the smaller one by
	// subtraction. Subtracting a value in [50,100] from 100 is exact, so the
	// two always sum to exactly 100.
	x := logisticSteepness * (volatility/100 - logisticMidpoint)
	if x >= 0 {
		taker = 100 / (1 + math.Exp(-x))
		return 100 - taker, taker
	}
	maker = 100 / (1 + math.Exp(x))
	return maker, 100 - maker
}
