package costmodel

import "math"

// DefaultImpactCoefficient is the C in impact = C * sigma * sqrt(Q/V).
const DefaultImpactCoefficient = 0.3

// MarketImpact is a square-root-law approximation in the spirit of
// Almgren-Chriss. volatility is on a 0-100 scale and totalVolume is the summed
// size of both book sides. A book with no volume yields 0.
func MarketImpact(qty, volatility, totalVolume, coefficient float64) float64 {
	if !(qty > 0) || !(totalVolume > 0) || !(volatility > 0) {
		return 0
	}
	sigma := volatility / 100
	return coefficient * sigma * math.Sqrt(qty/totalVolume) * 100
}
