package costmodel

import (
	"math"
	"sort"
)

// DefaultSlippageHistory is how many (quantity, slippage) observations the
// estimator keeps.
const DefaultSlippageHistory = 1000

// Point is one observation: X is the order quantity, Y the slippage in
// percent that the book walk produced for it.
type Point struct {
	X, Y float64
}

// Line is a fitted y = Slope*x + Intercept.
type Line struct {
	Slope     float64
	Intercept float64
}

// At evaluates the line.
func (l Line) At(x float64) float64 { return l.Slope*x + l.Intercept }

// FitLinear is ordinary least squares. It reports false when there are fewer
// than two points or x has no variance. rSquared is 1 when y has no variance
// and the fit is therefore exact.
func FitLinear(pts []Point) (line Line, rSquared float64, ok bool) {
	if len(pts) < 2 {
		return Line{}, 0, false
	}
	var meanX, meanY float64
	for _, p := range pts {
		meanX += p.X
		meanY += p.Y
	}
	n := float64(len(pts))
	meanX /= n
	meanY /= n

	var sxy, sxx float64
	for _, p := range pts {
		dx := p.X - meanX
		sxy += dx * (p.Y - meanY)
		sxx += dx * dx
	}
	if sxx == 0 {
		return Line{}, 0, false
	}
	line.Slope = sxy / sxx
	line.Intercept = meanY - line.Slope*meanX

	var ssTot, ssRes float64
	for _, p := range pts {
		ssTot += (p.Y - meanY) * (p.Y - meanY)
		r := p.Y - line.At(p.X)
		ssRes += r * r
	}
	if ssTot == 0 {
		return line, 1, true
	}
	return line, 1 - ssRes/ssTot, true
}

// FitQuantile approximates a quantile regression line by the segment
// through the two x-sorted observations around quantile q of the sample.
// It reports false for q outside (0,1), fewer than two points, or a
// vertical segment.
func FitQuantile(pts []Point, q float64) (Line, bool) {
	if !(q > 0 && q < 1) || len(pts) < 2 {
		return Line{}, false
	}
	sorted := append([]Point(nil), pts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	i := int(q * float64(len(sorted)-1))
	if i > len(sorted)-2 {
		i = len(sorted) - 2
	}
	a, b := sorted[i], sorted[i+1]
	if b.X == a.X {
		return Line{}, false
	}
	slope := (b.Y - a.Y) / (b.X - a.X)
	return Line{Slope: slope, Intercept: a.Y - slope*a.X}, true
}

// SlippageEstimate is the regression forecast for one quantity. Confidence
// is the R² of the linear fit, clamped to [0,1].
type SlippageEstimate struct {
	SlippagePct float64
	Confidence  float64
	Samples     int
}

// SlippageEstimator learns slippage as a function of quantity from past
// book walks. It averages a least-squares line with a median segment, which
// keeps one outlier walk from dominating. Not safe for concurrent use; the
// pipeline loop owns it.
type SlippageEstimator struct {
	buf      []Point
	next     int
	full     bool
	quantile float64
	last     Point
	hasLast  bool
}

// NewSlippageEstimator keeps up to size observations (DefaultSlippageHistory
// when size <= 0) and fits the median segment.
func NewSlippageEstimator(size int) *SlippageEstimator {
	if size <= 0 {
		size = DefaultSlippageHistory
	}
	return &SlippageEstimator{buf: make([]Point, 0, size), quantile: 0.5}
}

// Observe records one walk. An observation identical to the previous one is
// ignored, so recomputing unchanged inputs does not shift the fit. Non-finite
// values are dropped.
func (e *SlippageEstimator) Observe(qty, slippagePct float64) {
	if !finite(qty) || !finite(slippagePct) || !(qty > 0) {
		return
	}
	p := Point{X: qty, Y: slippagePct}
	if e.hasLast && p == e.last {
		return
	}
	e.last, e.hasLast = p, true

	if !e.full {
		e.buf = append(e.buf, p)
		if len(e.buf) == cap(e.buf) {
			e.full = true
		}
		return
	}
	e.buf[e.next] = p
	e.next = (e.next + 1) % len(e.buf)
}

// Len is the number of observations held.
func (e *SlippageEstimator) Len() int { return len(e.buf) }

// Estimate forecasts slippage for qty. It reports false until the history
// spans at least two distinct quantities.
func (e *SlippageEstimator) Estimate(qty float64) (SlippageEstimate, bool) {
	line, r2, ok := FitLinear(e.buf)
	if !ok {
		return SlippageEstimate{}, false
	}
	pred := line.At(qty)
	if q, ok := FitQuantile(e.buf, e.quantile); ok {
		pred = (pred + q.At(qty)) / 2
	}
	return SlippageEstimate{
		SlippagePct: math.Max(pred, 0),
		Confidence:  math.Min(math.Max(r2, 0), 1),
		Samples:     len(e.buf),
	}, true
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
