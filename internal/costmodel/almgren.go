package costmodel

import (
	"errors"
	"fmt"
	"math"
)

// Almgren-Chriss defaults; the horizon is in hours.
const (
	DefaultPermanentImpact  = 0.1
	DefaultTemporaryImpact  = 0.1
	DefaultRiskAversion     = 0.1
	DefaultExecutionHorizon = 1.0
)

var ErrInvalidExecutionModel = errors.New("invalid execution model")

// ExecutionModel is the Almgren-Chriss optimal liquidation model. Volatility
// is a fraction (0.3 for 30%).
type ExecutionModel struct {
	Volatility      float64
	PermanentImpact float64
	TemporaryImpact float64
	RiskAversion    float64
	Horizon         float64
}

// NewExecutionModel applies the defaults to everything but volatility, which
// the caller takes from the order parameters (percent).
func NewExecutionModel(volatilityPct float64) ExecutionModel {
	return ExecutionModel{
		Volatility:      volatilityPct / 100,
		PermanentImpact: DefaultPermanentImpact,
		TemporaryImpact: DefaultTemporaryImpact,
		RiskAversion:    DefaultRiskAversion,
		Horizon:         DefaultExecutionHorizon,
	}
}

func (m ExecutionModel) Validate() error {
	switch {
	case !finite(m.Volatility) || m.Volatility < 0:
		return fmt.Errorf("%w: volatility %v", ErrInvalidExecutionModel, m.Volatility)
	case !(m.PermanentImpact > 0) || !finite(m.PermanentImpact):
		return fmt.Errorf("%w: permanent impact %v", ErrInvalidExecutionModel, m.PermanentImpact)
	case !(m.TemporaryImpact > 0) || !finite(m.TemporaryImpact):
		return fmt.Errorf("%w: temporary impact %v", ErrInvalidExecutionModel, m.TemporaryImpact)
	case !(m.RiskAversion > 0) || !finite(m.RiskAversion):
		return fmt.Errorf("%w: risk aversion %v", ErrInvalidExecutionModel, m.RiskAversion)
	case !(m.Horizon > 0) || !finite(m.Horizon):
		return fmt.Errorf("%w: horizon %v", ErrInvalidExecutionModel, m.Horizon)
	}
	return nil
}

// Kappa is the urgency of the optimal schedule: higher risk aversion or
// volatility front-loads the liquidation.
func (m ExecutionModel) Kappa() float64 {
	return math.Sqrt(m.RiskAversion * m.Volatility * m.Volatility / (2 * m.TemporaryImpact))
}

// Trajectory returns the shares still held at steps+1 evenly spaced times
// from 0 to Horizon. It starts at qty, ends at 0 and never increases.
func (m ExecutionModel) Trajectory(qty float64, steps int) []float64 {
	if steps < 1 || !(qty > 0) {
		return nil
	}
	k := m.Kappa()
	kT := k * m.Horizon
	out := make([]float64, steps+1)
	for i := range out {
		frac := float64(i) / float64(steps)
		if kT < 1e-9 {
			// The sinh ratio degenerates to TWAP.
			out[i] = qty * (1 - frac)
			continue
		}
		out[i] = qty * math.Sinh(kT*(1-frac)) / math.Sinh(kT)
	}
	out[steps] = 0
	return out
}

// ImpactCost is the expected market impact in quote currency of executing
// qty over the horizon: permanent square-root impact, linear temporary
// impact and the variance penalty weighted by risk aversion.
func (m ExecutionModel) ImpactCost(qty, price float64) float64 {
	q := math.Abs(qty)
	if q == 0 || !(price > 0) {
		return 0
	}
	sigma2 := m.Volatility * m.Volatility
	return price * (m.PermanentImpact*math.Sqrt(q) + m.TemporaryImpact*q + m.RiskAversion*sigma2*q*m.Horizon)
}

// TotalCost is notional plus impact.
func (m ExecutionModel) TotalCost(qty, price float64) float64 {
	if !(price > 0) {
		return 0
	}
	return math.Abs(qty)*price + m.ImpactCost(qty, price)
}
