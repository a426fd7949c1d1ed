package service

import (
	"fmt"

	"github.com/alanyoungcy/tradesim/internal/costmodel"
	"github.com/alanyoungcy/tradesim/internal/domain"
)

// MaxPlanSteps caps the resolution of an execution schedule.
const MaxPlanSteps = 240

// ExecutionStep is one point of the schedule.
type ExecutionStep struct {
	AtHours   float64 `json:"at_hours"`
	Remaining float64 `json:"remaining"`
	Trade     float64 `json:"trade"`
}

// ExecutionPlanView is the Almgren-Chriss schedule for the current order
// priced at the current mid.
type ExecutionPlanView struct {
	Quantity     float64         `json:"quantity"`
	Side         domain.Side     `json:"side"`
	HorizonHours float64         `json:"horizon_hours"`
	Kappa        float64         `json:"kappa"`
	MidPrice     float64         `json:"mid_price"`
	ImpactCost   float64         `json:"impact_cost"`
	TotalCost    float64         `json:"total_cost"`
	ImpactPct    float64         `json:"impact_pct"`
	Steps        []ExecutionStep `json:"steps"`
}

// SetExecutionModel replaces the impact and risk constants used by
// ExecutionPlan. Volatility is always taken from the order parameters.
func (s *SimulatorService) SetExecutionModel(m costmodel.ExecutionModel) { s.exec = m }

// ExecutionPlan schedules liquidation of the current order quantity over the
// model horizon in steps intervals.
func (s *SimulatorService) ExecutionPlan(steps int) (ExecutionPlanView, error) {
	if steps < 1 || steps > MaxPlanSteps {
		return ExecutionPlanView{}, fmt.Errorf("%w: steps must be within [1,%d]", domain.ErrInvalidOrder, MaxPlanSteps)
	}
	params := s.ctl.Params()
	mid, ok := s.ctl.Book().MidPrice()
	if !ok {
		return ExecutionPlanView{}, domain.ErrEmptyBook
	}

	m := s.exec
	m.Volatility = params.Volatility / 100
	if err := m.Validate(); err != nil {
		return ExecutionPlanView{}, fmt.Errorf("service: execution plan: %w", err)
	}

	traj := m.Trajectory(params.Quantity, steps)
	view := ExecutionPlanView{
		Quantity:     params.Quantity,
		Side:         params.Side,
		HorizonHours: m.Horizon,
		Kappa:        m.Kappa(),
		MidPrice:     mid,
		ImpactCost:   m.ImpactCost(params.Quantity, mid),
		TotalCost:    m.TotalCost(params.Quantity, mid),
		Steps:        make([]ExecutionStep, len(traj)),
	}
	if notional := params.Quantity * mid; notional > 0 {
		view.ImpactPct = view.ImpactCost / notional * 100
	}
	for i, rem := range traj {
		step := ExecutionStep{AtHours: m.Horizon * float64(i) / float64(steps), Remaining: rem}
		if i > 0 {
			step.Trade = traj[i-1] - rem
		}
		view.Steps[i] = step
	}
	return view, nil
}
