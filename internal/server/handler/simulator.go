package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/tradesim/internal/domain"
	"github.com/alanyoungcy/tradesim/internal/service"
)

// SimulatorService defines the methods the simulator handler requires from
// the service layer.
type SimulatorService interface {
	Metrics() domain.MetricsData
	Book() service.BookView
	Stats() service.StatsView
	Status() service.StatusView
	Params() domain.OrderParameters
	FeeTiers() []domain.FeeTier
	UpdateParams(upd service.ParamsUpdate) (domain.OrderParameters, error)
	ResetParams(ctx context.Context) (domain.OrderParameters, error)
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	History(ctx context.Context, limit int) ([]domain.MetricsRecord, error)
	ExecutionPlan(steps int) (service.ExecutionPlanView, error)
}

// SimulatorHandler serves the estimate, book, parameter and feed endpoints.
type SimulatorHandler struct {
	sim    SimulatorService
	logger *slog.Logger
}

// NewSimulatorHandler creates a SimulatorHandler.
func NewSimulatorHandler(sim SimulatorService, logger *slog.Logger) *SimulatorHandler {
	return &SimulatorHandler{sim: sim, logger: logHandler(logger, "simulator")}
}

// GetStatus returns mode, source, connection state, latency and session.
// GET /api/status
func (h *SimulatorHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sim.Status())
}

// GetMetrics returns the latest estimate.
// GET /api/metrics
func (h *SimulatorHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sim.Metrics())
}

// GetOrderbook returns the current book with cumulative depth.
// GET /api/orderbook
func (h *SimulatorHandler) GetOrderbook(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sim.Book())
}

// GetStats returns the session statistics.
// GET /api/stats
func (h *SimulatorHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sim.Stats())
}

// ListFeeTiers returns the fee catalog.
// GET /api/fee-tiers
func (h *SimulatorHandler) ListFeeTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"fee_tiers": h.sim.FeeTiers()})
}

// GetParams returns the current order parameters.
// GET /api/params
func (h *SimulatorHandler) GetParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sim.Params())
}

// UpdateParams applies a partial parameter change. The new estimate follows
// asynchronously.
// PUT /api/params
func (h *SimulatorHandler) UpdateParams(w http.ResponseWriter, r *http.Request) {
	var upd service.ParamsUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	params, err := h.sim.UpdateParams(upd)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	h.logger.InfoContext(r.Context(), "params updated",
		slog.Float64("quantity", params.Quantity),
		slog.String("order_type", string(params.OrderType)),
		slog.String("side", string(params.Side)),
		slog.String("fee_tier", params.FeeTier.ID),
	)
	writeJSON(w, http.StatusAccepted, params)
}

// ResetParams restores the default parameters.
// POST /api/params/reset
func (h *SimulatorHandler) ResetParams(w http.ResponseWriter, r *http.Request) {
	params, err := h.sim.ResetParams(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "reset params failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), "failed to reset params")
		return
	}
	writeJSON(w, http.StatusOK, params)
}

// Connect starts a feed session. Connecting while connected is a no-op.
// POST /api/feed/connect
func (h *SimulatorHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if err := h.sim.Connect(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "feed connect failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "feed connect failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.sim.Status())
}

// Disconnect ends the feed session.
// POST /api/feed/disconnect
func (h *SimulatorHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.sim.Disconnect(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "feed disconnect failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), "feed disconnect failed")
		return
	}
	writeJSON(w, http.StatusOK, h.sim.Status())
}

// ListHistory returns recent persisted estimates, newest first.
// GET /api/history?limit=50
func (h *SimulatorHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, service.MaxHistoryLimit)
	recs, err := h.sim.History(r.Context(), limit)
	if errors.Is(err, service.ErrHistoryUnavailable) {
		writeError(w, http.StatusNotImplemented, "history requires postgres or redis")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if recs == nil {
		recs = []domain.MetricsRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": recs, "limit": limit})
}

// GetExecutionPlan returns the optimal liquidation schedule for the current
// order.
// GET /api/execution-plan?steps=10
func (h *SimulatorHandler) GetExecutionPlan(w http.ResponseWriter, r *http.Request) {
	steps := 10
	if v := r.URL.Query().Get("steps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid steps: "+v)
			return
		}
		steps = n
	}
	plan, err := h.sim.ExecutionPlan(steps)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, plan)
}
