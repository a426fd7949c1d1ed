package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradesim/internal/domain"
	"github.com/alanyoungcy/tradesim/internal/service"
)

type fakeSim struct {
	params     domain.OrderParameters
	updateErr  error
	history    []domain.MetricsRecord
	historyErr error
	connects   int
	planSteps  int
	planErr    error
}

func (f *fakeSim) Metrics() domain.MetricsData    { return domain.InitialMetrics() }
func (f *fakeSim) Book() service.BookView         { return service.NewBookView(domain.OrderBook{}) }
func (f *fakeSim) Stats() service.StatsView       { return service.StatsView{MinLatency: "-"} }
func (f *fakeSim) Status() service.StatusView     { return service.StatusView{Mode: "serve"} }
func (f *fakeSim) Params() domain.OrderParameters { return f.params }
func (f *fakeSim) FeeTiers() []domain.FeeTier     { return domain.DefaultFeeTiers() }

func (f *fakeSim) UpdateParams(upd service.ParamsUpdate) (domain.OrderParameters, error) {
	if f.updateErr != nil {
		return domain.OrderParameters{}, f.updateErr
	}
	if upd.Quantity != nil {
		f.params.Quantity = *upd.Quantity
	}
	return f.params, nil
}

func (f *fakeSim) ResetParams(context.Context) (domain.OrderParameters, error) {
	f.params.Quantity = 1
	return f.params, nil
}

func (f *fakeSim) Connect(context.Context) error {
	f.connects++
	return nil
}

func (f *fakeSim) Disconnect(context.Context) error { return nil }

func (f *fakeSim) History(_ context.Context, limit int) ([]domain.MetricsRecord, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	if limit < len(f.history) {
		return f.history[:limit], nil
	}
	return f.history, nil
}

func (f *fakeSim) ExecutionPlan(steps int) (service.ExecutionPlanView, error) {
	f.planSteps = steps
	if f.planErr != nil {
		return service.ExecutionPlanView{}, f.planErr
	}
	return service.ExecutionPlanView{Quantity: f.params.Quantity, Steps: make([]service.ExecutionStep, steps+1)}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func do(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestUpdateParams(t *testing.T) {
	sim := &fakeSim{params: domain.OrderParameters{Quantity: 1}}
	h := NewSimulatorHandler(sim, testLogger())

	rec := do(h.UpdateParams, http.MethodPut, "/api/params", `{"quantity": 3}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var got domain.OrderParameters
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3.0, got.Quantity)

	rec = do(h.UpdateParams, http.MethodPut, "/api/params", `{"qty": 3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h.UpdateParams, http.MethodPut, "/api/params", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sim.updateErr = domain.ErrUnknownFeeTier
	rec = do(h.UpdateParams, http.MethodPut, "/api/params", `{"fee_tier": "gold"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListHistory(t *testing.T) {
	sim := &fakeSim{history: make([]domain.MetricsRecord, 5)}
	h := NewSimulatorHandler(sim, testLogger())

	rec := do(h.ListHistory, http.MethodGet, "/api/history?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		History []domain.MetricsRecord `json:"history"`
		Limit   int                    `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.History, 2)
	assert.Equal(t, 2, body.Limit)

	sim.historyErr = service.ErrHistoryUnavailable
	rec = do(h.ListHistory, http.MethodGet, "/api/history", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	sim.historyErr = errors.New("db gone")
	rec = do(h.ListHistory, http.MethodGet, "/api/history", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetOrderbook_EmptyShowsDash(t *testing.T) {
	h := NewSimulatorHandler(&fakeSim{}, testLogger())
	rec := do(h.GetOrderbook, http.MethodGet, "/api/orderbook", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "-", body["mid_price"])
	assert.Equal(t, "-", body["spread"])
	assert.Equal(t, []any{}, body["bids"])
}

func TestHealthCheck(t *testing.T) {
	ok := NewHealthHandler(map[string]Check{
		"redis": func(context.Context) error { return nil },
	}, testLogger())
	rec := do(ok.HealthCheck, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	bad := NewHealthHandler(map[string]Check{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("refused") },
	}, testLogger())
	rec = do(bad.HealthCheck, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "refused")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.ErrInvalidOrder))
	assert.Equal(t, http.StatusNotFound, statusFor(domain.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(domain.ErrEmptyBook))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("x")))
}

func TestGetExecutionPlan(t *testing.T) {
	sim := &fakeSim{params: domain.OrderParameters{Quantity: 4}}
	h := NewSimulatorHandler(sim, testLogger())

	rec := do(h.GetExecutionPlan, http.MethodGet, "/api/execution-plan", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, sim.planSteps)

	rec = do(h.GetExecutionPlan, http.MethodGet, "/api/execution-plan?steps=4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var plan service.ExecutionPlanView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	assert.Equal(t, 4.0, plan.Quantity)
	assert.Len(t, plan.Steps, 5)

	rec = do(h.GetExecutionPlan, http.MethodGet, "/api/execution-plan?steps=many", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sim.planErr = domain.ErrEmptyBook
	rec = do(h.GetExecutionPlan, http.MethodGet, "/api/execution-plan", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
