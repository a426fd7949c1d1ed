package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradesim/internal/config"
	"github.com/alanyoungcy/tradesim/internal/service"
)

func testApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.Defaults()
	if mutate != nil {
		mutate(&cfg)
	}
	return New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBuildCore_SelectsSource(t *testing.T) {
	c, err := testApp(t, func(cfg *config.Config) { cfg.Feed.Source = "synthetic" }).buildCore()
	require.NoError(t, err)
	assert.Equal(t, "synthetic", c.pipe.Status().Source)
	assert.False(t, c.pipe.Status().Connected)

	c, err = testApp(t, func(cfg *config.Config) {
		cfg.Feed.Source = "websocket"
		cfg.Feed.WsURL = "ws://127.0.0.1:1/depth"
	}).buildCore()
	require.NoError(t, err)
	assert.Equal(t, "websocket", c.pipe.Status().Source)
}

func TestBuildCore_UsesConfiguredDefaults(t *testing.T) {
	c, err := testApp(t, func(cfg *config.Config) {
		cfg.Order.Quantity = 250
		cfg.Order.Side = "sell"
	}).buildCore()
	require.NoError(t, err)

	params := c.pipe.Params()
	assert.Equal(t, 250.0, params.Quantity)
	assert.Equal(t, "sell", string(params.Side))
	assert.Equal(t, params, c.pipe.Defaults())
	assert.NotEmpty(t, c.catalog.Tiers())
}

func TestBuildCore_RejectsUnknownFeeTier(t *testing.T) {
	_, err := testApp(t, func(cfg *config.Config) { cfg.Order.FeeTier = "tier99" }).buildCore()
	assert.Error(t, err)
}

func TestSnapshotMessages(t *testing.T) {
	c, err := testApp(t, nil).buildCore()
	require.NoError(t, err)

	sim := service.NewSimulatorService(c.pipe, c.catalog, nil, nil, "serve")
	msgs := snapshotMessages(sim)()
	require.Len(t, msgs, 3)

	var types []string
	for _, m := range msgs {
		var env struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(m, &env))
		assert.NotEmpty(t, env.Data)
		types = append(types, env.Type)
	}
	assert.Equal(t, []string{service.MessageStatus, service.MessageMetrics, service.MessageBook}, types)
}
