package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradesim/internal/domain"
)

type memBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newMemBus() *memBus { return &memBus{subs: map[string]chan []byte{}} }

func (b *memBus) channel(name string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[name]
	if !ok {
		ch = make(chan []byte, 16)
		b.subs[name] = ch
	}
	return ch
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.channel(channel) <- payload
	return nil
}

func (b *memBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.channel(channel), nil
}

func startHub(t *testing.T, bus domain.SignalBus, snapshot SnapshotFunc) (*Hub, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(bus, Config{Snapshot: snapshot}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	return hub, conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	return string(msg)
}

func TestHub_SnapshotThenBroadcast(t *testing.T) {
	bus := newMemBus()
	_, conn := startHub(t, bus, func() [][]byte {
		return [][]byte{[]byte(`{"type":"status"}`)}
	})

	assert.Equal(t, `{"type":"status"}`, readText(t, conn))

	require.NoError(t, bus.Publish(context.Background(), domain.ChannelMetrics, []byte(`{"type":"metrics"}`)))
	assert.Equal(t, `{"type":"metrics"}`, readText(t, conn))
}

func TestHub_Unsubscribe(t *testing.T) {
	bus := newMemBus()
	hub, conn := startHub(t, bus, nil)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelBook}}))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			return !c.isSubscribed(domain.ChannelBook)
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), domain.ChannelBook, []byte(`{"type":"orderbook"}`)))
	require.NoError(t, bus.Publish(context.Background(), domain.ChannelStatus, []byte(`{"type":"status"}`)))
	assert.Equal(t, `{"type":"status"}`, readText(t, conn))
}

func httpHandler(h *Hub) http.Handler { return http.HandlerFunc(h.HandleWS) }
