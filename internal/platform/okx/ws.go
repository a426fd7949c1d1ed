// Package okx is the websocket transport for an OKX-style L2 depth stream.
// The stream is selected by URL path; no subscription command is sent.
package okx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/tradesim/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// MessageHandler receives each text frame together with the time it was read.
type MessageHandler func(raw []byte, receivedAt time.Time)

// WSClient is a single websocket connection. It does not reconnect; when the
// connection is lost Done is closed and Err reports why. Reconnection is the
// caller's policy.
type WSClient struct {
	wsURL     string
	handshake time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	err     error
	handler MessageHandler

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// NewWSClient creates a client for wsURL, e.g.
// "wss://ws.gomarket-cpp.goquant.io/ws/l2-orderbook/okx/BTC-USDT-SWAP".
func NewWSClient(wsURL string, handshakeTimeout time.Duration) *WSClient {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &WSClient{
		wsURL:     wsURL,
		handshake: handshakeTimeout,
		done:      make(chan struct{}),
	}
}

// OnMessage sets the handler. It must be called before Connect.
func (w *WSClient) OnMessage(h MessageHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = h
}

// Connect dials the endpoint and starts the read and ping loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("okx/ws: %w", domain.ErrWSDisconnect)
	}
	if w.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: w.handshake}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("okx/ws: connect: %w", err)
	}
	w.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	w.wg.Add(2)
	go w.readLoop(conn, w.handler)
	go w.pingLoop(conn)
	return nil
}

// Done is closed once the connection has ended, for any reason.
func (w *WSClient) Done() <-chan struct{} {
	return w.done
}

// Err is the reason the connection ended. It is nil after a local Close.
func (w *WSClient) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close sends a normal closure, closes the socket and waits for both loops
// to exit. No handler call happens after Close returns.
func (w *WSClient) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.wg.Wait()
		return nil
	}
	w.closed = true
	conn := w.conn
	w.mu.Unlock()

	select {
	case <-w.done:
		// The read loop already closed the socket.
		w.wg.Wait()
		return nil
	default:
	}

	var err error
	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = conn.Close()
	}
	w.finish(nil)
	w.wg.Wait()
	return err
}

func (w *WSClient) finish(err error) {
	w.doneOnce.Do(func() {
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		close(w.done)
	})
}

func (w *WSClient) readLoop(conn *websocket.Conn, handler MessageHandler) {
	defer w.wg.Done()
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			closed := w.closed
			w.mu.Unlock()
			if closed {
				w.finish(nil)
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = fmt.Errorf("okx/ws: %w: remote closed", domain.ErrWSDisconnect)
			} else {
				err = fmt.Errorf("okx/ws: %w: %w", domain.ErrWSDisconnect, err)
			}
			conn.Close()
			w.finish(err)
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		select {
		case <-w.done:
			return
		default:
		}
		if handler != nil {
			handler(message, time.Now())
		}
	}
}

func (w *WSClient) pingLoop(conn *websocket.Conn) {
	defer w.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					conn.Close()
				}
				return
			}
		}
	}
}
