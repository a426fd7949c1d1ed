// Package feed produces orderbook snapshots for the pipeline, either from a
// local random-walk generator or from a websocket depth stream.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/tradesim/internal/domain"
)

// State is the connection state of a source.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventKind discriminates Event.
type EventKind string

const (
	EventSnapshot  EventKind = "snapshot"
	EventStatus    EventKind = "status"
	EventError     EventKind = "error"
	EventReconnect EventKind = "reconnect"
)

// Event is one item on a source's event stream. Book is set for snapshots,
// Connected for status events and Err for errors.
type Event struct {
	Kind       EventKind
	Book       domain.OrderBook
	Connected  bool
	LatencyMs  float64
	ReceivedAt time.Time
	Err        error
}

// Source is a stream of orderbook snapshots with an explicit lifecycle.
//
// Connect is a no-op on a connected source. Disconnect returns only after the
// emitter has stopped, so no event is sent on Events once it returns.
type Source interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect() error
	Events() <-chan Event
	State() State
}

const eventBuffer = 64

// emit sends ev unless stop is closed first.
func emit(stop <-chan struct{}, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-stop:
		return false
	}
}

// checkBook applies the ingestion contract. A book that fails it is turned
// into an error event and never forwarded as a snapshot.
func checkBook(book domain.OrderBook) error {
	return book.Validate()
}

// orderGuard keeps snapshot timestamps non-decreasing within a session.
// Equal timestamps pass; an older one is rejected so a late frame cannot
// replace a newer book.
type orderGuard struct {
	last time.Time
}

func (g *orderGuard) admit(ts time.Time) error {
	if ts.Before(g.last) {
		return fmt.Errorf("%w: %s < %s", domain.ErrStaleSnapshot,
			ts.Format(time.RFC3339Nano), g.last.Format(time.RFC3339Nano))
	}
	g.last = ts
	return nil
}
