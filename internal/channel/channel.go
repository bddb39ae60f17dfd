// Package channel owns the live, room-scoped WebSocket connection of a chat
// session. A Handle surfaces open/message/error/close events as a typed
// stream and exposes a send primitive gated on connection readiness.
package channel

import (
	"context"
	"fmt"

	"github.com/Tyrowin/pingspace/internal/chat"
	"github.com/Tyrowin/pingspace/internal/identity"
)

// EventKind names a lifecycle or data event of a Handle.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventError
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one item of a Handle's event stream. Message is set for
// EventMessage; Err carries the cause for EventError and, when known, for
// EventClose.
type Event struct {
	Kind    EventKind
	Message chat.Message
	Err     error
}

// Handle is one live connection scoped to a single room and identity.
type Handle interface {
	// ID uniquely identifies the connection for logging.
	ID() string
	RoomID() string
	State() chat.ConnectionState
	// Events delivers the connection's events in order. A transport failure
	// is reported as EventError followed by EventClose. The channel is
	// closed after EventClose.
	Events() <-chan Event
	// Send transmits content as a text frame when the connection is open
	// and reports whether it was handed to the writer. It is a no-op
	// otherwise.
	Send(content string) bool
	// Close terminates the connection. It is safe to call more than once
	// and cancels a handshake still in flight.
	Close()
}

// Opener opens live connections. Open must not block on the handshake: the
// returned Handle starts in chat.Connecting and reports progress through its
// events.
type Opener interface {
	Open(ctx context.Context, roomID string, id identity.Identity, credential string) Handle
}

// ConnectionError reports a transport failure on a live connection.
type ConnectionError struct {
	RoomID string
	Op     string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("channel: %s room %q: %v", e.Op, e.RoomID, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
