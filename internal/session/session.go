// Package session implements the room messaging session: for the active room
// it loads history, owns the single live connection, merges live messages
// into an ordered log, and rebuilds everything when the room or the signed-in
// identity changes.
//
// All state is owned by the goroutine running Controller.Run. Public methods
// post requests to it and, where they return a result, wait for the reply.
package session

import (
	"errors"
	"log/slog"
	"slices"

	"github.com/Tyrowin/pingspace/internal/channel"
	"github.com/Tyrowin/pingspace/internal/chat"
	"github.com/Tyrowin/pingspace/internal/identity"
)

// ErrClosed is returned by operations on a controller that has shut down.
var ErrClosed = errors.New("session: controller closed")

// Phase is the coarse lifecycle position of the controller.
type Phase int

const (
	PhaseNoRoom Phase = iota
	PhaseLoading
	PhaseLive
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseNoRoom:
		return "no-room"
	case PhaseLoading:
		return "loading"
	case PhaseLive:
		return "live"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CredentialSource supplies the bearer credential and reports changes to it.
// *identity.Store implements it.
type CredentialSource interface {
	Credential() (string, bool)
	Subscribe() (<-chan string, func())
}

// Config wires a Controller to its collaborators.
type Config struct {
	History     HistoryLoader    `validate:"required"`
	Channels    channel.Opener   `validate:"required"`
	Credentials CredentialSource `validate:"required"`
	Logger      *slog.Logger
}

// State is a point-in-time snapshot of the controller.
type State struct {
	Phase      Phase
	Room       chat.RoomRef
	HasRoom    bool
	Connection chat.ConnectionState
	// Messages holds history messages first, then live messages in receipt
	// order. The slice is a copy owned by the caller.
	Messages []chat.Message
	// HistoryErr is the last history failure for the current room, if any.
	HistoryErr  error
	Identity    identity.Identity
	HasIdentity bool
}

func (s State) clone() State {
	s.Messages = slices.Clone(s.Messages)
	return s
}
