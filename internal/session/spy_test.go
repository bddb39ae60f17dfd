package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/pingspace/internal/channel"
	"github.com/Tyrowin/pingspace/internal/chat"
	"github.com/Tyrowin/pingspace/internal/identity"
)

// spyHandle is a channel.Handle whose lifecycle is driven by the test.
type spyHandle struct {
	id         string
	roomID     string
	identity   identity.Identity
	credential string
	events     chan channel.Event

	mu     sync.Mutex
	state  chat.ConnectionState
	sent   []string
	closed bool
}

func (h *spyHandle) ID() string { return h.id }

func (h *spyHandle) RoomID() string { return h.roomID }

func (h *spyHandle) Events() <-chan channel.Event { return h.events }

func (h *spyHandle) State() chat.ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *spyHandle) Send(content string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != chat.Open {
		return false
	}
	h.sent = append(h.sent, content)
	return true
}

func (h *spyHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	if h.state == chat.Connecting || h.state == chat.Open {
		h.state = chat.Closed
	}
}

func (h *spyHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *spyHandle) sentFrames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.sent...)
}

func (h *spyHandle) open() {
	h.mu.Lock()
	h.state = chat.Open
	h.mu.Unlock()
	h.events <- channel.Event{Kind: channel.EventOpen}
}

func (h *spyHandle) frame(raw string) {
	h.events <- channel.Event{Kind: channel.EventMessage, Message: channel.DecodeFrame([]byte(raw))}
}

func (h *spyHandle) fail(err error) {
	h.mu.Lock()
	h.state = chat.Errored
	h.mu.Unlock()
	h.events <- channel.Event{Kind: channel.EventError, Err: err}
	h.events <- channel.Event{Kind: channel.EventClose, Err: err}
}

func (h *spyHandle) remoteClose() {
	h.mu.Lock()
	h.state = chat.Closed
	h.mu.Unlock()
	h.events <- channel.Event{Kind: channel.EventClose}
}

// spyOpener records every Open and counts opens issued while an earlier
// handle was still unclosed.
type spyOpener struct {
	mu         sync.Mutex
	handles    []*spyHandle
	overlapped int
	opened     chan *spyHandle
}

func newSpyOpener() *spyOpener {
	return &spyOpener{opened: make(chan *spyHandle, 256)}
}

func (o *spyOpener) Open(_ context.Context, roomID string, id identity.Identity, credential string) channel.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, prev := range o.handles {
		if !prev.isClosed() {
			o.overlapped++
		}
	}
	h := &spyHandle{
		id:         fmt.Sprintf("spy-%d", len(o.handles)+1),
		roomID:     roomID,
		identity:   id,
		credential: credential,
		events:     make(chan channel.Event, 16),
		state:      chat.Connecting,
	}
	o.handles = append(o.handles, h)
	o.opened <- h
	return h
}

func (o *spyOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handles)
}

func (o *spyOpener) overlaps() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.overlapped
}

func (o *spyOpener) all() []*spyHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*spyHandle(nil), o.handles...)
}

func (o *spyOpener) next(t *testing.T) *spyHandle {
	t.Helper()
	select {
	case h := <-o.opened:
		return h
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no connection was opened")
		return nil
	}
}
