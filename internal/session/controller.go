package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Tyrowin/pingspace/internal/channel"
	"github.com/Tyrowin/pingspace/internal/chat"
	"github.com/Tyrowin/pingspace/internal/identity"
)

var validate = validator.New()

type selectRequest struct {
	room  chat.RoomRef
	reply chan error
}

type sendRequest struct {
	content string
	// epoch pins the request to the room selection it was composed under.
	epoch  uint64
	pinned bool
	reply  chan bool
}

// historyResult and handleEvent are tagged with the selection they belong
// to. The loop drops any whose tag no longer matches.
type historyResult struct {
	epoch    uint64
	roomID   string
	messages []chat.Message
	err      error
}

type handleEvent struct {
	epoch  uint64
	roomID string
	event  channel.Event
}

// Controller is the room session state machine.
type Controller struct {
	history     HistoryLoader
	channels    channel.Opener
	credentials CredentialSource
	log         *slog.Logger

	selects     chan selectRequest
	sends       chan sendRequest
	historyDone chan historyResult
	events      chan handleEvent

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	activeEpoch atomic.Uint64

	// Owned by the Run goroutine.
	state       State
	epoch       uint64
	credential  string
	handle      channel.Handle
	cancelFetch context.CancelFunc

	snapshotMu sync.RWMutex
	snapshot   State

	subMu       sync.Mutex
	nextSubID   int
	subscribers map[int]chan struct{}
	subsClosed  bool
}

// New validates cfg and returns a Controller in PhaseNoRoom. Call Run to
// start it.
func New(cfg Config) (*Controller, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("session: invalid config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		history:     cfg.History,
		channels:    cfg.Channels,
		credentials: cfg.Credentials,
		log:         cfg.Logger.With("component", "session"),
		selects:     make(chan selectRequest),
		sends:       make(chan sendRequest),
		historyDone: make(chan historyResult),
		events:      make(chan handleEvent),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		subscribers: make(map[int]chan struct{}),
	}, nil
}

// Run is the controller's event loop. It returns when ctx is cancelled or
// Shutdown is called. Only the first call has any effect.
func (c *Controller) Run(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	defer close(c.done)
	defer c.cancel()

	creds, unsubscribe := c.credentials.Subscribe()
	defer unsubscribe()

	if credential, ok := c.credentials.Credential(); ok {
		c.applyCredential(credential)
	}
	c.publish()
	c.log.Info("Session controller started", "has_identity", c.state.HasIdentity)

	for {
		select {
		case <-ctx.Done():
			c.finish()
			return

		case <-c.ctx.Done():
			c.finish()
			return

		case req := <-c.selects:
			req.reply <- c.selectRoom(req.room)

		case req := <-c.sends:
			req.reply <- c.send(req)

		case credential, ok := <-creds:
			if !ok {
				creds = nil
				continue
			}
			c.applyCredential(credential)

		case res := <-c.historyDone:
			c.completeHistory(res)

		case ev := <-c.events:
			c.handleEvent(ev)
		}
	}
}

// Shutdown stops the loop, closes the live connection and moves the
// controller to PhaseClosed. It waits up to timeout for helper goroutines.
func (c *Controller) Shutdown(timeout time.Duration) error {
	c.log.Info("Shutting down session controller")
	c.cancel()

	if c.started.CompareAndSwap(false, true) {
		// Run never started, so nothing else touches the state.
		c.finish()
		close(c.done)
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
	case <-timer.C:
		return context.DeadlineExceeded
	}

	helpers := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(helpers)
	}()

	select {
	case <-helpers:
		c.log.Info("Session controller shutdown completed")
		return nil
	case <-timer.C:
		c.log.Warn("Session controller shutdown timeout reached")
		return context.DeadlineExceeded
	}
}

// Done is closed once the controller has stopped.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// SelectRoom makes room the active room. Any open connection is closed, the
// log is discarded, and history loading and a new connection start together.
// Selecting the current room again rebuilds the session.
func (c *Controller) SelectRoom(room chat.RoomRef) error {
	if err := validate.Struct(room); err != nil {
		return fmt.Errorf("session: invalid room: %w", err)
	}

	req := selectRequest{room: room, reply: make(chan error, 1)}
	select {
	case c.selects <- req:
	case <-c.done:
		return ErrClosed
	}
	return <-req.reply
}

// Send transmits content on the active connection if it is open and reports
// whether the frame was handed to the connection. It never fails loudly.
func (c *Controller) Send(content string) bool {
	return c.postSend(sendRequest{content: content})
}

// SendDraft is Send for a draft composed under a specific room selection. A
// draft composed before the active room changed is not transmitted.
func (c *Controller) SendDraft(d Draft) bool {
	return c.postSend(sendRequest{content: d.Text, epoch: d.Epoch, pinned: true})
}

func (c *Controller) postSend(req sendRequest) bool {
	req.reply = make(chan bool, 1)
	select {
	case c.sends <- req:
	case <-c.done:
		return false
	}
	return <-req.reply
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.snapshotMu.RLock()
	defer c.snapshotMu.RUnlock()
	return c.snapshot.clone()
}

// Subscribe returns a channel that receives a value after state changes.
// Notifications coalesce, so a reader should call State after each one. The
// channel is closed by cancel or when the controller stops.
func (c *Controller) Subscribe() (<-chan struct{}, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	ch := make(chan struct{}, 1)
	if c.subsClosed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if _, ok := c.subscribers[id]; ok {
				delete(c.subscribers, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

func (c *Controller) selectRoom(room chat.RoomRef) error {
	if !c.state.HasIdentity {
		c.log.Warn("Room selected without an identity", "room_id", room.RoomID)
		return identity.ErrIdentityUnavailable
	}

	c.log.Info("Selecting room", "room_id", room.RoomID, "room_name", room.RoomName)
	c.beginSession(room)
	c.publish()
	return nil
}

// beginSession closes whatever is open, then starts history loading and a
// new connection for room under a fresh epoch.
func (c *Controller) beginSession(room chat.RoomRef) {
	c.teardown()
	c.nextEpoch()

	c.state.Room = room
	c.state.HasRoom = true
	c.state.Phase = PhaseLoading
	c.state.Messages = nil
	c.state.HistoryErr = nil
	c.state.Connection = chat.Connecting

	fetchCtx, cancelFetch := context.WithCancel(c.ctx)
	c.cancelFetch = cancelFetch
	c.wg.Add(1)
	go c.fetchHistory(fetchCtx, c.epoch, room.RoomID, c.credential)

	h := c.channels.Open(c.ctx, room.RoomID, c.state.Identity, c.credential)
	c.handle = h
	c.wg.Add(1)
	go c.forward(h, c.epoch, room.RoomID)
}

// endSession leaves the active room entirely.
func (c *Controller) endSession() {
	c.teardown()
	c.nextEpoch()

	c.state.Room = chat.RoomRef{}
	c.state.HasRoom = false
	c.state.Phase = PhaseNoRoom
	c.state.Messages = nil
	c.state.HistoryErr = nil
	c.state.Connection = chat.Idle
}

// teardown cancels the pending fetch and closes the handle without waiting
// for the close to complete.
func (c *Controller) teardown() {
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}
	if c.handle != nil {
		c.log.Debug("Closing room channel", "conn_id", c.handle.ID(), "room_id", c.handle.RoomID())
		c.handle.Close()
		c.handle = nil
	}
}

func (c *Controller) nextEpoch() {
	c.epoch++
	c.activeEpoch.Store(c.epoch)
}

func (c *Controller) isCurrent(epoch uint64, roomID string) bool {
	return c.state.HasRoom && epoch == c.epoch && roomID == c.state.Room.RoomID
}

func (c *Controller) fetchHistory(ctx context.Context, epoch uint64, roomID, credential string) {
	defer c.wg.Done()

	messages, err := c.history.LoadHistory(ctx, roomID, credential)
	select {
	case c.historyDone <- historyResult{epoch: epoch, roomID: roomID, messages: messages, err: err}:
	case <-c.ctx.Done():
	}
}

// forward relays a handle's events to the loop until the stream ends.
func (c *Controller) forward(h channel.Handle, epoch uint64, roomID string) {
	defer c.wg.Done()

	events := h.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			select {
			case c.events <- handleEvent{epoch: epoch, roomID: roomID, event: ev}:
			case <-c.ctx.Done():
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Controller) completeHistory(res historyResult) {
	if !c.isCurrent(res.epoch, res.roomID) {
		c.log.Debug("Discarding stale history", "room_id", res.roomID, "epoch", res.epoch)
		return
	}
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}

	if res.err != nil {
		c.log.Warn("History load failed", "room_id", res.roomID, "error", res.err)
		c.state.HistoryErr = res.err
		c.publish()
		return
	}

	// Live messages that beat the backlog stay after it.
	merged := make([]chat.Message, 0, len(res.messages)+len(c.state.Messages))
	merged = append(merged, res.messages...)
	merged = append(merged, c.state.Messages...)
	c.state.Messages = merged
	c.state.HistoryErr = nil
	c.log.Debug("History loaded", "room_id", res.roomID, "count", len(res.messages))
	c.publish()
}

func (c *Controller) handleEvent(ev handleEvent) {
	if !c.isCurrent(ev.epoch, ev.roomID) {
		c.log.Debug("Dropping event from replaced connection", "room_id", ev.roomID, "kind", ev.event.Kind)
		return
	}

	switch ev.event.Kind {
	case channel.EventOpen:
		c.state.Connection = chat.Open
		c.state.Phase = PhaseLive
	case channel.EventMessage:
		msg := ev.event.Message
		msg.Origin = chat.OriginLive
		c.state.Messages = append(c.state.Messages, msg)
	case channel.EventError:
		c.log.Warn("Room channel error", "room_id", ev.roomID, "error", ev.event.Err)
		c.state.Connection = chat.Errored
	case channel.EventClose:
		if c.state.Connection != chat.Errored {
			c.state.Connection = chat.Closed
		}
	}
	c.publish()
}

func (c *Controller) send(req sendRequest) bool {
	epoch := c.epoch
	if req.pinned {
		epoch = req.epoch
	}

	switch {
	case c.handle == nil:
		c.log.Debug("Send skipped, no active connection")
		return false
	case epoch != c.epoch:
		c.log.Debug("Send skipped, draft belongs to a previous room")
		return false
	case c.state.Connection != chat.Open:
		c.log.Debug("Send skipped, connection not open", "state", c.state.Connection)
		return false
	}
	return c.handle.Send(req.content)
}

func (c *Controller) applyCredential(credential string) {
	id, ok := identity.Resolve(credential)
	switch {
	case !ok:
		c.credential = ""
		if !c.state.HasIdentity {
			return
		}
		c.log.Info("Identity lost, leaving room")
		c.state.Identity = identity.Identity{}
		c.state.HasIdentity = false
		c.endSession()

	case c.state.HasIdentity && id == c.state.Identity:
		// Same user with a refreshed token: keep the connection and use the
		// new credential for later loads and opens.
		c.credential = credential
		return

	default:
		c.log.Info("Identity changed", "user_id", id.UserID, "display_name", id.DisplayName)
		c.credential = credential
		c.state.Identity = id
		c.state.HasIdentity = true
		if c.state.HasRoom {
			c.beginSession(c.state.Room)
		}
	}
	c.publish()
}

// finish runs once when the loop exits.
func (c *Controller) finish() {
	c.teardown()
	if c.state.Connection == chat.Connecting || c.state.Connection == chat.Open {
		c.state.Connection = chat.Closed
	}
	c.state.Phase = PhaseClosed
	c.publish()
	c.closeSubscribers()
	c.log.Info("Session controller stopped")
}

func (c *Controller) publish() {
	snapshot := c.state.clone()
	c.snapshotMu.Lock()
	c.snapshot = snapshot
	c.snapshotMu.Unlock()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *Controller) closeSubscribers() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
	c.subsClosed = true
}
