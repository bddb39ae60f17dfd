// Package server coordinates client registration, room broadcasts, and
// connection cleanup for the room sockets via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Hub tracks connected clients per room and fans room messages out to them.
// Registration, unregistration and broadcasts are serialized through Run.
type Hub struct {
	rooms      map[string]map[*Client]struct{}
	broadcast  chan BroadcastMessage
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	started    chan struct{}
	startOnce  sync.Once
	log        *slog.Logger
}

// NewHub creates a Hub. Call Run to start it.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		broadcast:  make(chan BroadcastMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		started:    make(chan struct{}),
		log:        log.With("component", "hub"),
	}
}

// Register hands client to the hub, which starts its pumps. It returns false
// once the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Broadcast queues msg for every client of msg.RoomID, the sender included.
func (h *Hub) Broadcast(msg BroadcastMessage) bool {
	select {
	case h.broadcast <- msg:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// ClientCount reports how many clients are registered in roomID.
func (h *Hub) ClientCount(roomID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock for the whole send so unregistration cannot close the
	// channel underneath it.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.rooms[client.roomID][client]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Notify queues payload for client alone. It is ordered with the room's
// broadcasts.
func (h *Hub) Notify(client *Client, payload []byte) bool {
	return h.Broadcast(BroadcastMessage{RoomID: client.roomID, Payload: payload, target: client})
}

// Run is the hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	h.startOnce.Do(func() { close(h.started) })
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("Received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	members, ok := h.rooms[client.roomID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[client.roomID] = members
	}
	client.closed = false
	members[client] = struct{}{}
	count := len(members)
	h.mutex.Unlock()
	client.log.Info("Client registered", "room_clients", count)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	members := h.rooms[client.roomID]
	if _, ok := members[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, client.roomID)
	}
	client.closed = true
	count := len(members)
	h.mutex.Unlock()

	close(client.send)
	client.log.Info("Client unregistered", "room_clients", count)
}

func (h *Hub) handleBroadcast(msg BroadcastMessage) {
	if msg.target != nil {
		// A full buffer only drops the notice.
		h.safeSend(msg.target, msg.Payload)
		return
	}

	clients := h.roomSnapshot(msg.RoomID)
	h.log.Debug("Broadcasting message", "room_id", msg.RoomID, "clients", len(clients))

	var failed []*Client
	for _, client := range clients {
		if !h.safeSend(client, msg.Payload) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

func (h *Hub) roomSnapshot(roomID string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients drops clients whose send buffer is full and closes
// their channels so the write pump ends the connection.
func (h *Hub) removeFailedClients(clients []*Client) {
	if len(clients) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clients {
		members := h.rooms[client.roomID]
		if _, exists := members[client]; !exists {
			continue
		}
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, client.roomID)
		}
		client.closed = true
		channelsToClose = append(channelsToClose, client.send)
		client.log.Warn("Client removed due to full send buffer")
	}
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}
}

func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections")

	h.mutex.Lock()
	var clients []*Client
	for _, members := range h.rooms {
		for client := range members {
			client.closed = true
			clients = append(clients, client)
		}
	}
	h.rooms = make(map[string]map[*Client]struct{})
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			client.log.Warn("Error closing client connection", "error", err)
		}
	}

	h.log.Info("Closed client connections", "count", len(clients))
}

// Shutdown stops the hub and waits up to timeout for client goroutines.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown")
	h.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.started:
		select {
		case <-h.done:
		case <-timer.C:
			return context.DeadlineExceeded
		}
	default:
		// Run never started.
		return nil
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-timer.C:
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
