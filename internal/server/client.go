// Package server manages individual room connections, handling read/write
// pumps, per-user rate limiting, and message persistence for each client.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// Client is one authenticated WebSocket connection to a room.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	store          *Store
	limits         *userLimiters
	roomID         string
	username       string
	addr           string
	closed         bool
	maxMessageSize int64
	log            *slog.Logger
}

type clientParams struct {
	roomID         string
	username       string
	addr           string
	maxMessageSize int64
	store          *Store
	limits         *userLimiters
	log            *slog.Logger
}

func newClient(conn *websocket.Conn, hub *Hub, p clientParams) *Client {
	if conn != nil && p.maxMessageSize > 0 {
		conn.SetReadLimit(p.maxMessageSize)
	}
	log := p.log
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		hub:            hub,
		store:          p.store,
		limits:         p.limits,
		roomID:         p.roomID,
		username:       p.username,
		addr:           p.addr,
		maxMessageSize: p.maxMessageSize,
		log:            log.With("room_id", p.roomID, "user", p.username, "addr", p.addr),
	}
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("Error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("Error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("Message exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("Client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("Client connection closed", "reason", err)
	default:
		c.log.Warn("WebSocket read error", "error", err)
	}
}

// allowed reports whether the sender is still within its rate limit. The
// budget belongs to the user, not the connection.
func (c *Client) allowed() bool {
	if c.limits == nil || c.limits.allow(c.username) {
		return true
	}
	c.log.Info("Rate limit exceeded; discarding message",
		"burst", c.limits.cfg.Burst, "interval", c.limits.cfg.RefillInterval)
	return false
}

func (c *Client) rejectForRate() {
	payload, err := json.Marshal(noticeFrame{Error: rateLimitNotice, Type: "rate_limit"})
	if err != nil {
		c.log.Error("Error encoding rate limit notice", "error", err)
		return
	}
	c.hub.Notify(c, payload)
}

// processMessage stores content and broadcasts it to the room.
func (c *Client) processMessage(content string) bool {
	record, err := c.store.Append(c.roomID, c.username, content)
	if err != nil {
		c.log.Debug("Message not stored", "error", err)
		return false
	}

	payload, err := json.Marshal(messageFrame{
		Sender:    record.Sender,
		Content:   record.Content,
		CreatedAt: record.CreatedAt.Format(timestampLayout),
	})
	if err != nil {
		c.log.Error("Error encoding message", "error", err)
		return false
	}

	c.log.Debug("Received message", "bytes", len(content))
	return c.hub.Broadcast(BroadcastMessage{RoomID: c.roomID, Payload: payload})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("Error closing connection in readPump", "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if messageType != websocket.TextMessage {
			c.log.Debug("Ignoring non-text frame", "type", messageType)
			continue
		}

		if !c.allowed() {
			c.rejectForRate()
			continue
		}

		c.processMessage(string(raw))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("Error closing connection in writePump", "error", err)
	}
}

// handleMessage writes one outgoing frame. A closed send channel means the
// hub dropped the client.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("Error setting write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("Error writing message", "error", err)
		}
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("Error writing close message", "error", err)
	}
	return false
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("Error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("Error writing ping", "error", err)
		return false
	}
	return true
}
