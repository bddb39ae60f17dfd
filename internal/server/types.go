// Package server defines the wire payload types and utility helpers shared
// by the client, hub and handler code.
package server

import (
	"errors"
	"strings"

	"github.com/gorilla/websocket"
)

const rateLimitNotice = "You're sending messages too fast. Please slow down."

// timestampLayout formats created_at on frames and history entries.
const timestampLayout = "2006-01-02 15:04:05.000000"

// messageFrame is the server-to-client chat line.
type messageFrame struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// noticeFrame is sent only to the offending connection.
type noticeFrame struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

type historyEntry struct {
	ID        string `json:"id"`
	RoomID    string `json:"room_id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type serverEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type roomEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ServerID    string `json:"server_id"`
}

type joinRequest struct {
	ServerID string `json:"server_id"`
}

type membershipEntry struct {
	ServerID string `json:"server_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type errorBody struct {
	Detail string `json:"detail"`
}

// BroadcastMessage is a payload for every client in one room, or for one
// client when target is set.
type BroadcastMessage struct {
	RoomID  string
	Payload []byte
	target  *Client
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe")
}
