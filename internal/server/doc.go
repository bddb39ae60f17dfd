// Package server is the PingSpace chat backend.
//
// It serves the server and room directory, per-room message history, and a
// WebSocket channel per room at /chat/ws/{roomID}?token=. Every text frame a
// client sends is stored and broadcast to the room as
// {"sender","content","created_at"}, the sender included. Users over their
// rate limit get a rate_limit notice instead.
package server
