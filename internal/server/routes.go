// Package server wires HTTP handlers into a ServeMux for the PingSpace
// server via routing helpers.
package server

import "net/http"

// Routes returns the server's HTTP routes.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /chat/ws/{roomID}", s.handleWebSocket)
	mux.HandleFunc("GET /chat/messages/{roomID}", s.requireAuth(s.handleMessages))
	mux.HandleFunc("GET /chat/servers", s.requireAuth(s.handleServers))
	mux.HandleFunc("GET /chat/rooms/{serverID}", s.requireAuth(s.handleRooms))
	mux.HandleFunc("POST /chat/server/join", s.requireAuth(s.handleJoin))
	return mux
}
