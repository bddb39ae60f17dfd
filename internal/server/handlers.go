// Package server exposes HTTP handlers for health checks, the membership
// scoped directory, room history, server joins and WebSocket upgrades.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/samber/lo"

	"github.com/Tyrowin/pingspace/internal/identity"
)

// handleHealth reports that the server is running.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "PingSpace server is running!")
}

// handleWebSocket authenticates the token query parameter, checks the room
// and upgrades the connection. The hub launches the client's pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")

	claims, err := s.auth.Validate(r.URL.Query().Get("token"))
	if err != nil {
		s.log.Info("Rejected WebSocket connection", "room_id", roomID, "error", err)
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	room, ok := s.store.Room(roomID)
	if !ok {
		writeError(w, http.StatusNotFound, "Room not found")
		return
	}
	if !s.store.IsMember(room.ServerID, claims.Username) {
		s.log.Info("Rejected WebSocket connection from non-member", "room_id", roomID, "user", claims.Username)
		writeError(w, http.StatusForbidden, "Not a member of this server")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "room_id", roomID, "error", err)
		return
	}

	client := newClient(conn, s.hub, clientParams{
		roomID:         roomID,
		username:       claims.Username,
		addr:           r.RemoteAddr,
		maxMessageSize: s.cfg.MaxMessageSize,
		store:          s.store,
		limits:         s.limits,
		log:            s.log,
	})
	if !s.hub.Register(client) {
		_ = conn.Close()
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, claims *identity.Claims)

// requireAuth checks the bearer token before calling next.
func (s *Server) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.Validate(bearerToken(r))
		if err != nil {
			if errors.Is(err, ErrMissingToken) {
				writeError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next(w, r, claims)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, claims *identity.Claims) {
	room, ok := s.store.Room(r.PathValue("roomID"))
	if !ok {
		writeError(w, http.StatusNotFound, "Room not found")
		return
	}
	if !s.store.IsMember(room.ServerID, claims.Username) {
		writeError(w, http.StatusForbidden, "Not a member of server")
		return
	}
	records, err := s.store.History(room.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Room not found")
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(records, func(m MessageRecord, _ int) historyEntry {
		return historyEntry{
			ID:        m.ID,
			RoomID:    m.RoomID,
			Sender:    m.Sender,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.Format(timestampLayout),
		}
	}))
}

// handleServers lists only the servers the caller is a member of.
func (s *Server) handleServers(w http.ResponseWriter, _ *http.Request, claims *identity.Claims) {
	writeJSON(w, http.StatusOK, lo.Map(s.store.ServersOf(claims.Username), func(srv ServerRecord, _ int) serverEntry {
		return serverEntry{ID: srv.ID, Name: srv.Name}
	}))
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request, claims *identity.Claims) {
	serverID := r.PathValue("serverID")
	rooms, err := s.store.RoomsOf(serverID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	if !s.store.IsMember(serverID, claims.Username) {
		writeError(w, http.StatusForbidden, "Not a member of server")
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(rooms, func(room RoomRecord, _ int) roomEntry {
		return roomEntry{
			ID:          room.ID,
			Name:        room.Name,
			Description: room.Description,
			ServerID:    room.ServerID,
		}
	}))
}

// handleJoin adds the caller to the server named in the body.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request, claims *identity.Claims) {
	var body joinRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil || body.ServerID == "" {
		writeError(w, http.StatusBadRequest, "server_id is required")
		return
	}

	err := s.store.AddMember(body.ServerID, claims.Username)
	switch {
	case errors.Is(err, ErrServerNotFound):
		writeError(w, http.StatusNotFound, "Server not found")
		return
	case errors.Is(err, ErrAlreadyMember):
		writeError(w, http.StatusConflict, "User already in server")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.log.Info("User joined server", "server_id", body.ServerID, "user", claims.Username)
	writeJSON(w, http.StatusOK, membershipEntry{
		ServerID: body.ServerID,
		Username: claims.Username,
		Role:     "member",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}
