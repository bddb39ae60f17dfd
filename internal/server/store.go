// Package server keeps servers, rooms, memberships and message history in
// an in-memory store guarded by a single lock.
package server

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	ErrServerNotFound = errors.New("server not found")
	ErrRoomNotFound   = errors.New("room not found")
	ErrEmptyContent   = errors.New("message content is empty")
	ErrAlreadyMember  = errors.New("user already in server")
)

// ServerRecord is a chat server (a group of rooms).
type ServerRecord struct {
	ID   string
	Name string
}

type RoomRecord struct {
	ID          string
	ServerID    string
	Name        string
	Description string
}

type MessageRecord struct {
	ID        string
	RoomID    string
	Sender    string
	Content   string
	CreatedAt time.Time
}

// Store keeps servers, rooms, memberships and message history in memory.
// Messages of a room are returned in insertion order. Members are keyed by
// username, the identity carried by every token.
type Store struct {
	mu        sync.RWMutex
	servers   []ServerRecord
	rooms     map[string]RoomRecord
	roomOrder []string
	members   map[string]map[string]struct{}
	messages  map[string][]MessageRecord
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{
		rooms:    make(map[string]RoomRecord),
		members:  make(map[string]map[string]struct{}),
		messages: make(map[string][]MessageRecord),
		now:      time.Now,
	}
}

// SeedDefaults creates the PingSpace server with a general and a random room,
// makes each of members a member of it and returns the server.
func (s *Store) SeedDefaults(members ...string) ServerRecord {
	srv := s.AddServer("PingSpace")
	_, _ = s.AddRoom(srv.ID, "general", "Anything goes")
	_, _ = s.AddRoom(srv.ID, "random", "")
	for _, username := range members {
		_ = s.AddMember(srv.ID, username)
	}
	return srv
}

func (s *Store) AddServer(name string) ServerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv := ServerRecord{ID: uuid.NewString(), Name: strings.TrimSpace(name)}
	s.servers = append(s.servers, srv)
	return srv
}

func (s *Store) AddRoom(serverID, name, description string) (RoomRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasServer(serverID) {
		return RoomRecord{}, ErrServerNotFound
	}
	room := RoomRecord{
		ID:          uuid.NewString(),
		ServerID:    serverID,
		Name:        strings.TrimSpace(name),
		Description: description,
	}
	s.rooms[room.ID] = room
	s.roomOrder = append(s.roomOrder, room.ID)
	return room, nil
}

func (s *Store) Servers() []ServerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.servers)
}

// AddMember makes username a member of serverID.
func (s *Store) AddMember(serverID, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("username is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasServer(serverID) {
		return ErrServerNotFound
	}
	members, ok := s.members[serverID]
	if !ok {
		members = make(map[string]struct{})
		s.members[serverID] = members
	}
	if _, exists := members[username]; exists {
		return ErrAlreadyMember
	}
	members[username] = struct{}{}
	return nil
}

func (s *Store) IsMember(serverID, username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[serverID][username]
	return ok
}

// ServersOf lists the servers username belongs to, in creation order.
func (s *Store) ServersOf(username string) []ServerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Filter(s.servers, func(srv ServerRecord, _ int) bool {
		_, ok := s.members[srv.ID][username]
		return ok
	})
}

// RoomsOf lists the rooms of a server in creation order.
func (s *Store) RoomsOf(serverID string) ([]RoomRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasServer(serverID) {
		return nil, ErrServerNotFound
	}
	return lo.FilterMap(s.roomOrder, func(id string, _ int) (RoomRecord, bool) {
		room := s.rooms[id]
		return room, room.ServerID == serverID
	}), nil
}

func (s *Store) Room(roomID string) (RoomRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	return room, ok
}

// Append records a message from sender in roomID.
func (s *Store) Append(roomID, sender, content string) (MessageRecord, error) {
	if content == "" {
		return MessageRecord{}, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return MessageRecord{}, ErrRoomNotFound
	}
	msg := MessageRecord{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Sender:    sender,
		Content:   content,
		CreatedAt: s.now(),
	}
	s.messages[roomID] = append(s.messages[roomID], msg)
	return msg, nil
}

// History returns a copy of a room's messages, oldest first.
func (s *Store) History(roomID string) ([]MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.rooms[roomID]; !ok {
		return nil, ErrRoomNotFound
	}
	return slices.Clone(s.messages[roomID]), nil
}

func (s *Store) hasServer(serverID string) bool {
	return lo.ContainsBy(s.servers, func(srv ServerRecord) bool { return srv.ID == serverID })
}
