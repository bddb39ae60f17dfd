// Package directory lists the servers a user belongs to and the rooms of a
// server, supplying the RoomRef values the session controller is driven by.
package directory

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/Tyrowin/pingspace/internal/api"
	"github.com/Tyrowin/pingspace/internal/chat"
)

type serverResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type roomResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	ServerID    string  `json:"server_id"`
}

// Client reads the server/room directory over the chat API.
type Client struct {
	api *api.Client
}

// NewClient returns a directory Client backed by apiClient.
func NewClient(apiClient *api.Client) *Client {
	return &Client{api: apiClient}
}

// ListServers returns the servers the credential's user is a member of.
func (c *Client) ListServers(ctx context.Context, credential string) ([]chat.Server, error) {
	var servers []serverResponse
	if err := c.api.GetJSON(ctx, api.PathEscape("chat", "servers"), credential, &servers); err != nil {
		return nil, fmt.Errorf("directory: list servers: %w", err)
	}
	return lo.Map(servers, func(s serverResponse, _ int) chat.Server {
		return chat.Server{ID: s.ID, Name: s.Name}
	}), nil
}

// ListRooms returns the rooms of serverID as selectable RoomRefs.
func (c *Client) ListRooms(ctx context.Context, serverID, credential string) ([]chat.RoomRef, error) {
	var rooms []roomResponse
	if err := c.api.GetJSON(ctx, api.PathEscape("chat", "rooms", serverID), credential, &rooms); err != nil {
		return nil, fmt.Errorf("directory: list rooms of server %q: %w", serverID, err)
	}
	return lo.Map(rooms, func(r roomResponse, _ int) chat.RoomRef {
		return chat.RoomRef{
			RoomID:      r.ID,
			RoomName:    r.Name,
			ServerID:    r.ServerID,
			Description: lo.FromPtr(r.Description),
		}
	}), nil
}
