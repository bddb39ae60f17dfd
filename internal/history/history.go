// Package history fetches the ordered message backlog of a room from the chat
// API.
package history

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/lo"

	"github.com/Tyrowin/pingspace/internal/api"
	"github.com/Tyrowin/pingspace/internal/chat"
)

// Kind classifies why a backlog could not be fetched.
type Kind int

const (
	// KindTransport covers network failures, unexpected statuses and
	// undecodable bodies.
	KindTransport Kind = iota
	// KindUnauthorized means the credential was rejected.
	KindUnauthorized
	// KindNotFound means the room does not exist.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not found"
	default:
		return "transport"
	}
}

// FetchError reports a failed backlog fetch.
type FetchError struct {
	Kind       Kind
	RoomID     string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("history: room %q: %s", e.RoomID, e.Kind)
	}
	return fmt.Sprintf("history: room %q: %s: %v", e.RoomID, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a *FetchError of the given kind.
func IsKind(err error, kind Kind) bool {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind == kind
	}
	return false
}

// messageResponse is the wire shape of one backlog entry.
type messageResponse struct {
	ID      string `json:"id"`
	RoomID  string `json:"room_id"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// Client loads room backlogs over the chat API.
type Client struct {
	api *api.Client
}

// NewClient returns a history Client backed by apiClient.
func NewClient(apiClient *api.Client) *Client {
	return &Client{api: apiClient}
}

// LoadHistory fetches the backlog of roomID in server order. Every returned
// message carries chat.OriginHistory. Repeated calls are not cached.
func (c *Client) LoadHistory(ctx context.Context, roomID, credential string) ([]chat.Message, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, &FetchError{Kind: KindNotFound, RoomID: roomID, Err: errors.New("empty room id")}
	}

	var entries []messageResponse
	if err := c.api.GetJSON(ctx, api.PathEscape("chat", "messages", roomID), credential, &entries); err != nil {
		return nil, classify(roomID, err)
	}

	return lo.Map(entries, func(entry messageResponse, _ int) chat.Message {
		return chat.Message{
			Sender:  entry.Sender,
			Content: entry.Content,
			Origin:  chat.OriginHistory,
		}
	}), nil
}

func classify(roomID string, err error) *FetchError {
	status := api.StatusCode(err)
	fetchErr := &FetchError{Kind: KindTransport, RoomID: roomID, StatusCode: status, Err: err}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		fetchErr.Kind = KindUnauthorized
	case http.StatusNotFound:
		fetchErr.Kind = KindNotFound
	}
	return fetchErr
}
