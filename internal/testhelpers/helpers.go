// Package testhelpers provides shared fixtures for tests that run a real
// PingSpace server.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/pingspace/internal/server"
)

// TestSecret signs every token issued by a fixture.
const TestSecret = "test-secret"

// TestOrigin is the allowed WebSocket origin of a fixture.
const TestOrigin = "http://localhost:8000"

// Fixture is a running server with the default seed data.
type Fixture struct {
	Server    *server.Server
	Store     *server.Store
	HTTP      *httptest.Server
	ServerID  string
	GeneralID string
	RandomID  string
	closed    bool
}

// Option adjusts the server config of a fixture.
type Option func(*server.Config)

// WithRateLimit sets the per-user burst and refill interval.
func WithRateLimit(burst int, refill time.Duration) Option {
	return func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: burst, RefillInterval: refill}
	}
}

// WithMaxMessageSize sets the inbound frame size limit.
func WithMaxMessageSize(n int64) Option {
	return func(cfg *server.Config) { cfg.MaxMessageSize = n }
}

// StartServer starts a seeded server on an httptest listener. It is shut
// down when the test ends.
func StartServer(t *testing.T, opts ...Option) *Fixture {
	t.Helper()

	cfg := server.NewConfig()
	cfg.JWTSecret = TestSecret
	cfg.AllowedOrigins = []string{TestOrigin}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := server.NewStore()
	seeded := store.SeedDefaults()
	rooms, err := store.RoomsOf(seeded.ID)
	require.NoError(t, err)
	require.Len(t, rooms, 2)

	srv, err := server.New(cfg, store, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	srv.StartHub()

	f := &Fixture{
		Server:    srv,
		Store:     store,
		HTTP:      httptest.NewServer(srv.Routes()),
		ServerID:  seeded.ID,
		GeneralID: rooms[0].ID,
		RandomID:  rooms[1].ID,
	}
	t.Cleanup(f.Shutdown)
	return f
}

// Shutdown closes the listener and stops the hub. Safe to call twice.
func (f *Fixture) Shutdown() {
	if f.closed {
		return
	}
	f.closed = true
	_ = f.Server.Hub().Shutdown(2 * time.Second)
	f.HTTP.Close()
}

// Token issues a valid token for username and makes username a member of
// the seeded server.
func (f *Fixture) Token(t *testing.T, username string) string {
	t.Helper()
	if err := f.Store.AddMember(f.ServerID, username); err != nil && !errors.Is(err, server.ErrAlreadyMember) {
		require.NoError(t, err)
	}
	return f.OutsiderToken(t, username)
}

// OutsiderToken issues a valid token for username without any membership.
func (f *Fixture) OutsiderToken(t *testing.T, username string) string {
	t.Helper()
	token, err := f.Server.Authenticator().IssueToken("id-"+username, username)
	require.NoError(t, err)
	return token
}

// WSURL is the WebSocket URL of roomID carrying token.
func (f *Fixture) WSURL(roomID, token string) string {
	u := "ws" + strings.TrimPrefix(f.HTTP.URL, "http") + "/chat/ws/" + url.PathEscape(roomID)
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

// Connect joins roomID as username and waits until the hub registered the
// connection.
func (f *Fixture) Connect(t *testing.T, roomID, username string) *websocket.Conn {
	t.Helper()
	before := f.Server.Hub().ClientCount(roomID)
	conn, resp, err := ConnectWebSocket(f.WSURL(roomID, f.Token(t, username)), TestOrigin)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool {
		return f.Server.Hub().ClientCount(roomID) > before
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

// Get performs an authenticated GET against the fixture.
func (f *Fixture) Get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.HTTP.URL+path, http.NoBody)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// Post sends body as JSON with a bearer token.
func (f *Fixture) Post(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.HTTP.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// ConnectWebSocket dials url with the given Origin header. The handshake
// response is returned with its body closed.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Frame is the union of the server's outbound frames.
type Frame struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	Error     string `json:"error"`
	Type      string `json:"type"`
}

// ReadFrame reads one frame within timeout.
func ReadFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame Frame
	require.NoError(t, json.Unmarshal(data, &frame), "frame %q", data)
	return frame
}

// ExpectNoFrame fails if a frame arrives within wait.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %q", data)
}

// CloseWebSocket sends a normal closure and closes conn.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
