package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/pingspace/internal/chat"
	"github.com/Tyrowin/pingspace/internal/identity"
)

const (
	writeWait        = 10 * time.Second
	closeGracePeriod = time.Second
	sendBufferSize   = 256
	eventBufferSize  = 64

	defaultMaxMessageSize = 64 << 10
	defaultPingInterval   = 54 * time.Second
)

// DialerConfig configures a Dialer.
type DialerConfig struct {
	// BaseURL is the ws:// or wss:// root of the chat service.
	BaseURL string
	// Origin is sent as the Origin header of the handshake.
	Origin string
	// MaxMessageSize caps inbound frame size. Zero uses 64 KiB.
	MaxMessageSize int64
	// PingInterval is the keepalive ping period. Zero uses 54s.
	PingInterval time.Duration
	Logger       *slog.Logger
}

// Dialer opens room-scoped WebSocket connections.
type Dialer struct {
	baseURL        *url.URL
	origin         string
	maxMessageSize int64
	pingInterval   time.Duration
	log            *slog.Logger
	ws             *websocket.Dialer
	netDialer      *net.Dialer
}

// NewDialer validates cfg and returns a Dialer. The handshake has no
// timeout: a hanging open lasts until the Handle is closed.
func NewDialer(cfg DialerConfig) (*Dialer, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("channel: invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "ws" && base.Scheme != "wss" {
		return nil, fmt.Errorf("channel: base URL %q must use ws or wss", cfg.BaseURL)
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Dialer{
		baseURL:        base,
		origin:         cfg.Origin,
		maxMessageSize: cfg.MaxMessageSize,
		pingInterval:   cfg.PingInterval,
		log:            cfg.Logger,
		ws: &websocket.Dialer{
			Proxy:           http.ProxyFromEnvironment,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		netDialer: &net.Dialer{KeepAlive: 30 * time.Second},
	}, nil
}

// roomURL builds {base}/chat/ws/{roomID}?token={credential}.
func (d *Dialer) roomURL(roomID, credential string) string {
	u := *d.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/chat/ws/" + url.PathEscape(roomID)
	u.RawPath = ""
	query := url.Values{}
	query.Set("token", credential)
	u.RawQuery = query.Encode()
	return u.String()
}

// Open starts a connection for roomID under id and returns immediately.
// Cancelling ctx has the same effect as closing the handle.
func (d *Dialer) Open(ctx context.Context, roomID string, id identity.Identity, credential string) Handle {
	connCtx, cancel := context.WithCancel(ctx)
	c := &conn{
		id:     uuid.NewString(),
		roomID: roomID,
		state:  chat.Connecting,
		events: make(chan Event, eventBufferSize),
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		ctx:    connCtx,
		cancel: cancel,
	}
	c.log = d.log.With("conn_id", c.id, "room_id", roomID, "user_id", id.UserID)

	header := http.Header{}
	if d.origin != "" {
		header.Set("Origin", d.origin)
	}

	go c.run(d, d.roomURL(roomID, credential), header)
	return c
}

// conn is the gorilla/websocket Handle. The run goroutine owns the socket;
// writes happen only on the write pump.
type conn struct {
	id     string
	roomID string
	log    *slog.Logger

	mu    sync.Mutex
	state chat.ConnectionState
	// halted is set once either pump has stopped; no further frame can be
	// written even though the state has not settled yet.
	halted bool

	events chan Event
	send   chan []byte

	done      chan struct{} // closed by Close
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

func (c *conn) ID() string { return c.id }

func (c *conn) RoomID() string { return c.roomID }

func (c *conn) Events() <-chan Event { return c.events }

func (c *conn) State() chat.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *conn) Send(content string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != chat.Open || c.halted {
		c.log.Debug("Send skipped, connection not open", "state", c.state, "halted", c.halted)
		return false
	}
	select {
	case c.send <- []byte(content):
		return true
	default:
		c.log.Warn("Send buffer full, dropping outbound message")
		return false
	}
}

func (c *conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.state == chat.Connecting || c.state == chat.Open {
			c.state = chat.Closed
		}
		close(c.done)
		c.mu.Unlock()
		c.cancel()
	})
}

func (c *conn) closeRequested() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// setState moves to next unless Close already settled the state.
func (c *conn) setState(next chat.ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == chat.Closed && c.closeRequested() {
		return
	}
	c.state = next
}

// halt stops Send from accepting frames.
func (c *conn) halt() {
	c.mu.Lock()
	c.halted = true
	c.mu.Unlock()
}

// emit delivers ev to the event stream. Once Close has been called, events
// are delivered only if the buffer has room so a departed reader cannot
// wedge the connection goroutines.
func (c *conn) emit(ev Event) {
	select {
	case <-c.done:
		select {
		case c.events <- ev:
		default:
		}
		return
	default:
	}

	select {
	case c.events <- ev:
	case <-c.done:
		select {
		case c.events <- ev:
		default:
		}
	}
}

func (c *conn) run(d *Dialer, target string, header http.Header) {
	defer close(c.events)
	defer c.cancel()

	c.log.Debug("Dialing room channel")
	ws, resp, err := c.dial(d, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if c.closeRequested() || c.ctx.Err() != nil {
			c.log.Debug("Handshake cancelled", "error", err)
			c.setState(chat.Closed)
			c.emit(Event{Kind: EventClose, Err: context.Canceled})
			return
		}
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		c.fail(&ConnectionError{RoomID: c.roomID, Op: "dial", Err: err})
		return
	}

	c.mu.Lock()
	if c.closeRequested() || c.ctx.Err() != nil {
		c.mu.Unlock()
		_ = ws.Close()
		c.emit(Event{Kind: EventClose, Err: context.Canceled})
		return
	}
	c.state = chat.Open
	c.mu.Unlock()

	ws.SetReadLimit(d.maxMessageSize)
	c.log.Info("Room channel open")
	c.emit(Event{Kind: EventOpen})

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writePump(ws, d.pingInterval)
	}()

	readErr := c.readPump(ws)
	c.halt()
	stopped := c.ctx.Err() != nil
	c.cancel()
	<-writeDone
	if err := ws.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("Error closing room channel", "error", err)
	}

	switch {
	case stopped || c.closeRequested():
		c.log.Info("Room channel closed by client")
		c.setState(chat.Closed)
		c.emit(Event{Kind: EventClose})
	case websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.log.Info("Room channel closed by server", "reason", readErr)
		c.setState(chat.Closed)
		c.emit(Event{Kind: EventClose, Err: readErr})
	default:
		c.fail(&ConnectionError{RoomID: c.roomID, Op: "read", Err: readErr})
	}
}

// dial performs the handshake. The websocket dialer only honours context
// deadlines, so the raw connection is closed when the handle's context ends
// before the handshake completes.
func (c *conn) dial(d *Dialer, target string, header http.Header) (*websocket.Conn, *http.Response, error) {
	var (
		rawMu sync.Mutex
		raw   net.Conn
	)
	wsDialer := *d.ws
	wsDialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		nc, err := d.netDialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		rawMu.Lock()
		raw = nc
		rawMu.Unlock()
		return nc, nil
	}

	stop := context.AfterFunc(c.ctx, func() {
		rawMu.Lock()
		defer rawMu.Unlock()
		if raw != nil {
			_ = raw.Close()
		}
	})
	defer stop()

	return wsDialer.DialContext(c.ctx, target, header)
}

// fail reports a transport failure: error first, then close.
func (c *conn) fail(err error) {
	c.log.Warn("Room channel failed", "error", err)
	c.setState(chat.Errored)
	c.emit(Event{Kind: EventError, Err: err})
	c.emit(Event{Kind: EventClose, Err: err})
}

// readPump emits one message event per inbound frame until the socket fails.
func (c *conn) readPump(ws *websocket.Conn) error {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				c.log.Warn("Inbound frame exceeded read limit")
			}
			return err
		}

		msg, decodeErr := decodeFrame(raw)
		if decodeErr != nil {
			c.log.Debug("Inbound frame kept as raw text", "error", decodeErr)
		}
		c.emit(Event{Kind: EventMessage, Message: msg})
	}
}

// writePump is the only writer of ws. It exits when the connection context
// ends, after sending a normal-closure frame, or on the first write error.
func (c *conn) writePump(ws *websocket.Conn, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.halt()

	for {
		select {
		case message := <-c.send:
			if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Debug("Error setting write deadline", "error", err)
			}
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Warn("Error writing message", "error", err)
				}
				_ = ws.Close()
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Warn("Error writing ping", "error", err)
				}
				_ = ws.Close()
				return
			}
		case <-c.ctx.Done():
			closeFrame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := ws.WriteControl(websocket.CloseMessage, closeFrame, time.Now().Add(writeWait)); err != nil && !isExpectedCloseError(err) {
				c.log.Debug("Error writing close frame", "error", err)
			}
			// The server normally answers with its own close frame; the
			// timer bounds the wait for it.
			time.AfterFunc(closeGracePeriod, func() { _ = ws.Close() })
			return
		}
	}
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
