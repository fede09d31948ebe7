package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/types"
)

// Compile-time interface assertions.
var (
	_ Dialer = (*WebSocketDialer)(nil)
	_ Conn   = (*wsConn)(nil)
)

// DefaultReadLimit is the largest inbound message accepted. Audio deltas are
// much larger than the library default of 32 KiB.
const DefaultReadLimit = 16 << 20

// ── Options ───────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a WebSocketDialer.
type Option func(*WebSocketDialer)

// WithHTTPClient sets the HTTP client used for the opening handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(d *WebSocketDialer) { d.httpClient = c }
}

// WithHeader adds a header to every handshake request.
func WithHeader(key, value string) Option {
	return func(d *WebSocketDialer) { d.header.Add(key, value) }
}

// WithReadLimit overrides [DefaultReadLimit].
func WithReadLimit(n int64) Option {
	return func(d *WebSocketDialer) { d.readLimit = n }
}

// ── Dialer ────────────────────────────────────────────────────────────────────

// WebSocketDialer opens channels over WebSocket. The credential is sent as a
// bearer token together with the realtime beta header.
type WebSocketDialer struct {
	httpClient *http.Client
	header     http.Header
	readLimit  int64
}

// NewWebSocketDialer creates a WebSocketDialer with the given options.
func NewWebSocketDialer(opts ...Option) *WebSocketDialer {
	d := &WebSocketDialer{
		header:    http.Header{"OpenAI-Beta": []string{"realtime=v1"}},
		readLimit: DefaultReadLimit,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial performs the WebSocket handshake.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string, cred Credential) (Conn, error) {
	header := d.header.Clone()
	if cred.Token != "" {
		header.Set("Authorization", "Bearer "+cred.Token)
	}

	conn, resp, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: d.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("status %d: %w", resp.StatusCode, err)
		}
		return nil, types.ConnectError("transport: dial", err)
	}
	conn.SetReadLimit(d.readLimit)

	ctx, cancel := context.WithCancel(context.Background())
	return &wsConn{
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		open:   true,
	}, nil
}

// ── Conn ──────────────────────────────────────────────────────────────────────

type wsConn struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	open       bool
	listening  bool
	closedHere bool
}

func (c *wsConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *wsConn) Send(ctx context.Context, msg any) error {
	if !c.Open() {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		if !c.Open() {
			return nil
		}
		return types.TransportError("transport: write", err)
	}
	return nil
}

func (c *wsConn) Listen(h Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listening {
		return
	}
	c.listening = true
	go c.receiveLoop(h)
}

// receiveLoop reads messages until the channel fails or is closed.
func (c *wsConn) receiveLoop(h Handlers) {
	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.finish(h, err)
			return
		}
		if typ != websocket.MessageText {
			slog.Debug("transport: ignoring binary message", "bytes", len(data))
			continue
		}
		if h.OnMessage != nil {
			h.OnMessage(data)
		}
	}
}

// finish marks the channel closed and reports why, unless the close was
// requested locally.
func (c *wsConn) finish(h Handlers, err error) {
	c.mu.Lock()
	local := c.closedHere
	c.open = false
	c.mu.Unlock()

	if local {
		return
	}
	if websocket.CloseStatus(err) != -1 {
		if h.OnClose != nil {
			h.OnClose()
		}
		return
	}
	if h.OnError != nil {
		h.OnError(types.TransportError("transport: read", err))
	}
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closedHere {
		c.mu.Unlock()
		return nil
	}
	c.closedHere = true
	c.open = false
	c.mu.Unlock()

	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.cancel()
	if err != nil && !isClosedErr(err) {
		return fmt.Errorf("transport: close: %w", err)
	}
	return nil
}

// isClosedErr reports whether err only says the connection was already gone.
func isClosedErr(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
		return true
	}
	return websocket.CloseStatus(err) != -1
}
