package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrAuthInvalid is returned when Home Assistant rejects the token. The
	// client does not reconnect after it.
	ErrAuthInvalid = errors.New("homeassistant: authentication rejected")
	// ErrNotReady is returned by WaitReady when the connection was not
	// established before the context ended.
	ErrNotReady = errors.New("homeassistant: connection not ready")
	// ErrNotConnected is returned by commands issued while disconnected.
	ErrNotConnected = errors.New("homeassistant: not connected")
	// ErrConnectionLost fails commands whose connection dropped before a
	// result arrived.
	ErrConnectionLost = errors.New("homeassistant: connection lost")
)

// CommandError is a result with success=false.
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("homeassistant: %s: %s", e.Code, e.Message)
}

type message struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *CommandError   `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	HAVer   string          `json:"ha_version,omitempty"`
}

type reply struct {
	msg message
	err error
}

// Client is a Home Assistant WebSocket API client. Run keeps one
// authenticated connection open and reconnects after failures; commands are
// multiplexed over it by id.
type Client struct {
	url    string
	token  string
	logger *slog.Logger
	dialer *websocket.Dialer

	// RetryBase is the first reconnect delay, doubled up to RetryMax.
	RetryBase time.Duration
	RetryMax  time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  int64
	pending map[int64]chan reply
	ready   chan struct{}
	failed  chan struct{}
	fatal   error

	unitMu sync.Mutex
	units  map[string]string
}

// NewClient creates a client for baseURL (http or https); the WebSocket
// endpoint is derived from it.
func NewClient(baseURL, token string, logger *slog.Logger) (*Client, error) {
	wsURL, err := websocketURL(baseURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:       wsURL,
		token:     token,
		logger:    logger,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		RetryBase: time.Second,
		RetryMax:  time.Minute,
		pending:   make(map[int64]chan reply),
		ready:     make(chan struct{}),
		failed:    make(chan struct{}),
		units:     make(map[string]string),
	}, nil
}

func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing Home Assistant URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported Home Assistant URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/websocket"
	return u.String(), nil
}

// WaitReady blocks until the client is authenticated, authentication was
// rejected or ctx ends, whichever comes first.
func (c *Client) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-c.failed:
		return c.fatal
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNotReady, ctx.Err())
	}
}

// Run connects and serves the connection until ctx is done. Connection
// failures are retried with exponential backoff; a rejected token ends Run
// with ErrAuthInvalid.
func (c *Client) Run(ctx context.Context) error {
	delay := c.RetryBase
	for {
		conn, err := c.connect(ctx)
		if errors.Is(err, ErrAuthInvalid) {
			c.mu.Lock()
			c.fatal = err
			c.mu.Unlock()
			close(c.failed)
			return err
		}
		if err == nil {
			delay = c.RetryBase
			err = c.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("home assistant connection failed, retrying", "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, c.RetryMax)
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", c.url, err)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading auth_required: %w", err)
	}
	if msg.Type != "auth_required" {
		conn.Close()
		return nil, fmt.Errorf("unexpected first message %q", msg.Type)
	}

	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": c.token}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending auth: %w", err)
	}

	msg = message{}
	if err := conn.ReadJSON(&msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading auth result: %w", err)
	}
	switch msg.Type {
	case "auth_ok":
		c.logger.Info("connected to home assistant", "version", msg.HAVer)
	case "auth_invalid":
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrAuthInvalid, msg.Message)
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected auth result %q", msg.Type)
	}

	c.mu.Lock()
	c.conn = conn
	close(c.ready)
	c.mu.Unlock()
	return conn, nil
}

// serve dispatches results until the connection fails.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer c.disconnect(conn)

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("reading message: %w", err)
		}
		if msg.Type != "result" {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ok {
			ch <- reply{msg: msg}
		}
	}
}

func (c *Client) disconnect(conn *websocket.Conn) {
	conn.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = nil
	c.ready = make(chan struct{})
	for id, ch := range c.pending {
		ch <- reply{err: ErrConnectionLost}
		delete(c.pending, id)
	}
}

// call sends a command and waits for its result.
func (c *Client) call(ctx context.Context, cmd map[string]any) (json.RawMessage, error) {
	ch := make(chan reply, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	cmd["id"] = id
	c.writeMu.Lock()
	err := conn.WriteJSON(cmd)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("sending %v: %w", cmd["type"], err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if !r.msg.Success {
			if r.msg.Error != nil {
				return nil, r.msg.Error
			}
			return nil, &CommandError{Code: "unknown_error", Message: "command failed"}
		}
		return r.msg.Result, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}
