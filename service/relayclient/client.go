// Package relayclient keeps one reconnecting WebSocket connection from a
// backend process to the gateway's relay endpoint.
//
// Queue policy: while the connection is not open, commands wait in a bounded
// FIFO queue that is flushed in order as soon as the connection opens. When
// the queue is full the new command is dropped and ErrQueueFull returned.
// QueueSize 0 disables queueing: commands sent while not open are dropped with
// ErrNotConnected. Delivery stays best effort either way; the gateway never
// acknowledges anything.
package relayclient

import (
	"context"
	"net/http"
	"sync"
	"time"

	"PPRelay/logger"
	"PPRelay/service/relay"
	"PPRelay/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

type Config struct {
	URL          string
	RetryDelay   time.Duration // fixed, no backoff; retries never stop
	QueueSize    int           // 0 = drop while not open
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Header       http.Header
	Logger       *zap.Logger
}

func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		RetryDelay:   5 * time.Second,
		QueueSize:    256,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

type Client struct {
	cfg    Config
	log    *zap.Logger
	dialer *websocket.Dialer

	// mu serializes state changes, the queue and every socket write
	mu    sync.Mutex
	state State
	ws    *websocket.Conn
	queue [][]byte

	closed    chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) *Client {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &Client{
		cfg:    cfg,
		log:    logger.OrNamed(cfg.Logger, "relay-client").With(zap.String("url", cfg.URL)),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout, Proxy: http.ProxyFromEnvironment},
		closed: make(chan struct{}),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending is the number of queued commands.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Run connects and keeps reconnecting until ctx ends or Close is called.
func (c *Client) Run(ctx context.Context) error {
	select {
	case <-c.closed:
		return errs.ErrClientClosed.Wrap()
	default:
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer c.Close()

	for {
		if !c.setState(StateConnecting) {
			return nil
		}
		ws, err := c.dial(ctx)
		if err == nil {
			c.log.Info("relay connected")
			c.open(ws)
			rerr := c.readUntilClosed(ctx, ws)
			c.lost(ws)
			if ctx.Err() == nil {
				c.log.Warn("relay connection lost", zap.Error(rerr), zap.Duration("retry", c.cfg.RetryDelay))
			}
		} else if ctx.Err() == nil {
			c.log.Warn("relay dial failed", zap.Error(err), zap.Duration("retry", c.cfg.RetryDelay))
		}

		if ctx.Err() != nil {
			return nil
		}
		c.setState(StateDisconnected)

		t := time.NewTimer(c.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	ws, resp, err := c.dialer.DialContext(dctx, c.cfg.URL, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return ws, err
}

// setState refuses to leave CLOSED.
func (c *Client) setState(s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.state = s
	return true
}

// open marks the connection OPEN and flushes the queue in order.
func (c *Client) open(ws *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.state = StateOpen

	flushed := 0
	for len(c.queue) > 0 {
		if err := c.writeLocked(c.queue[0]); err != nil {
			c.log.Warn("flush interrupted", zap.Error(err), zap.Int("pending", len(c.queue)))
			c.dropLocked()
			return
		}
		c.queue[0] = nil
		c.queue = c.queue[1:]
		flushed++
	}
	if flushed > 0 {
		c.log.Info("flushed queued commands", zap.Int("count", flushed))
	}
}

// readUntilClosed blocks until the socket fails or ctx ends. The relay never
// sends data, so anything read is discarded.
func (c *Client) readUntilClosed(ctx context.Context, ws *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-stop:
		}
	}()
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return err
		}
	}
}

func (c *Client) lost(ws *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = ws.Close()
	if c.ws == ws {
		c.ws = nil
	}
	if c.state != StateClosed {
		c.state = StateDisconnected
	}
}

// dropLocked abandons a connection after a failed write; the reader then
// notices and Run schedules the reconnect.
func (c *Client) dropLocked() {
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
	if c.state != StateClosed {
		c.state = StateDisconnected
	}
}

func (c *Client) writeLocked(data []byte) error {
	if c.cfg.WriteTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Deliver sends a command for userID, or a broadcast when userID is empty.
// A nil error means the command was written or queued, not that anyone
// received it. While open, the socket write happens inline under the client
// lock, so concurrent callers wait behind a slow write for up to
// WriteTimeout.
func (c *Client) Deliver(userID, eventType string, payload any) error {
	cmd, err := relay.NewCommand(userID, eventType, payload)
	if err != nil {
		return err
	}
	data, err := relay.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return c.send(data)
}

func (c *Client) Broadcast(eventType string, payload any) error {
	return c.Deliver("", eventType, payload)
}

func (c *Client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == StateClosed:
		return errs.ErrClientClosed.Wrap()
	case c.state == StateOpen && c.ws != nil && len(c.queue) == 0:
		err := c.writeLocked(data)
		if err == nil {
			return nil
		}
		c.log.Warn("relay write failed", zap.Error(err))
		c.dropLocked()
	}

	if c.cfg.QueueSize == 0 {
		return errs.ErrNotConnected.WrapMsg("dropped", "state", c.state.String())
	}
	if len(c.queue) >= c.cfg.QueueSize {
		return errs.ErrQueueFull.WrapMsg("dropped", "size", c.cfg.QueueSize)
	}
	c.queue = append(c.queue, data)
	return nil
}

// WaitIdle blocks until the connection is open with nothing queued, or ctx
// ends.
func (c *Client) WaitIdle(ctx context.Context) error {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		c.mu.Lock()
		state, pending := c.state, len(c.queue)
		c.mu.Unlock()
		switch {
		case state == StateClosed:
			return errs.ErrClientClosed.Wrap()
		case state == StateOpen && pending == 0:
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Close sends a normal close frame, drops anything still queued and stops Run.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		prev := c.state
		c.state = StateClosed
		if c.ws != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = c.ws.Close()
			c.ws = nil
		}
		dropped := len(c.queue)
		c.queue = nil
		c.mu.Unlock()

		close(c.closed)
		c.log.Info("relay client closed", zap.Stringer("from", prev), zap.Int("dropped", dropped))
	})
	return nil
}
