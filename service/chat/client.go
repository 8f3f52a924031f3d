package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnState is CONNECTED -> AUTHENTICATED -> CLOSED. There is no way back from
// AUTHENTICATED, and CLOSED is terminal.
type ConnState int32

const (
	StateConnected ConnState = iota
	StateAuthenticated
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

const closeGrace = time.Second

// WsConn is one client WebSocket connection. The handler goroutine owns all
// reads; a single writer goroutine owns all data writes, fed by a bounded
// queue, so events to one connection keep their send order.
type WsConn struct {
	id        string
	ws        *websocket.Conn
	remote    string
	createdAt time.Time
	log       *zap.Logger

	mu     sync.Mutex // guards transitions and userID
	state  atomic.Int32
	userID string

	send      chan []byte // never closed; writer exits on done
	done      chan struct{}
	closeOnce sync.Once
}

func newWsConn(id string, ws *websocket.Conn, queueSize int, now time.Time, log *zap.Logger) *WsConn {
	if queueSize <= 0 {
		queueSize = 1
	}
	c := &WsConn{
		id:        id,
		ws:        ws,
		createdAt: now,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
	if ws != nil && ws.RemoteAddr() != nil {
		c.remote = ws.RemoteAddr().String()
	}
	c.log = log.With(zap.String("conn", id), zap.String("remote", c.remote))
	return c
}

func (c *WsConn) ID() string           { return c.id }
func (c *WsConn) Remote() string       { return c.remote }
func (c *WsConn) CreatedAt() time.Time { return c.createdAt }
func (c *WsConn) State() ConnState     { return ConnState(c.state.Load()) }

// UserID is empty until the connection authenticated.
func (c *WsConn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// IsOpen reports whether the connection still accepts writes.
func (c *WsConn) IsOpen() bool {
	if c.State() == StateClosed {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Send queues data for the writer without blocking. A full queue or a closed
// connection drops the data.
func (c *WsConn) Send(data []byte) bool {
	if !c.IsOpen() {
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn("send queue full, drop event", zap.Int("bytes", len(data)))
		return false
	}
}

// authenticate moves CONNECTED to AUTHENTICATED and records userID. It fails
// on a connection that already authenticated or closed.
func (c *WsConn) authenticate(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != StateConnected {
		return false
	}
	c.userID = userID
	c.state.Store(int32(StateAuthenticated))
	return true
}

// markClosed moves to CLOSED and returns the state it left along with the
// bound user id, if any.
func (c *WsConn) markClosed() (ConnState, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.State()
	c.state.Store(int32(StateClosed))
	return prev, c.userID
}

// shutdown stops the writer and closes the socket. Safe to call repeatedly
// and from any goroutine; the blocked reader then returns with an error.
func (c *WsConn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// CloseWithReason sends a close frame and then closes the socket.
func (c *WsConn) CloseWithReason(code int, reason string) {
	if c.ws != nil {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	}
	c.shutdown()
}

// closeIfUnauthenticated closes the connection only while it is still
// CONNECTED. The check and the close frame happen under the transition lock so
// a concurrent auth cannot slip in between.
func (c *WsConn) closeIfUnauthenticated(reason string) bool {
	c.mu.Lock()
	if c.State() != StateConnected {
		c.mu.Unlock()
		return false
	}
	c.state.Store(int32(StateClosed))
	c.mu.Unlock()

	c.CloseWithReason(websocket.ClosePolicyViolation, reason)
	return true
}

// writeLoop drains the send queue until the connection is shut down.
// pingEvery <= 0 disables keepalive pings.
func (c *WsConn) writeLoop(writeWait, pingEvery time.Duration) {
	var pingC <-chan time.Time
	if pingEvery > 0 {
		t := time.NewTicker(pingEvery)
		defer t.Stop()
		pingC = t.C
	}
	defer c.shutdown()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if writeWait > 0 {
				_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Info("write failed", zap.Error(err))
				return
			}
		case <-pingC:
			deadline := time.Now().Add(closeGrace)
			if writeWait > 0 {
				deadline = time.Now().Add(writeWait)
			}
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Info("ping failed", zap.Error(err))
				return
			}
		}
	}
}
