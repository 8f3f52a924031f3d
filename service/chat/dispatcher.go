package chat

import (
	"sync"

	"PPRelay/tools/errs"
)

var (
	ErrNoHandler       = errs.NewCodeError(4101, "no handler for frame type")
	ErrUnauthenticated = errs.NewCodeError(4102, "connection not authenticated")
)

// FrameDispatcher routes inbound frames to handlers by frame type.
type FrameDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *FrameDispatcher {
	return &FrameDispatcher{handlers: make(map[string]Handler)}
}

// Register replaces any handler already registered for h.Type().
func (d *FrameDispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[h.Type()] = h
}

func (d *FrameDispatcher) GetHandler(frameType string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[frameType]
}

// Dispatch returns ErrNoHandler or ErrUnauthenticated for frames that are
// ignored; callers log those at debug level.
func (d *FrameDispatcher) Dispatch(ctx *ChatContext, f *Frame, conn *WsConn) error {
	h := d.GetHandler(f.Type)
	if h == nil {
		return ErrNoHandler.WrapMsg("dispatch", "type", f.Type)
	}
	if h.RequiresAuth() && conn.State() != StateAuthenticated {
		return ErrUnauthenticated.WrapMsg("dispatch", "type", f.Type, "conn", conn.ID())
	}
	return h.Handle(ctx, f, conn)
}
