package natsx

import (
	"context"

	"PPRelay/tools/errs"
	"PPRelay/tools/safe"
)

// Message 统一消息对象
type Message struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// Handler 业务处理函数
type Handler func(ctx context.Context, msg Message) error

// Middleware wraps a Handler (logging, dedupe, recovery).
type Middleware func(Handler) Handler

// Chain applies mws so that mws[0] runs first.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RecoverMiddleware turns a handler panic into an error.
func RecoverMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (err error) {
			if !safe.Run("nats-handler", func() { err = next(ctx, msg) }) {
				err = errs.ErrPanicMsg(msg.Subject, errs.ServerInternalError, "nats handler panic")
			}
			return err
		}
	}
}
