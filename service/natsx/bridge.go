package natsx

import (
	"context"
	"time"

	"PPRelay/logger"
	"PPRelay/service/relay"

	"go.uber.org/zap"
)

// Bridge feeds relay commands published on a NATS subject into the local
// dispatcher, exactly as if they had arrived on the relay endpoint. Every
// gateway subscribes without a queue group so each one reaches its own users.
type Bridge struct {
	client  *Client
	subject string
	disp    relay.Dispatcher
	log     *zap.Logger
	handler Handler
}

func NewBridge(client *Client, subject string, d relay.Dispatcher, log *zap.Logger) *Bridge {
	b := &Bridge{
		client:  client,
		subject: subject,
		disp:    d,
		log:     logger.OrNamed(log, "nats-bridge"),
	}
	b.handler = Chain(b.handle,
		RecoverMiddleware(),
		IdemMiddleware(NewMemIdem(time.Minute), time.Minute),
	)
	return b
}

func (b *Bridge) Start() error {
	if err := b.client.Subscribe(b.subject, "", b.handler); err != nil {
		return err
	}
	b.log.Info("relay bridge subscribed", zap.String("subject", b.subject))
	return nil
}

func (b *Bridge) handle(_ context.Context, msg Message) error {
	cmd, err := relay.ParseCommand(msg.Data)
	if err != nil {
		b.log.Warn("bad relay command", zap.String("subject", msg.Subject), zap.Error(err))
		return err
	}
	n := relay.Route(b.disp, cmd)
	b.log.Debug("relay command routed",
		zap.String("type", cmd.Type),
		zap.String("user", cmd.Target()),
		zap.Int("delivered", n))
	return nil
}
