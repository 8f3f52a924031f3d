package natsx

import (
	"context"

	"github.com/google/uuid"
)

// Sender is what publishers need from a NATS connection.
type Sender interface {
	Publish(ctx context.Context, subject string, data []byte, hdr map[string]string) error
}

// PublishOnce publishes with a Nats-Msg-Id header so subscribers using
// IdemMiddleware drop redeliveries. An empty msgID gets a fresh uuid.
func PublishOnce(ctx context.Context, s Sender, subject string, data []byte, hdr map[string]string, msgID string) (string, error) {
	if msgID == "" {
		msgID = uuid.NewString()
	}
	h := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		h[k] = v
	}
	h[HeaderMsgID] = msgID
	return msgID, s.Publish(ctx, subject, data, h)
}
