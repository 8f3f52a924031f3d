package natsx

import (
	"context"
	"time"

	"PPRelay/service/relay"
)

const publishTimeout = 3 * time.Second

// Publisher lets a backend push relay commands over NATS instead of holding a
// socket to a gateway. Every subscribed gateway receives each command.
type Publisher struct {
	sender  Sender
	subject string
}

func NewPublisher(s Sender, subject string) *Publisher {
	return &Publisher{sender: s, subject: subject}
}

// Deliver publishes a command for userID, or a broadcast when userID is empty.
func (p *Publisher) Deliver(userID, eventType string, payload any) error {
	cmd, err := relay.NewCommand(userID, eventType, payload)
	if err != nil {
		return err
	}
	data, err := relay.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	_, err = PublishOnce(ctx, p.sender, p.subject, data, nil, "")
	return err
}

func (p *Publisher) Broadcast(eventType string, payload any) error {
	return p.Deliver("", eventType, payload)
}
