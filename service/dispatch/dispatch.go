// Package dispatch pushes typed events to connected users.
//
// Delivery is at-most-once and best effort: a user that is not bound, a
// connection that is no longer open, or a connection whose send queue is full
// simply does not get the event. Nothing is queued, retried or persisted here.
// Callers that need guarantees keep their own store and let clients re-fetch
// after reconnecting.
package dispatch

import (
	"encoding/json"

	"PPRelay/logger"
	"PPRelay/service/presence"

	"go.uber.org/zap"
)

type Dispatcher struct {
	registry *presence.Registry
	log      *zap.Logger
}

func New(registry *presence.Registry, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		log:      logger.OrNamed(log, "dispatch"),
	}
}

// SendToUser delivers one event to userID's bound connection. It reports
// whether the event was handed to the connection; a miss is not an error.
func (d *Dispatcher) SendToUser(userID, eventType string, payload json.RawMessage) bool {
	c, ok := d.registry.Resolve(userID)
	if !ok {
		d.log.Debug("send miss: user not bound", zap.String("user", userID), zap.String("type", eventType))
		return false
	}
	if !c.IsOpen() {
		d.log.Debug("send miss: connection not open", zap.String("user", userID), zap.String("conn", c.ID()))
		return false
	}

	data, err := EncodeEvent(eventType, payload)
	if err != nil {
		d.log.Warn("drop event: encode failed", zap.String("user", userID), zap.String("type", eventType), zap.Error(err))
		return false
	}
	return c.Send(data)
}

// BroadcastToAll sends the same bytes to every bound connection that is open
// and returns how many accepted them. Entries whose connection is not open are
// skipped but left in place; eviction belongs to the close handler.
func (d *Dispatcher) BroadcastToAll(eventType string, payload json.RawMessage) int {
	data, err := EncodeEvent(eventType, payload)
	if err != nil {
		d.log.Warn("drop broadcast: encode failed", zap.String("type", eventType), zap.Error(err))
		return 0
	}

	sent := 0
	for _, e := range d.registry.Snapshot() {
		if !e.Conn.IsOpen() {
			continue
		}
		if e.Conn.Send(data) {
			sent++
		}
	}
	d.log.Debug("broadcast", zap.String("type", eventType), zap.Int("sent", sent))
	return sent
}
