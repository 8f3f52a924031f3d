// Package relay is the internal endpoint trusted backends use to push events
// to connected users. It has no authentication of its own: it binds loopback
// by default and must never be reachable from public ingress.
package relay

import (
	"bytes"
	"encoding/json"
	"strings"

	"PPRelay/service/dispatch"
	"PPRelay/tools/errs"
)

// Command is {"userId"?: string, "type": string, "payload"?: object}.
// A nil UserID is a broadcast.
type Command struct {
	UserID  *string         `json:"userId,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (c *Command) IsBroadcast() bool { return c.UserID == nil }

// Target is the addressed user id, empty for broadcasts.
func (c *Command) Target() string {
	if c.UserID == nil {
		return ""
	}
	return *c.UserID
}

func (c *Command) Validate() error {
	if c.Type == "" {
		return errs.ErrMissingField.WrapMsg("command", "field", "type")
	}
	if c.UserID != nil && *c.UserID == "" {
		return errs.ErrMissingField.WrapMsg("command userId is empty; omit it to broadcast")
	}
	return dispatch.ValidatePayload(c.Payload)
}

// NewCommand builds a command for userID ("" broadcasts). payload may be a
// json.RawMessage, []byte holding JSON, nil, or any value that marshals to a
// JSON object. userID is trimmed as the relay endpoint trims it, so a
// whitespace-only id fails here instead of being dropped by the gateway.
func NewCommand(userID, eventType string, payload any) (*Command, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	cmd := &Command{Type: eventType, Payload: raw}
	if userID != "" {
		uid := strings.TrimSpace(userID)
		cmd.UserID = &uid
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.ErrInvalidPayload.WrapMsg(err.Error())
	}
	return b, nil
}

func EncodeCommand(cmd *Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return nil, errs.ErrInvalidPayload.WrapMsg(err.Error())
	}
	return b, nil
}

type wireCommand struct {
	UserID  json.RawMessage `json:"userId"`
	Type    json.RawMessage `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ParseCommand decodes and validates one relay frame. A numeric userId is
// accepted and kept as its decimal text.
func ParseCommand(raw []byte) (*Command, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errs.ErrMalformedFrame.WrapMsg("command must be a JSON object")
	}
	var w wireCommand
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, errs.ErrMalformedFrame.WrapMsg(err.Error())
	}

	cmd := &Command{Payload: w.Payload}
	if err := unmarshalString(w.Type, &cmd.Type); err != nil {
		return nil, errs.ErrMalformedFrame.WrapMsg("type must be a string")
	}
	uid, present, err := parseUserID(w.UserID)
	if err != nil {
		return nil, err
	}
	if present {
		cmd.UserID = &uid
	}
	if isNull(cmd.Payload) {
		cmd.Payload = nil
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func parseUserID(raw json.RawMessage) (string, bool, error) {
	if isNull(raw) {
		return "", false, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, errs.ErrMalformedFrame.WrapMsg(err.Error())
		}
		return strings.TrimSpace(s), true, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false, errs.ErrMalformedFrame.WrapMsg(err.Error())
		}
		return n.String(), true, nil
	}
	return "", false, errs.ErrMalformedFrame.WrapMsg("userId must be a string")
}

func unmarshalString(raw json.RawMessage, out *string) error {
	if isNull(raw) {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// Dispatcher is the delivery surface a command is routed to.
type Dispatcher interface {
	SendToUser(userID, eventType string, payload json.RawMessage) bool
	BroadcastToAll(eventType string, payload json.RawMessage) int
}

// Route hands cmd to d and returns the number of connections written to.
func Route(d Dispatcher, cmd *Command) int {
	if cmd.IsBroadcast() {
		return d.BroadcastToAll(cmd.Type, cmd.Payload)
	}
	if d.SendToUser(*cmd.UserID, cmd.Type, cmd.Payload) {
		return 1
	}
	return 0
}
