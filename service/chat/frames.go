package chat

import (
	"bytes"
	"encoding/json"
	"strings"

	decode "PPRelay/tools/decode"
	"PPRelay/tools/errs"
)

// Frame is one parsed inbound text message: a JSON object with a string
// "type". All other fields are left in Fields for the handler.
type Frame struct {
	Type   string
	Fields map[string]any
	Raw    []byte
}

func ParseFrame(raw []byte) (*Frame, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, errs.ErrMalformedFrame.WrapMsg(err.Error())
	}
	if fields == nil {
		return nil, errs.ErrMalformedFrame.WrapMsg("frame is null")
	}
	t, ok := fields["type"].(string)
	if !ok || t == "" {
		return nil, errs.ErrMissingField.WrapMsg("frame", "field", "type")
	}
	return &Frame{Type: t, Fields: fields, Raw: raw}, nil
}

// AuthPayload is {"type":"auth","userId":...}. "user_id" is accepted as an
// alias and numeric ids are stringified.
type AuthPayload struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	UserIDv1 string `json:"user_id"`
	DeviceID string `json:"deviceId,omitempty"`
}

func ExtractAuthPayload(f *Frame) (*AuthPayload, error) {
	if f == nil {
		return nil, errs.ErrMalformedFrame.WrapMsg("nil frame")
	}
	ap, err := decode.Decode[AuthPayload](f.Fields)
	if err != nil {
		return nil, errs.ErrMalformedFrame.WrapMsg(err.Error(), "type", f.Type)
	}
	if ap.UserID == "" {
		ap.UserID = ap.UserIDv1
	}
	ap.UserID = strings.TrimSpace(ap.UserID)
	if ap.UserID == "" {
		return nil, errs.ErrMissingField.WrapMsg("auth", "field", "userId")
	}
	return ap, nil
}

// sample trims raw for logging.
func sample(raw []byte) string {
	const limit = 256
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}
	return string(raw)
}
