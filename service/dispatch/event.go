package dispatch

import (
	"bytes"
	"encoding/json"
	"sort"

	"PPRelay/tools/errs"
)

// EncodeEvent renders {"type": eventType, ...payload} with "type" first and
// the payload keys after it in sorted order. eventType always wins: a "type"
// key inside the payload is dropped, never spread over it. payload must be a
// JSON object, or empty/null for a bare event.
func EncodeEvent(eventType string, payload json.RawMessage) ([]byte, error) {
	if eventType == "" {
		return nil, errs.ErrMissingField.WrapMsg("event", "field", "type")
	}
	fields, err := payloadFields(payload)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	writeJSONString(&buf, eventType)
	for _, k := range keys {
		buf.WriteByte(',')
		writeJSONString(&buf, k)
		buf.WriteByte(':')
		if err := json.Compact(&buf, fields[k]); err != nil {
			return nil, errs.ErrInvalidPayload.WrapMsg(err.Error(), "key", k)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ValidatePayload accepts a JSON object, null or nothing.
func ValidatePayload(payload json.RawMessage) error {
	_, err := payloadFields(payload)
	return err
}

func payloadFields(payload json.RawMessage) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '{' {
		return nil, errs.ErrInvalidPayload.Wrap()
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, errs.ErrInvalidPayload.WrapMsg(err.Error())
	}
	return fields, nil
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
