package relay

import (
	"encoding/json"
	"testing"

	"PPRelay/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"userId":"u1","type":"new_sms","payload":{"body":"hi"}}`))
	require.NoError(t, err)
	assert.False(t, cmd.IsBroadcast())
	assert.Equal(t, "u1", cmd.Target())
	assert.Equal(t, "new_sms", cmd.Type)
	assert.JSONEq(t, `{"body":"hi"}`, string(cmd.Payload))

	cmd, err = ParseCommand([]byte(`{"type":"notice","payload":{"text":"x"}}`))
	require.NoError(t, err)
	assert.True(t, cmd.IsBroadcast())

	cmd, err = ParseCommand([]byte(`{"userId":null,"type":"notice","payload":null}`))
	require.NoError(t, err)
	assert.True(t, cmd.IsBroadcast())
	assert.Nil(t, cmd.Payload)

	cmd, err = ParseCommand([]byte(`{"userId":10001,"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, "10001", cmd.Target())
}

func TestParseCommandErrors(t *testing.T) {
	malformed := []string{
		``,
		`nope`,
		`[{"type":"x"}]`,
		`{"type":"x"`,
		`{"type":5}`,
		`{"type":"x","userId":true}`,
		`{"type":"x","userId":{"id":"u"}}`,
	}
	for _, raw := range malformed {
		_, err := ParseCommand([]byte(raw))
		assert.True(t, errs.ErrMalformedFrame.Is(err), raw)
	}

	missing := []string{
		`{}`,
		`{"type":""}`,
		`{"type":"x","userId":""}`,
		`{"type":"x","userId":"   "}`,
	}
	for _, raw := range missing {
		_, err := ParseCommand([]byte(raw))
		assert.True(t, errs.ErrMissingField.Is(err), raw)
	}

	for _, raw := range []string{`{"type":"x","payload":"str"}`, `{"type":"x","payload":[1]}`} {
		_, err := ParseCommand([]byte(raw))
		assert.True(t, errs.ErrInvalidPayload.Is(err), raw)
	}
}

func TestNewAndEncodeCommand(t *testing.T) {
	cmd, err := NewCommand("u1", "new_sms", map[string]string{"body": "hi"})
	require.NoError(t, err)
	b, err := EncodeCommand(cmd)
	require.NoError(t, err)
	assert.JSONEq(t, `{"userId":"u1","type":"new_sms","payload":{"body":"hi"}}`, string(b))

	cmd, err = NewCommand("", "notice", nil)
	require.NoError(t, err)
	b, err = EncodeCommand(cmd)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"notice"}`, string(b))

	back, err := ParseCommand(b)
	require.NoError(t, err)
	assert.True(t, back.IsBroadcast())

	_, err = NewCommand("u1", "x", []int{1})
	assert.True(t, errs.ErrInvalidPayload.Is(err))
	_, err = NewCommand("u1", "", nil)
	assert.True(t, errs.ErrMissingField.Is(err))
	_, err = NewCommand("u1", "x", json.RawMessage(`{"ok":true}`))
	assert.NoError(t, err)
}

func TestNewCommandTrimsUserID(t *testing.T) {
	_, err := NewCommand("  ", "x", nil)
	assert.True(t, errs.ErrMissingField.Is(err))

	cmd, err := NewCommand(" u1 ", "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "u1", cmd.Target())
	b, err := EncodeCommand(cmd)
	require.NoError(t, err)
	back, err := ParseCommand(b)
	require.NoError(t, err)
	assert.Equal(t, "u1", back.Target())
}

type recDispatcher struct {
	sent      []string
	broadcast []string
}

func (d *recDispatcher) SendToUser(userID, eventType string, _ json.RawMessage) bool {
	d.sent = append(d.sent, userID+"/"+eventType)
	return userID == "online"
}

func (d *recDispatcher) BroadcastToAll(eventType string, _ json.RawMessage) int {
	d.broadcast = append(d.broadcast, eventType)
	return 3
}

func TestRoute(t *testing.T) {
	d := &recDispatcher{}
	online, offline := "online", "offline"

	assert.Equal(t, 1, Route(d, &Command{UserID: &online, Type: "a"}))
	assert.Equal(t, 0, Route(d, &Command{UserID: &offline, Type: "b"}))
	assert.Equal(t, 3, Route(d, &Command{Type: "c"}))

	assert.Equal(t, []string{"online/a", "offline/b"}, d.sent)
	assert.Equal(t, []string{"c"}, d.broadcast)
}
