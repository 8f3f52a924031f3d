package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"PPRelay/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() { gin.SetMode(gin.TestMode) }

type call struct {
	user, typ string
	payload   string
}

type fakeDeliverer struct {
	calls []call
	err   error
}

func (f *fakeDeliverer) Deliver(userID, eventType string, payload any) error {
	var p string
	if raw, ok := payload.(json.RawMessage); ok {
		p = string(raw)
	}
	f.calls = append(f.calls, call{userID, eventType, p})
	return f.err
}

func post(t *testing.T, s *Service, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(body))
	s.Engine().ServeHTTP(w, req)
	return w
}

func TestNotifyForwards(t *testing.T) {
	d := &fakeDeliverer{}
	s := New(d, zap.NewNop())

	w := post(t, s, `{"userId":"u1","type":"new_sms","payload":{"body":"hi"}}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = post(t, s, `{"type":"notice"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"accepted":true,"broadcast":true}`, w.Body.String())

	require.Len(t, d.calls, 2)
	assert.Equal(t, call{"u1", "new_sms", `{"body":"hi"}`}, d.calls[0])
	assert.Equal(t, call{"", "notice", ""}, d.calls[1])
}

func TestNotifyRejectsBadCommands(t *testing.T) {
	d := &fakeDeliverer{}
	s := New(d, zap.NewNop())

	for _, body := range []string{`{oops`, `{"type":""}`, `{"userId":" ","type":"x"}`, `{"type":"x","payload":[1]}`} {
		w := post(t, s, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, d.calls)

	w := post(t, s, `{"type":"x","payload":"s"}`)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.EqualValues(t, 4003, out["code"])
}

func TestNotifyAcceptsWhenForwardFails(t *testing.T) {
	d := &fakeDeliverer{err: errs.ErrQueueFull.Wrap()}
	s := New(d, zap.NewNop())

	w := post(t, s, `{"userId":"u1","type":"x"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, d.calls, 1)
}

func TestNotifyBodyLimit(t *testing.T) {
	s := New(&fakeDeliverer{}, zap.NewNop())
	big := `{"type":"x","payload":{"b":"` + strings.Repeat("a", maxBody) + `"}}`
	assert.Equal(t, http.StatusRequestEntityTooLarge, post(t, s, big).Code)
}

func TestHealthz(t *testing.T) {
	s := New(&fakeDeliverer{}, zap.NewNop())
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
