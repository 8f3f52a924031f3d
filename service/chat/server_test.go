package chat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"PPRelay/service/chat"
	"PPRelay/service/chat/handlers"
	"PPRelay/service/presence"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const wait = 2 * time.Second

func init() { gin.SetMode(gin.TestMode) }

type fakeMirror struct {
	mu     sync.Mutex
	events []string
}

func (m *fakeMirror) Online(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "online:"+userID)
	return nil
}

func (m *fakeMirror) Offline(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "offline:"+userID)
	return nil
}

func (m *fakeMirror) got() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func newTestServer(t *testing.T, mutate func(*chat.Options)) (*chat.Server, *httptest.Server) {
	t.Helper()
	opts := chat.DefaultOptions()
	opts.GatewayID = "gw-test"
	opts.Logger = zap.NewNop()
	if mutate != nil {
		mutate(&opts)
	}
	s := chat.NewServer(presence.NewRegistry(), opts)
	handlers.RegisterDefaults(s)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		ts.Close()
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func sendJSON(t *testing.T, ws *websocket.Conn, v string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(v)))
}

func bound(s *chat.Server, userID string) func() bool {
	return func() bool {
		_, ok := s.Registry().Resolve(userID)
		return ok
	}
}

func TestAuthBindsAndCloseUnbinds(t *testing.T) {
	mirror := &fakeMirror{}
	s, ts := newTestServer(t, nil)
	s.SetMirror(mirror)

	ws := dial(t, ts, "/ws")
	sendJSON(t, ws, `{"type":"auth","userId":"u1"}`)
	require.Eventually(t, bound(s, "u1"), wait, 10*time.Millisecond)

	c, _ := s.Registry().Resolve("u1")
	wc, ok := s.ConnMgr().Get(c.ID())
	require.True(t, ok)
	assert.Equal(t, chat.StateAuthenticated, wc.State())
	assert.Equal(t, "u1", wc.UserID())

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return !bound(s, "u1")() }, wait, 10*time.Millisecond)
	require.Eventually(t, func() bool { return s.ConnMgr().Len() == 0 }, wait, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(mirror.got()) == 2 }, wait, 10*time.Millisecond)
	assert.Equal(t, []string{"online:u1", "offline:u1"}, mirror.got())
}

func TestRootPathAlsoUpgrades(t *testing.T) {
	s, ts := newTestServer(t, nil)
	ws := dial(t, ts, "/")
	sendJSON(t, ws, `{"type":"auth","userId":"root"}`)
	require.Eventually(t, bound(s, "root"), wait, 10*time.Millisecond)
}

func TestBadFramesKeepConnectionOpen(t *testing.T) {
	s, ts := newTestServer(t, nil)
	ws := dial(t, ts, "/ws")

	sendJSON(t, ws, `{not json`)
	sendJSON(t, ws, `{"type":"chat","text":"before auth"}`)
	sendJSON(t, ws, `{"type":"auth"}`)
	sendJSON(t, ws, `[]`)
	sendJSON(t, ws, `{"type":"auth","userId":"u1"}`)

	require.Eventually(t, bound(s, "u1"), wait, 10*time.Millisecond)
}

func TestSecondAuthIsIgnored(t *testing.T) {
	s, ts := newTestServer(t, nil)
	ws := dial(t, ts, "/ws")

	sendJSON(t, ws, `{"type":"auth","userId":"first"}`)
	sendJSON(t, ws, `{"type":"auth","userId":"second"}`)
	require.Eventually(t, bound(s, "first"), wait, 10*time.Millisecond)

	// a later frame proves the second auth was already processed
	sendJSON(t, ws, `{"type":"auth","userId":"third"}`)
	time.Sleep(100 * time.Millisecond)
	assert.False(t, bound(s, "second")())
	assert.False(t, bound(s, "third")())
	assert.Equal(t, 1, s.Registry().Len())
}

func TestStaleCloseKeepsNewerConnection(t *testing.T) {
	s, ts := newTestServer(t, nil)

	a := dial(t, ts, "/ws")
	sendJSON(t, a, `{"type":"auth","userId":"u1"}`)
	require.Eventually(t, bound(s, "u1"), wait, 10*time.Millisecond)
	first, _ := s.Registry().Resolve("u1")

	b := dial(t, ts, "/ws")
	sendJSON(t, b, `{"type":"auth","userId":"u1"}`)
	require.Eventually(t, func() bool {
		c, ok := s.Registry().Resolve("u1")
		return ok && c.ID() != first.ID()
	}, wait, 10*time.Millisecond)
	second, _ := s.Registry().Resolve("u1")

	// the replaced connection stays open until its peer leaves
	assert.True(t, first.IsOpen())

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return s.ConnMgr().Len() == 1 }, wait, 10*time.Millisecond)

	c, ok := s.Registry().Resolve("u1")
	require.True(t, ok)
	assert.Equal(t, second.ID(), c.ID())
}

func TestDeliveredEventReachesSocket(t *testing.T) {
	s, ts := newTestServer(t, nil)
	ws := dial(t, ts, "/ws")
	sendJSON(t, ws, `{"type":"auth","userId":"u1"}`)
	require.Eventually(t, bound(s, "u1"), wait, 10*time.Millisecond)

	c, _ := s.Registry().Resolve("u1")
	require.True(t, c.Send([]byte(`{"type":"a"}`)))
	require.True(t, c.Send([]byte(`{"type":"b"}`)))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(wait)))
	for _, want := range []string{`{"type":"a"}`, `{"type":"b"}`} {
		mt, data, err := ws.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, mt)
		assert.Equal(t, want, string(data))
	}
}

func TestUnauthenticatedSweep(t *testing.T) {
	s, ts := newTestServer(t, func(o *chat.Options) { o.UnauthTTL = 150 * time.Millisecond })

	idle := dial(t, ts, "/ws")
	authed := dial(t, ts, "/ws")
	sendJSON(t, authed, `{"type":"auth","userId":"u1"}`)
	require.Eventually(t, bound(s, "u1"), wait, 10*time.Millisecond)

	require.NoError(t, idle.SetReadDeadline(time.Now().Add(wait)))
	_, _, err := idle.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)

	require.Eventually(t, func() bool { return s.ConnMgr().Len() == 1 }, wait, 10*time.Millisecond)
	assert.True(t, bound(s, "u1")())
}

func TestOriginAllowList(t *testing.T) {
	_, ts := newTestServer(t, func(o *chat.Options) { o.AllowedOrigins = []string{"app.example.com"} })
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	h := http.Header{}
	h.Set("Origin", "https://evil.test")
	_, resp, err := websocket.DefaultDialer.Dial(url, h)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	h.Set("Origin", "https://app.example.com")
	ws, _, err := websocket.DefaultDialer.Dial(url, h)
	require.NoError(t, err)
	_ = ws.Close()
}

func TestHealthAndInfo(t *testing.T) {
	s, ts := newTestServer(t, func(o *chat.Options) { o.PublicURL = "ws://localhost:8080/ws" })
	ws := dial(t, ts, "/ws")
	sendJSON(t, ws, `{"type":"auth","userId":"u1"}`)
	require.Eventually(t, bound(s, "u1"), wait, 10*time.Millisecond)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "gw-test", health["gateway"])
	assert.EqualValues(t, 1, health["connections"])
	assert.EqualValues(t, 1, health["authenticated"])
	assert.EqualValues(t, 1, health["presence"])

	resp2, err := http.Get(ts.URL + "/ws-info")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var info map[string]string
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&info))
	assert.Equal(t, "ws://localhost:8080/ws", info["url"])
}

func TestShutdownSendsGoingAway(t *testing.T) {
	s, ts := newTestServer(t, nil)
	ws := dial(t, ts, "/ws")
	sendJSON(t, ws, `{"type":"auth","userId":"u1"}`)
	require.Eventually(t, bound(s, "u1"), wait, 10*time.Millisecond)

	require.NoError(t, s.Shutdown(context.Background()))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(wait)))
	_, _, err := ws.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	require.Eventually(t, func() bool { return !bound(s, "u1")() }, wait, 10*time.Millisecond)
}

func TestStartReturnsBindError(t *testing.T) {
	s1 := chat.NewServer(presence.NewRegistry(), chat.Options{Logger: zap.NewNop()})
	require.NoError(t, s1.Start("127.0.0.1:0"))
	defer s1.Shutdown(context.Background())

	s2 := chat.NewServer(presence.NewRegistry(), chat.Options{Logger: zap.NewNop()})
	assert.Error(t, s2.Start(s1.Addr().String()))
}
