package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func init() { gin.SetMode(gin.TestMode) }

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://app.example.com", "admin.example.com"}

	assert.True(t, OriginAllowed(nil, "https://evil.test"))
	assert.True(t, OriginAllowed(allowed, ""))
	assert.True(t, OriginAllowed(allowed, "https://app.example.com"))
	assert.True(t, OriginAllowed(allowed, "http://admin.example.com"))
	assert.False(t, OriginAllowed(allowed, "https://evil.test"))
	assert.True(t, OriginAllowed([]string{"*"}, "https://evil.test"))
}

func newEngine(guard gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(AccessLog(zap.NewNop()))
	GET(r, "/ws", func(c *gin.Context) { c.String(http.StatusOK, "ok") }, RouteOpt{Guard: guard})
	POST(r, "/open", func(c *gin.Context) { c.Status(http.StatusAccepted) }, RouteOpt{})
	return r
}

func do(r http.Handler, method, path, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestManagerRunsGuards(t *testing.T) {
	m := NewManager(Origin([]string{"app.example.com"}))
	r := newEngine(m.Use())

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ws", "https://app.example.com").Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/ws", "https://evil.test").Code)
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/open", "https://evil.test").Code)

	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ws", "https://evil.test").Code)
}

func TestManagerAddAfterStart(t *testing.T) {
	m := NewManager()
	r := newEngine(m.Use())
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ws", "").Code)

	m.Add(func(c *gin.Context) { c.AbortWithStatus(http.StatusTeapot) })
	assert.Equal(t, http.StatusTeapot, do(r, http.MethodGet, "/ws", "").Code)
}

func TestCheckOrigin(t *testing.T) {
	check := CheckOrigin([]string{"app.example.com"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://evil.test")
	assert.False(t, check(req))
}
