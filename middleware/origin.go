package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginAllowed reports whether origin matches one of allowed. An empty list
// allows everything, as does a request without an Origin header (non-browser
// clients). Entries may be full origins ("https://app.example.com"), bare
// hosts ("app.example.com") or "*".
func OriginAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	host := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		host = u.Host
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		switch {
		case a == "*":
			return true
		case strings.EqualFold(a, origin), strings.EqualFold(a, host):
			return true
		}
	}
	return false
}

// CheckOrigin adapts OriginAllowed to websocket.Upgrader.CheckOrigin.
func CheckOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return OriginAllowed(allowed, r.Header.Get("Origin"))
	}
}

// Origin rejects upgrade requests from origins outside allowed with 403.
func Origin(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !OriginAllowed(allowed, c.GetHeader("Origin")) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		}
	}
}
