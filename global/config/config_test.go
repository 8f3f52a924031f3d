package config

import (
	"strings"
	"testing"
	"time"

	"PPRelay/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.WsPort)
	assert.Equal(t, "127.0.0.1", cfg.RelayHost)
	assert.Equal(t, 8081, cfg.RelayPort)
	assert.Equal(t, 5*time.Second, cfg.RelayRetryDelay)
	assert.Equal(t, "ws://127.0.0.1:8081/relay", cfg.RelayURL)
	assert.True(t, strings.HasPrefix(cfg.GatewayID, "gw-"))
	assert.Equal(t, "relay.commands", cfg.NatsSubject)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, "ws://localhost:8080/ws", cfg.PublicWsURL())
	assert.Equal(t, ":8080", cfg.WsAddr())
	assert.Equal(t, "127.0.0.1:8081", cfg.RelayAddr())
}

func TestLoadFromEnvironment(t *testing.T) {
	cfg, err := LoadFrom([]string{
		"WS_PORT=9000",
		"HOSTNAME=chat.example.com",
		"NODE_ENV=production",
		"WS_ALLOWED_ORIGINS=https://a.example, https://b.example",
		"WS_UNAUTH_TTL=30s",
		"RELAY_PORT=9001",
		"RELAY_QUEUE_SIZE=0",
		"GATEWAY_ID=gw-test",
		"REDIS_DB=2",
		"LOG_LEVEL=", // empty means unset
		"PATH=/usr/bin",
	})
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.WsPort)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "wss://chat.example.com/ws", cfg.PublicWsURL())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.UnauthTTL)
	assert.Equal(t, 0, cfg.RelayQueueSize)
	assert.Equal(t, "gw-test", cfg.GatewayID)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "ws://127.0.0.1:9001/relay", cfg.RelayURL)
}

func TestAppEnvWinsOverNodeEnv(t *testing.T) {
	cfg, err := LoadFrom([]string{"APP_ENV=staging", "NODE_ENV=production"})
	require.NoError(t, err)
	assert.False(t, cfg.IsProduction())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string][]string{
		"bad port":      {"WS_PORT=70000"},
		"not a number":  {"RELAY_PORT=abc"},
		"shared port":   {"WS_PORT=8081"},
		"neg queue":     {"RELAY_QUEUE_SIZE=-1"},
		"zero retry":    {"RELAY_RETRY_DELAY=0s"},
		"zero msg size": {"WS_MAX_MESSAGE_BYTES=0"},
		"zero ttl":      {"PRESENCE_TTL=0s"},
		"tiny ttl":      {"PRESENCE_TTL=1ns"},
		"neg ping":      {"WS_PING_INTERVAL=-1s"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(env)
			require.Error(t, err)
			assert.True(t, errs.ErrInvalidConfig.Is(err))
		})
	}
}

func TestSharedPortOnDifferentHostsIsAllowed(t *testing.T) {
	cfg, err := LoadFrom([]string{"WS_BIND_HOST=10.0.0.5", "WS_PORT=8081"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:8081", cfg.WsAddr())
}
