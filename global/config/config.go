package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"PPRelay/tools/decode"
	"PPRelay/tools/errs"

	"github.com/google/uuid"
)

// Load reads the process environment over Default().
func Load() (*AppConfig, error) {
	return LoadFrom(os.Environ())
}

// LoadFrom reads KEY=VALUE pairs over Default(). Empty values are treated as
// unset so that `WS_PORT=` does not zero a default.
func LoadFrom(environ []string) (*AppConfig, error) {
	m := make(map[string]any, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		m[k] = strings.TrimSpace(v)
	}

	cfg := Default()
	if err := decode.DecodeInto(m, &cfg, decode.WithTag("env")); err != nil {
		return nil, errs.ErrInvalidConfig.WrapMsg(err.Error())
	}
	if cfg.GatewayID == "" {
		cfg.GatewayID = "gw-" + uuid.NewString()[:8]
	}
	if cfg.RelayURL == "" {
		cfg.RelayURL = fmt.Sprintf("ws://%s/relay", net.JoinHostPort(cfg.RelayHost, strconv.Itoa(cfg.RelayPort)))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	if !validPort(c.WsPort) {
		return errs.ErrInvalidConfig.WrapMsg("", "WS_PORT", c.WsPort)
	}
	if !validPort(c.RelayPort) {
		return errs.ErrInvalidConfig.WrapMsg("", "RELAY_PORT", c.RelayPort)
	}
	if c.WsPort == c.RelayPort && sameHost(c.WsBindHost, c.RelayHost) {
		return errs.ErrInvalidConfig.WrapMsg("client and relay endpoints share a port", "port", c.WsPort)
	}
	if c.MaxMessageBytes <= 0 {
		return errs.ErrInvalidConfig.WrapMsg("", "WS_MAX_MESSAGE_BYTES", c.MaxMessageBytes)
	}
	if c.SendQueueSize <= 0 {
		return errs.ErrInvalidConfig.WrapMsg("", "WS_SEND_QUEUE", c.SendQueueSize)
	}
	if c.RelayQueueSize < 0 {
		return errs.ErrInvalidConfig.WrapMsg("", "RELAY_QUEUE_SIZE", c.RelayQueueSize)
	}
	if c.RelayRetryDelay <= 0 {
		return errs.ErrInvalidConfig.WrapMsg("", "RELAY_RETRY_DELAY", c.RelayRetryDelay)
	}
	if c.PresenceTTL < MinPresenceTTL {
		return errs.ErrInvalidConfig.WrapMsg("", "PRESENCE_TTL", c.PresenceTTL)
	}
	if c.PingInterval < 0 {
		return errs.ErrInvalidConfig.WrapMsg("", "WS_PING_INTERVAL", c.PingInterval)
	}
	if c.UnauthTTL < 0 {
		return errs.ErrInvalidConfig.WrapMsg("", "WS_UNAUTH_TTL", c.UnauthTTL)
	}
	return nil
}

// IsProduction reports whether APP_ENV (or NODE_ENV when APP_ENV is unset)
// names production.
func (c *AppConfig) IsProduction() bool {
	env := c.Env
	if env == "" {
		env = c.NodeEnv
	}
	return strings.EqualFold(env, EnvProduction)
}

// PublicWsURL is the socket URL advertised to browsers. Production sits behind
// a TLS-terminating proxy on the default port.
func (c *AppConfig) PublicWsURL() string {
	if c.IsProduction() {
		return "wss://" + c.Hostname + "/ws"
	}
	return "ws://" + net.JoinHostPort(c.Hostname, strconv.Itoa(c.WsPort)) + "/ws"
}

func (c *AppConfig) WsAddr() string {
	return net.JoinHostPort(c.WsBindHost, strconv.Itoa(c.WsPort))
}

func (c *AppConfig) RelayAddr() string {
	return net.JoinHostPort(c.RelayHost, strconv.Itoa(c.RelayPort))
}

func (c *AppConfig) NotifyAddr() string {
	return net.JoinHostPort("", strconv.Itoa(c.NotifyPort))
}

func validPort(p int) bool { return p > 0 && p < 65536 }

// sameHost treats the wildcard address as overlapping everything.
func sameHost(a, b string) bool {
	if a == "" || b == "" || a == "0.0.0.0" || b == "0.0.0.0" || a == "::" || b == "::" {
		return true
	}
	return a == b
}
