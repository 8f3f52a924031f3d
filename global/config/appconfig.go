package config

import "time"

const (
	EnvProduction = "production"

	DefaultWsPort      = 8080
	DefaultRelayHost   = "127.0.0.1"
	DefaultRelayPort   = 8081
	DefaultNatsSubject = "relay.commands"

	MinPresenceTTL = 2 * time.Second
)

// AppConfig is everything the gateway and the backend helpers read from the
// environment. Field tags name the environment variable.
type AppConfig struct {
	// client-facing endpoint
	WsPort          int           `env:"WS_PORT"`
	WsBindHost      string        `env:"WS_BIND_HOST"` // empty = all interfaces
	Hostname        string        `env:"HOSTNAME"`     // advertised to browsers
	Env             string        `env:"APP_ENV"`
	NodeEnv         string        `env:"NODE_ENV"`
	AllowedOrigins  []string      `env:"WS_ALLOWED_ORIGINS"`
	MaxMessageBytes int64         `env:"WS_MAX_MESSAGE_BYTES"`
	SendQueueSize   int           `env:"WS_SEND_QUEUE"`
	UnauthTTL       time.Duration `env:"WS_UNAUTH_TTL"`    // 0 disables the sweeper
	PingInterval    time.Duration `env:"WS_PING_INTERVAL"` // 0 disables keepalive pings

	// internal relay endpoint. Must never be reachable from public ingress.
	RelayHost string `env:"RELAY_HOST"`
	RelayPort int    `env:"RELAY_PORT"`

	// backend side
	RelayURL        string        `env:"RELAY_URL"`
	RelayRetryDelay time.Duration `env:"RELAY_RETRY_DELAY"`
	RelayQueueSize  int           `env:"RELAY_QUEUE_SIZE"`
	NotifyPort      int           `env:"NOTIFY_PORT"`

	// node identity
	GatewayID string `env:"GATEWAY_ID"`
	NodeID    int64  `env:"NODE_ID"`
	LogLevel  string `env:"LOG_LEVEL"`

	// optional presence mirror
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB"`
	PresenceTTL   time.Duration `env:"PRESENCE_TTL"`

	// optional relay bus
	NatsURL     string `env:"NATS_URL"`
	NatsSubject string `env:"NATS_SUBJECT"`
}

func Default() AppConfig {
	return AppConfig{
		WsPort:          DefaultWsPort,
		Hostname:        "localhost",
		MaxMessageBytes: 64 << 10,
		SendQueueSize:   256,
		RelayHost:       DefaultRelayHost,
		RelayPort:       DefaultRelayPort,
		RelayRetryDelay: 5 * time.Second,
		RelayQueueSize:  256,
		NotifyPort:      8090,
		NodeID:          1,
		LogLevel:        "info",
		PresenceTTL:     24 * time.Hour,
		NatsSubject:     DefaultNatsSubject,
	}
}
