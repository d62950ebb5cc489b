package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

const (
	StoreBadger   = "badger"
	StorePostgres = "postgres"

	AuthQuery = "query"
	AuthToken = "token"
)

type Config struct {
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	InboundBufferSize    int           `env:"INBOUND_BUFFER_SIZE,default=16"`
	DurableSendTimeout   time.Duration `env:"DURABLE_SEND_TIMEOUT,default=2s"`
	StoreTimeout         time.Duration `env:"STORE_TIMEOUT,default=5s"`
	NotifyInitial        time.Duration `env:"NOTIFY_INITIAL_INTERVAL,default=50ms"`
	NotifyMaxElapsed     time.Duration `env:"NOTIFY_MAX_ELAPSED,default=2s"`
	PublishTimeout       time.Duration `env:"PUBLISH_TIMEOUT,default=2s"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=15s"`
	SaturationRatio      float64       `env:"SATURATION_RATIO,default=0.8"`

	PingPeriod     time.Duration `env:"PING_PERIOD,default=25s"`
	PongWait       time.Duration `env:"PONG_WAIT,default=60s"`
	WriteWait      time.Duration `env:"WRITE_WAIT,default=10s"`
	MaxMessageSize int64         `env:"MAX_MESSAGE_SIZE,default=65536"`
	InboundRate    float64       `env:"INBOUND_RATE,default=20"`
	InboundBurst   int           `env:"INBOUND_BURST,default=40"`

	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=1s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	StoreDriver    string `env:"STORE_DRIVER,default=badger"`
	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/badger"`
	PostgresURL    string `env:"POSTGRES_URL"`

	RabbitMQURL      string `env:"RABBITMQ_URL"`
	PresenceExchange string `env:"PRESENCE_EXCHANGE,default=presence"`

	AuthMode       string `env:"AUTH_MODE,default=query"`
	JWTSecret      string `env:"JWT_SECRET"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`

	LogLevel string `env:"LOG_LEVEL,default=INFO"`
	Host     string `env:"HOST,default=0.0.0.0"`
	Port     int    `env:"PORT,default=5000"`
	GRPCPort int    `env:"GRPC_PORT,default=5001"`
}

// Validate checks the cross-field rules env tags cannot express.
func (c Config) Validate() error {
	if !lo.Contains([]string{StoreBadger, StorePostgres}, c.StoreDriver) {
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreBadger, StorePostgres, c.StoreDriver)
	}
	if c.StoreDriver == StorePostgres && c.PostgresURL == "" {
		return fmt.Errorf("POSTGRES_URL is required with the postgres store")
	}
	if !lo.Contains([]string{AuthQuery, AuthToken}, c.AuthMode) {
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthQuery, AuthToken, c.AuthMode)
	}
	if c.AuthMode == AuthToken && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required with token authentication")
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("PING_PERIOD (%s) must be shorter than PONG_WAIT (%s)", c.PingPeriod, c.PongWait)
	}
	if c.ConnectionBufferSize <= 0 || c.InboundBufferSize <= 0 {
		return fmt.Errorf("buffer sizes must be positive")
	}
	if c.SaturationRatio <= 0 || c.SaturationRatio > 1 {
		return fmt.Errorf("SATURATION_RATIO must be in (0, 1], got %v", c.SaturationRatio)
	}
	return nil
}

// Origins splits ALLOWED_ORIGINS on commas. Empty means any origin.
func (c Config) Origins() []string {
	return lo.Compact(lo.Map(strings.Split(c.AllowedOrigins, ","), func(o string, _ int) string {
		return strings.TrimSpace(o)
	}))
}
