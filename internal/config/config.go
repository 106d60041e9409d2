// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Device transports accepted in DEVICE_TRANSPORT.
const (
	TransportAPI  = "api"
	TransportREST = "rest"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC health server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogFormat is "human" or "json".
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// DeviceTransport selects the gateway implementation: "api" (RouterOS API) or "rest" (RouterOS v7 REST).
	DeviceTransport string `mapstructure:"DEVICE_TRANSPORT"`
	// DeviceHost is the hotspot router address (host only).
	DeviceHost string `mapstructure:"DEVICE_HOST"`
	// DevicePort is the API port; 0 picks the transport default (8728/8729 for api, 80/443 for rest).
	DevicePort int `mapstructure:"DEVICE_PORT"`
	// DeviceUser and DevicePassword are the router login. An empty password leaves the gateway disconnected.
	DeviceUser     string `mapstructure:"DEVICE_USER"`
	DevicePassword string `mapstructure:"DEVICE_PASSWORD"`
	// DeviceTLS enables api-ssl / https.
	DeviceTLS bool `mapstructure:"DEVICE_TLS"`
	// DeviceTimeout bounds every single device call (e.g. "10s").
	DeviceTimeout string `mapstructure:"DEVICE_TIMEOUT"`

	// ReconcileInterval is how often live sessions are imported (e.g. "5m").
	ReconcileInterval string `mapstructure:"RECONCILE_INTERVAL"`
	// ExpireSweepInterval is how often expired accounts are demoted (e.g. "1h").
	ExpireSweepInterval string `mapstructure:"EXPIRE_SWEEP_INTERVAL"`
	// JobTimeout bounds a single scheduled run, including shutdown drain.
	JobTimeout string `mapstructure:"JOB_TIMEOUT"`
	// SchedulerLockTTL is the Redis lock lease per job run when REDIS_ADDR is set.
	SchedulerLockTTL string `mapstructure:"SCHEDULER_LOCK_TTL"`

	// RateSampleTTL drops throughput samples not refreshed within this window.
	RateSampleTTL string `mapstructure:"RATE_SAMPLE_TTL"`
	// RateSampleMax caps the number of tracked sessions.
	RateSampleMax int `mapstructure:"RATE_SAMPLE_MAX"`

	// IdentityPrefix prefixes generated account identities (e.g. "etu" -> etu4821).
	IdentityPrefix string `mapstructure:"IDENTITY_PREFIX"`
	// TierPolicyFile optionally points at a Rego file replacing the built-in pricing tiers.
	TierPolicyFile string `mapstructure:"TIER_POLICY_FILE"`

	// KafkaBrokers is a comma-separated list of broker addresses. Empty disables Kafka.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsKafkaTopic receives lifecycle events.
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`
	// PaymentsKafkaTopic carries payment.completed messages. Empty disables the consumer.
	PaymentsKafkaTopic string `mapstructure:"PAYMENTS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group of the events worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// PaymentsGroupID is the consumer group of the payment consumer in the server.
	PaymentsGroupID string `mapstructure:"PAYMENTS_GROUP_ID"`
	// LokiURL is used by the events worker (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint enables OTLP export when set (e.g. http://localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext gRPC to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// RedisAddr enables the cross-replica scheduler lock when set.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_FORMAT", "human")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DEVICE_TRANSPORT", TransportAPI)
	v.SetDefault("DEVICE_HOST", "192.168.88.1")
	v.SetDefault("DEVICE_PORT", 0)
	v.SetDefault("DEVICE_USER", "admin")
	v.SetDefault("DEVICE_PASSWORD", "")
	v.SetDefault("DEVICE_TLS", false)
	v.SetDefault("DEVICE_TIMEOUT", "10s")
	v.SetDefault("RECONCILE_INTERVAL", "5m")
	v.SetDefault("EXPIRE_SWEEP_INTERVAL", "1h")
	v.SetDefault("JOB_TIMEOUT", "2m")
	v.SetDefault("SCHEDULER_LOCK_TTL", "10m")
	v.SetDefault("RATE_SAMPLE_TTL", "15m")
	v.SetDefault("RATE_SAMPLE_MAX", 10000)
	v.SetDefault("IDENTITY_PREFIX", "etu")
	v.SetDefault("TIER_POLICY_FILE", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "hotspot-events")
	v.SetDefault("PAYMENTS_KAFKA_TOPIC", "")
	v.SetDefault("KAFKA_GROUP_ID", "hotspot-events-worker")
	v.SetDefault("PAYMENTS_GROUP_ID", "hotspot-provisioner")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "hotspot-control-plane")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	cfg.DeviceTransport = strings.ToLower(strings.TrimSpace(cfg.DeviceTransport))
	if cfg.DeviceTransport != TransportAPI && cfg.DeviceTransport != TransportREST {
		return nil, fmt.Errorf("config: DEVICE_TRANSPORT must be %q or %q, got %q", TransportAPI, TransportREST, cfg.DeviceTransport)
	}
	if cfg.DeviceHost == "" {
		return nil, errors.New("config: DEVICE_HOST must be set")
	}
	if cfg.DevicePort < 0 || cfg.DevicePort > 65535 {
		return nil, errors.New("config: DEVICE_PORT must be between 0 and 65535")
	}
	if cfg.RateSampleMax <= 0 {
		cfg.RateSampleMax = 10000
	}
	if cfg.IdentityPrefix == "" {
		cfg.IdentityPrefix = "etu"
	}
	switch cfg.LogFormat {
	case "human", "json":
	default:
		return nil, fmt.Errorf("config: LOG_FORMAT must be human or json, got %q", cfg.LogFormat)
	}

	return &cfg, nil
}

// DeviceAddr returns host:port for the device, filling in the transport default port.
func (c *Config) DeviceAddr() string {
	port := c.DevicePort
	if port == 0 {
		switch {
		case c.DeviceTransport == TransportREST && c.DeviceTLS:
			port = 443
		case c.DeviceTransport == TransportREST:
			port = 80
		case c.DeviceTLS:
			port = 8729
		default:
			port = 8728
		}
	}
	return fmt.Sprintf("%s:%d", c.DeviceHost, port)
}

// DeviceCallTimeout parses DeviceTimeout. Returns 10s if unset or invalid.
func (c *Config) DeviceCallTimeout() time.Duration {
	return parseDuration(c.DeviceTimeout, 10*time.Second)
}

// ReconcileEvery parses ReconcileInterval. Returns 5m if unset or invalid.
func (c *Config) ReconcileEvery() time.Duration {
	return parseDuration(c.ReconcileInterval, 5*time.Minute)
}

// ExpireSweepEvery parses ExpireSweepInterval. Returns 1h if unset or invalid.
func (c *Config) ExpireSweepEvery() time.Duration {
	return parseDuration(c.ExpireSweepInterval, time.Hour)
}

// JobRunTimeout parses JobTimeout. Returns 2m if unset or invalid.
func (c *Config) JobRunTimeout() time.Duration {
	return parseDuration(c.JobTimeout, 2*time.Minute)
}

// LockTTL parses SchedulerLockTTL. Returns 10m if unset or invalid.
func (c *Config) LockTTL() time.Duration {
	return parseDuration(c.SchedulerLockTTL, 10*time.Minute)
}

// SampleTTL parses RateSampleTTL. Returns 15m if unset or invalid.
func (c *Config) SampleTTL() time.Duration {
	return parseDuration(c.RateSampleTTL, 15*time.Minute)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list means Kafka is disabled.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
