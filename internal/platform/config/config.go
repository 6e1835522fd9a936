// Package config loads process configuration from the environment so main
// stays lean.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full process configuration.
type Config struct {
	Addr string `env:"EPPD_ADDR" envDefault:":8080"`

	// DatabaseURL selects the postgres store; empty runs on the in-memory
	// store, which is only suitable for development.
	DatabaseURL string `env:"EPPD_DATABASE_URL"`

	// RedisURL enables the registry config cache; empty disables it.
	RedisURL string `env:"EPPD_REDIS_URL"`

	// RegistryConfigPath points at the JSON TLD and registrar configuration.
	// Empty runs a small built-in development configuration.
	RegistryConfigPath string `env:"EPPD_REGISTRY_CONFIG"`

	JWTSigningKey string        `env:"EPPD_JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	SessionTTL    time.Duration `env:"EPPD_SESSION_TTL" envDefault:"24h"`

	// TxMaxAttempts bounds conflict retries per command.
	TxMaxAttempts int `env:"EPPD_TX_MAX_ATTEMPTS" envDefault:"3"`

	RegistryCacheTTL time.Duration `env:"EPPD_REGISTRY_CACHE_TTL" envDefault:"5m"`

	// KafkaBrokers enables the history outbox publisher; empty disables it.
	KafkaBrokers []string `env:"EPPD_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"EPPD_KAFKA_TOPIC" envDefault:"registry.history"`

	BillingInterval time.Duration `env:"EPPD_BILLING_INTERVAL" envDefault:"1h"`

	// EscrowDir is the drop directory for escrow and BRDA deposits; empty
	// disables the escrow workers.
	EscrowDir      string        `env:"EPPD_ESCROW_DIR"`
	EscrowInterval time.Duration `env:"EPPD_ESCROW_INTERVAL" envDefault:"1h"`
	EscrowPeriod   time.Duration `env:"EPPD_ESCROW_PERIOD" envDefault:"24h"`
	OutboxInterval time.Duration `env:"EPPD_OUTBOX_INTERVAL" envDefault:"30s"`

	ShutdownTimeout time.Duration `env:"EPPD_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	LogLevel string `env:"EPPD_LOG_LEVEL" envDefault:"info"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
