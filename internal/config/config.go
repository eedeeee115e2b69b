// Package config loads the settlement service configuration from the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	LedgerMemory = "memory"
	LedgerRedis  = "redis"
)

type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`
	GRPCPort string `env:"PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// SQLitePath empty keeps all state in memory.
	SQLitePath string `env:"SQLITE_PATH"`

	// RedisAddr empty disables idempotent replay on the HTTP surface.
	RedisAddr      string        `env:"REDIS_ADDR"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	AdminAddress       string `env:"ADMIN_ADDRESS,required"`
	CoordinatorAddress string `env:"COORDINATOR_ADDRESS" envDefault:"dvp"`

	RegistryAddress string `env:"REGISTRY_ADDRESS" envDefault:"pot"`
	RegistryName    string `env:"REGISTRY_NAME" envDefault:"Payment Order Token"`
	RegistrySymbol  string `env:"REGISTRY_SYMBOL" envDefault:"POT"`
	RegistryBaseURI string `env:"REGISTRY_BASE_URI" envDefault:"localhost/"`

	StaleAfter    time.Duration `env:"STALE_AFTER" envDefault:"96h"`
	WatchIssuance bool          `env:"WATCH_ISSUANCE" envDefault:"true"`

	LedgerBackend   string   `env:"LEDGER_BACKEND" envDefault:"memory"`
	LedgerRedisAddr string   `env:"LEDGER_REDIS_ADDR"`
	LedgerRefs      []string `env:"LEDGER_REFS" envDefault:"at" envSeparator:","`

	BreakerMaxRequests         uint32        `env:"LEDGER_BREAKER_MAX_REQUESTS" envDefault:"1"`
	BreakerInterval            time.Duration `env:"LEDGER_BREAKER_INTERVAL" envDefault:"60s"`
	BreakerTimeout             time.Duration `env:"LEDGER_BREAKER_TIMEOUT" envDefault:"30s"`
	BreakerConsecutiveFailures uint32        `env:"LEDGER_BREAKER_FAILURES" envDefault:"5"`

	TracingEnabled bool    `env:"TRACING_ENABLED" envDefault:"false"`
	ServiceName    string  `env:"OTEL_SERVICE_NAME" envDefault:"settlement-service"`
	OTLPEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Environment    string  `env:"OTEL_RESOURCE_ATTRIBUTES_ENV" envDefault:"local"`
	SampleRatio    float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the service configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.LedgerBackend {
	case LedgerMemory:
	case LedgerRedis:
		if c.LedgerRedisAddr == "" {
			return fmt.Errorf("config: LEDGER_REDIS_ADDR is required for the redis ledger backend")
		}
	default:
		return fmt.Errorf("config: unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}
	if len(c.LedgerRefs) == 0 {
		return fmt.Errorf("config: LEDGER_REFS lists no ledger")
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("config: STALE_AFTER must be positive, got %s", c.StaleAfter)
	}
	if c.CoordinatorAddress == c.RegistryAddress {
		return fmt.Errorf("config: coordinator and registry share address %q", c.CoordinatorAddress)
	}
	return nil
}
