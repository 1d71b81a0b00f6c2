package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL    string `env:"DATABASE_URL,required"`
	Port           int    `env:"PORT" envDefault:"8080"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv         string `env:"APP_ENV" envDefault:"production"`
	AdminJWTSecret string `env:"ADMIN_JWT_SECRET,required"`

	// Inbound webhook boundary.
	SourceWebhookSecret string `env:"SOURCE_WEBHOOK_SECRET,required"`
	WebhookMaxSkewS     int    `env:"WEBHOOK_MAX_SKEW_S" envDefault:"300"`

	// Idempotency layer.
	IdempotencyTTLHours   int `env:"IDEMPOTENCY_TTL_HOURS" envDefault:"24"`
	IdempotencySweepIntlS int `env:"IDEMPOTENCY_SWEEP_INTERVAL_S" envDefault:"600"`

	// Transaction manager retry policy.
	TxMaxAttempts     int `env:"TX_MAX_ATTEMPTS" envDefault:"5"`
	TxBaseDelayMs     int `env:"TX_BASE_DELAY_MS" envDefault:"10"`
	TxMaxElapsedMs    int `env:"TX_MAX_ELAPSED_MS" envDefault:"2000"`
	TxLockTimeoutMs   int `env:"TX_LOCK_TIMEOUT_MS" envDefault:"1000"`
	TxStmtTimeoutMs   int `env:"TX_STMT_TIMEOUT_MS" envDefault:"5000"`

	// Inbound event processor.
	InboundPollIntervalS int `env:"INBOUND_POLL_INTERVAL_S" envDefault:"2"`
	InboundBatchSize     int `env:"INBOUND_BATCH_SIZE" envDefault:"10"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHours) * time.Hour
}

func (c *Config) IdempotencySweepInterval() time.Duration {
	return time.Duration(c.IdempotencySweepIntlS) * time.Second
}

func (c *Config) WebhookMaxSkew() time.Duration {
	return time.Duration(c.WebhookMaxSkewS) * time.Second
}

func (c *Config) InboundPollInterval() time.Duration {
	return time.Duration(c.InboundPollIntervalS) * time.Second
}
