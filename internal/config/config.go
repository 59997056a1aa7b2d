// Package config defines the top-level configuration for the market
// simulation engine and provides validation helpers.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MKT_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Market   MarketConfig   `toml:"market"`
	Funding  FundingConfig  `toml:"funding"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode" validate:"oneof=serve engine full"`
	LogLevel string         `toml:"log_level" validate:"oneof=debug info warn error"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr" validate:"required"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for ledger
// archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days" validate:"min=1"`
}

// MarketConfig holds the hand-tuned simulation constants. They come from the
// original operator configuration and are deliberately not derived.
type MarketConfig struct {
	// MomentumRelease is the fraction of momentum bled into the price per
	// tick (~5-tick half-life at 0.2).
	MomentumRelease float64 `toml:"momentum_release" validate:"gt=0,lte=1"`
	// MomentumEpsilon snaps momentum to zero below this magnitude.
	MomentumEpsilon float64 `toml:"momentum_epsilon" validate:"gt=0"`
	// StepFraction is the per-tick fraction of the gap to a strategy target,
	// used when an instrument does not set target minutes.
	StepFraction float64 `toml:"step_fraction" validate:"gt=0,lte=1"`
	// ImpactCoefficient scales order size into momentum.
	ImpactCoefficient float64 `toml:"impact_coefficient" validate:"gt=0"`
	// ReferenceVolume is the denominator for market impact on instruments
	// without a supply cap.
	ReferenceVolume float64 `toml:"reference_volume" validate:"gt=0"`
	// NoisePercent bounds the synthetic wick/open perturbation per bar.
	NoisePercent float64 `toml:"noise_percent" validate:"gte=0"`
	// FeePercent is the default per-side fee for instruments that do not
	// override it.
	FeePercent float64 `toml:"fee_percent" validate:"gte=0"`
	// DirectRate / IndirectRate are the referral commission percents
	// credited on buys.
	DirectRate   float64 `toml:"direct_rate" validate:"gte=0"`
	IndirectRate float64 `toml:"indirect_rate" validate:"gte=0"`
	// OrderRatePerSec bounds PlaceOrder calls per account.
	OrderRatePerSec int `toml:"order_rate_per_sec" validate:"min=1"`
}

// FundingConfig holds deposit/withdrawal parameters.
type FundingConfig struct {
	// DepositTTLMinutes is how long an awaiting_payment deposit stays
	// confirmable.
	DepositTTLMinutes int `toml:"deposit_ttl_minutes" validate:"min=1"`
}

// PipelineConfig holds scheduler intervals and cron expressions.
type PipelineConfig struct {
	TickInterval     duration `toml:"tick_interval"`
	DividendInterval duration `toml:"dividend_interval"`
	ExpiryInterval   duration `toml:"expiry_interval"`
	SettlementCron   string   `toml:"settlement_cron"`
	ArchiveCron      string   `toml:"archive_cron"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port        int      `toml:"port" validate:"min=1,max=65535"`
	CORSOrigins []string `toml:"cors_origins"`
	AdminAPIKey string   `toml:"admin_api_key"`
}

// duration lets TOML carry values like "1m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Defaults returns the built-in configuration the TOML file is merged over.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "mktsim",
			User:          "mktsim",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		S3: S3Config{
			Region:        "us-east-1",
			RetentionDays: 90,
		},
		Market: MarketConfig{
			MomentumRelease:   0.20,
			MomentumEpsilon:   0.0001,
			StepFraction:      0.02,
			ImpactCoefficient: 5.0,
			ReferenceVolume:   1_000_000,
			NoisePercent:      0.15,
			FeePercent:        1.0,
			DirectRate:        10.0,
			IndirectRate:      5.0,
			OrderRatePerSec:   10,
		},
		Funding: FundingConfig{
			DepositTTLMinutes: 15,
		},
		Pipeline: PipelineConfig{
			TickInterval:     duration{time.Minute},
			DividendInterval: duration{time.Hour},
			ExpiryInterval:   duration{time.Minute},
			SettlementCron:   "30 0 * * *",
			ArchiveCron:      "0 3 * * 0",
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Validate checks the assembled configuration. Postgres needs either a DSN
// or discrete host credentials; everything else is covered by struct tags.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		return fmt.Errorf("config: postgres requires dsn or host/database/user")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("config: s3 archival enabled without a bucket")
	}
	if c.Pipeline.TickInterval.Duration <= 0 {
		return fmt.Errorf("config: tick_interval must be positive")
	}
	if c.Pipeline.DividendInterval.Duration <= 0 {
		return fmt.Errorf("config: dividend_interval must be positive")
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
