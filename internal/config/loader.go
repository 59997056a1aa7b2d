package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MKT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MKT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Postgres.DSN, "MKT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MKT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MKT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MKT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MKT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MKT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MKT_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "MKT_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "MKT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MKT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MKT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "MKT_REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "MKT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MKT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MKT_S3_REGION")
	setStr(&cfg.S3.Bucket, "MKT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MKT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MKT_S3_SECRET_KEY")

	setFloat64(&cfg.Market.ImpactCoefficient, "MKT_MARKET_IMPACT_COEFFICIENT")
	setFloat64(&cfg.Market.MomentumRelease, "MKT_MARKET_MOMENTUM_RELEASE")
	setFloat64(&cfg.Market.FeePercent, "MKT_MARKET_FEE_PERCENT")

	setInt(&cfg.Server.Port, "MKT_SERVER_PORT")
	setStr(&cfg.Server.AdminAPIKey, "MKT_SERVER_ADMIN_API_KEY")

	setStr(&cfg.Mode, "MKT_MODE")
	setStr(&cfg.LogLevel, "MKT_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
