package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "serve"

[postgres]
host = "db.internal"
password = "secret"

[pipeline]
tick_interval = "5s"

[server]
port = 9090
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Mode != "serve" {
		t.Errorf("mode = %s, want serve", cfg.Mode)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("postgres host = %s, want db.internal", cfg.Postgres.Host)
	}
	if cfg.Pipeline.TickInterval.Duration != 5*time.Second {
		t.Errorf("tick interval = %s, want 5s", cfg.Pipeline.TickInterval.Duration)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}

	// Untouched sections keep their defaults.
	if cfg.Postgres.Database != "mktsim" {
		t.Errorf("database = %s, want default mktsim", cfg.Postgres.Database)
	}
	if cfg.Market.MomentumRelease != 0.20 {
		t.Errorf("momentum release = %v, want default 0.20", cfg.Market.MomentumRelease)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("merged config should validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[postgres]
host = "from-file"
`)
	t.Setenv("MKT_POSTGRES_HOST", "from-env")
	t.Setenv("MKT_SERVER_PORT", "7070")
	t.Setenv("MKT_MODE", "engine")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Postgres.Host != "from-env" {
		t.Errorf("host = %s, want env override from-env", cfg.Postgres.Host)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Mode != "engine" {
		t.Errorf("mode = %s, want engine", cfg.Mode)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantSub string
	}{
		{
			name: "missing postgres target",
			mutate: func(cfg *Config) {
				cfg.Postgres.DSN = ""
				cfg.Postgres.Host = ""
			},
			wantSub: "postgres",
		},
		{
			name:    "bad mode",
			mutate:  func(cfg *Config) { cfg.Mode = "hybrid" },
			wantSub: "Mode",
		},
		{
			name:    "s3 enabled without bucket",
			mutate:  func(cfg *Config) { cfg.S3.Enabled = true },
			wantSub: "bucket",
		},
		{
			name:    "zero tick interval",
			mutate:  func(cfg *Config) { cfg.Pipeline.TickInterval.Duration = 0 },
			wantSub: "tick_interval",
		},
		{
			name:    "momentum release above one",
			mutate:  func(cfg *Config) { cfg.Market.MomentumRelease = 1.5 },
			wantSub: "MomentumRelease",
		},
		{
			name:    "port out of range",
			mutate:  func(cfg *Config) { cfg.Server.Port = 0 },
			wantSub: "Port",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
