package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Oracle.HTTPBaseURL = "https://quotes.example.com"
	return cfg
}

func TestDefaultsValidateWithOracle(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRequiresPriceSource(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want price source error")
	}
	if !strings.Contains(err.Error(), "oracle") {
		t.Fatalf("Validate() = %v, want oracle error", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "turbo"
	cfg.Engine.TP1ClosedFraction = 0.5
	cfg.Engine.TP2ClosedFraction = 0.6
	cfg.Risk.BreakevenPolicy = "maybe"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"unknown mode", "runner", "breakeven_policy"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q: %v", want, err)
		}
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"

[oracle]
http_base_url = "https://quotes.example.com"
price_max_age = "90s"

[engine]
interval = "10s"
trail_distance_r = 0.75
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TRADELIFE_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("TRADELIFE_ENGINE_CONCURRENCY", "4")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}

	if cfg.Mode != "monitor" {
		t.Errorf("Mode = %q, want monitor", cfg.Mode)
	}
	if cfg.Engine.Interval.Duration != 10*time.Second {
		t.Errorf("Engine.Interval = %v, want 10s", cfg.Engine.Interval.Duration)
	}
	if cfg.Engine.TrailDistanceR != 0.75 {
		t.Errorf("TrailDistanceR = %v, want 0.75", cfg.Engine.TrailDistanceR)
	}
	if cfg.Oracle.PriceMaxAge.Duration != 90*time.Second {
		t.Errorf("PriceMaxAge = %v, want 90s", cfg.Oracle.PriceMaxAge.Duration)
	}
	// Defaults survive where the file is silent.
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want default 5432", cfg.Database.Port)
	}
	// Env overrides beat both.
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("Redis.Addr = %q, want env override", cfg.Redis.Addr)
	}
	if cfg.Engine.Concurrency != 4 {
		t.Errorf("Engine.Concurrency = %d, want 4", cfg.Engine.Concurrency)
	}
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Password = "hunter2"
	cfg.S3.SecretKey = "shhh"
	cfg.Server.APIKey = "key123"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)

	if red.Database.Password != "***" || red.S3.SecretKey != "***" ||
		red.Server.APIKey != "***" || red.Notify.TelegramToken != "***" {
		t.Error("secrets not redacted")
	}
	if cfg.Database.Password != "hunter2" {
		t.Error("original config mutated")
	}

	red.Oracle.Symbols = append(red.Oracle.Symbols, "EURUSD")
	red.Notify.Events = append(red.Notify.Events[:0], "NONE")
	if len(cfg.Notify.Events) > 0 && cfg.Notify.Events[0] == "NONE" {
		t.Error("redacted copy shares slice backing with original")
	}
}
