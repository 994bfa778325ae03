package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "SUBMIT_TIMEOUT", "RETRY_MAX_ATTEMPTS", "KAFKA_BROKERS", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.SubmitTimeout != 5*time.Second {
		t.Errorf("SubmitTimeout = %v, want 5s", cfg.SubmitTimeout)
	}
	if cfg.RetryMaxAttempts != 5 {
		t.Errorf("RetryMaxAttempts = %d, want 5", cfg.RetryMaxAttempts)
	}
	if cfg.KafkaBrokers != "" {
		t.Errorf("KafkaBrokers = %q, want empty", cfg.KafkaBrokers)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:3000" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SUBMIT_TIMEOUT", "750ms")
	t.Setenv("RIVER_MAX_WORKERS", "3")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SubmitTimeout != 750*time.Millisecond {
		t.Errorf("SubmitTimeout = %v", cfg.SubmitTimeout)
	}
	if cfg.RiverMaxWorkers != 3 {
		t.Errorf("RiverMaxWorkers = %d", cfg.RiverMaxWorkers)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Errorf("CORSOrigins = %v, want 2 entries", cfg.CORSOrigins)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"SUBMIT_TIMEOUT":     "soon",
		"RETRY_MAX_ATTEMPTS": "0",
		"RIVER_MAX_WORKERS":  "many",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Errorf("%s=%q: expected error", key, val)
			}
		})
	}
}
