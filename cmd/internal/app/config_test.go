package app

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TEAROOM_DATABASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:8080" || cfg.DBSchema != "tearoom" || cfg.LogFormat != "json" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DatabaseEnabled() || cfg.RedisEnabled() {
		t.Fatalf("stores should default to memory")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("TEAROOM_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("TEAROOM_LOG_FORMAT", "pretty")
	t.Setenv("TEAROOM_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("TEAROOM_CORS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("TEAROOM_WS_CONNECT_WINDOW", "30s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9000" || cfg.LogFormat != "pretty" || !cfg.RedisEnabled() {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.WSConnectWindow != 30*time.Second {
		t.Fatalf("list/duration overrides not applied: %+v", cfg)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"TEAROOM_LOG_FORMAT":           "xml",
		"TEAROOM_DB_MAX_CONNS":         "0",
		"TEAROOM_WS_CONNECT_MAX":       "-1",
		"TEAROOM_HUB_SWEEP_INTERVAL":   "soon",
		"TEAROOM_READINESS_REQUIRE_DB": "true",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("TEAROOM_DATABASE_URL", "")
			t.Setenv(key, val)
			if _, err := LoadConfig(); !errors.Is(err, ErrConfig) {
				t.Fatalf("%s=%s: expected ErrConfig, got %v", key, val, err)
			}
		})
	}
}
