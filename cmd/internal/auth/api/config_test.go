package authapi

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("TEAROOM_AUTH_API_TRUST_PROXY", "true")
	t.Setenv("TEAROOM_AUTH_API_LOGIN_IP_MAX", "3")
	t.Setenv("TEAROOM_AUTH_API_REFRESH_IP_WINDOW", "30s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if !cfg.TrustProxy || cfg.LoginIPMax != 3 || cfg.RefreshIPWindow != 30*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	cases := map[string]string{
		"TEAROOM_AUTH_API_MAX_BODY_BYTES": "0",
		"TEAROOM_AUTH_API_LOGIN_IP_MAX":   "-1",
		"TEAROOM_AUTH_API_TRUST_PROXY":    "maybe",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}

	t.Run("window required when enabled", func(t *testing.T) {
		t.Setenv("TEAROOM_AUTH_API_REFRESH_IP_WINDOW", "0s")
		if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
			t.Fatalf("expected ErrConfig, got %v", err)
		}
	})
}
