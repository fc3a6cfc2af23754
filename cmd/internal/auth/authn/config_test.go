package authn

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("TEAROOM_AUTHN_RETRY_ATTEMPTS", "5")
	t.Setenv("TEAROOM_AUTHN_RETRY_BACKOFF", "10ms")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.RetryAttempts != 5 || cfg.RetryBackoff != 10*time.Millisecond {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.StoreTimeout != DefaultConfig().StoreTimeout {
		t.Fatalf("default store timeout lost: %v", cfg.StoreTimeout)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	t.Setenv("TEAROOM_AUTHN_RETRY_ATTEMPTS", "0")

	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
