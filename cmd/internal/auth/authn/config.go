package authn

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config tunes the session manager.
type Config struct {
	// RetryAttempts is the total number of tries for a store-bound call.
	RetryAttempts int `envconfig:"retry_attempts"`
	// RetryBackoff is multiplied by the attempt number between tries.
	RetryBackoff time.Duration `envconfig:"retry_backoff"`
	// StoreTimeout bounds each identity store call.
	StoreTimeout time.Duration `envconfig:"store_timeout"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RetryAttempts: 3,
		RetryBackoff:  50 * time.Millisecond,
		StoreTimeout:  3 * time.Second,
	}
}

// LoadConfigFromEnv reads TEAROOM_AUTHN_* on top of DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process("tearoom_authn", &cfg); err != nil {
		return Config{}, ErrConfig
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges.
func (c Config) Validate() error {
	if c.RetryAttempts < 1 || c.RetryAttempts > 10 {
		return ErrConfig
	}
	if c.RetryBackoff < 0 || c.RetryBackoff > 5*time.Second {
		return ErrConfig
	}
	if c.StoreTimeout <= 0 {
		return ErrConfig
	}
	return nil
}
