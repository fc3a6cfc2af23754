package authapi

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ErrConfig is returned for invalid auth API configuration.
var ErrConfig = errors.New("invalid auth api config")

// Config controls HTTP auth endpoint limits. Variables use the TEAROOM_AUTH_API_ prefix.
type Config struct {
	// TrustProxy honors X-Forwarded-For / X-Real-IP for client IPs.
	TrustProxy   bool  `envconfig:"trust_proxy"`
	MaxBodyBytes int64 `envconfig:"max_body_bytes"`

	LoginIPMax    int           `envconfig:"login_ip_max"`
	LoginIPWindow time.Duration `envconfig:"login_ip_window"`

	LoginIdentifierMax    int           `envconfig:"login_identifier_max"`
	LoginIdentifierWindow time.Duration `envconfig:"login_identifier_window"`

	RefreshIPMax    int           `envconfig:"refresh_ip_max"`
	RefreshIPWindow time.Duration `envconfig:"refresh_ip_window"`
}

// DefaultConfig returns conservative limits.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:          1 << 20, // 1 MiB
		LoginIPMax:            20,
		LoginIPWindow:         5 * time.Minute,
		LoginIdentifierMax:    5,
		LoginIdentifierWindow: 15 * time.Minute,
		RefreshIPMax:          60,
		RefreshIPWindow:       time.Minute,
	}
}

// LoadConfigFromEnv reads TEAROOM_AUTH_API_* on top of DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process("tearoom_auth_api", &cfg); err != nil {
		return Config{}, ErrConfig
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges. A zero max disables that limit.
func (c Config) Validate() error {
	if c.MaxBodyBytes <= 0 || c.MaxBodyBytes > 16<<20 {
		return ErrConfig
	}
	for _, l := range []struct {
		max    int
		window time.Duration
	}{
		{c.LoginIPMax, c.LoginIPWindow},
		{c.LoginIdentifierMax, c.LoginIdentifierWindow},
		{c.RefreshIPMax, c.RefreshIPWindow},
	} {
		if l.max < 0 {
			return ErrConfig
		}
		if l.max > 0 && l.window <= 0 {
			return ErrConfig
		}
	}
	return nil
}
