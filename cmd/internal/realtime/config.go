package realtime

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ErrConfig is returned for invalid gateway configuration.
var ErrConfig = errors.New("invalid realtime config")

// Config tunes the websocket gateway. Variables use the TEAROOM_WS_ prefix.
type Config struct {
	// DevInsecure disables the websocket library's own origin verification.
	DevInsecure bool `envconfig:"dev_insecure"`

	OriginRequired bool     `envconfig:"origin_required"`
	AllowedOrigins []string `envconfig:"allowed_origins"`

	WriteTimeout time.Duration `envconfig:"write_timeout"`

	SendQueue    int    `envconfig:"send_queue"`
	Backpressure string `envconfig:"backpressure"`

	HeartbeatInterval time.Duration `envconfig:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `envconfig:"heartbeat_timeout"`

	RateEvents int           `envconfig:"rate_events"`
	RateWindow time.Duration `envconfig:"rate_window"`

	// QueryTokenEnabled accepts ?access_token= for browsers that cannot set headers.
	QueryTokenEnabled bool `envconfig:"query_token"`
}

// DefaultConfig returns secure defaults: origin required, localhost only.
func DefaultConfig() Config {
	return Config{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      5 * time.Second,
		SendQueue:         256,
		Backpressure:      PolicyDisconnect.String(),
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
		QueryTokenEnabled: true,
	}
}

// LoadConfigFromEnv reads TEAROOM_WS_* on top of DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process("tearoom_ws", &cfg); err != nil {
		return Config{}, ErrConfig
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges.
func (c Config) Validate() error {
	if _, err := ParsePolicy(c.Backpressure); err != nil {
		return ErrConfig
	}
	if c.SendQueue < 1 || c.SendQueue > 1<<16 {
		return ErrConfig
	}
	if c.WriteTimeout <= 0 {
		return ErrConfig
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0 || c.HeartbeatTimeout >= c.HeartbeatInterval {
		return ErrConfig
	}
	if c.RateEvents <= 0 || c.RateWindow <= 0 {
		return ErrConfig
	}
	return nil
}
