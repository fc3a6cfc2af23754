package app

import (
	"errors"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ErrConfig is returned when the runtime configuration is invalid.
var ErrConfig = errors.New("invalid app config")

// Config contains the server runtime configuration. Variables use the
// TEAROOM_ prefix; component packages load their own TEAROOM_<COMPONENT>_ sets.
type Config struct {
	HTTPAddr  string `envconfig:"http_addr"`
	LogLevel  string `envconfig:"log_level"`
	LogFormat string `envconfig:"log_format"`

	ReadHeaderTimeout time.Duration `envconfig:"http_read_header_timeout"`
	ReadTimeout       time.Duration `envconfig:"http_read_timeout"`
	WriteTimeout      time.Duration `envconfig:"http_write_timeout"`
	IdleTimeout       time.Duration `envconfig:"http_idle_timeout"`
	MaxHeaderBytes    int           `envconfig:"http_max_header_bytes"`
	ShutdownTimeout   time.Duration `envconfig:"shutdown_timeout"`

	// DatabaseURL switches every store to Postgres. Empty runs in memory.
	DatabaseURL string `envconfig:"database_url"`
	DBSchema    string `envconfig:"db_schema"`
	DBMaxConns  int32  `envconfig:"db_max_conns"`
	DBMinConns  int32  `envconfig:"db_min_conns"`
	// AutoMigrate applies pending migrations on startup.
	AutoMigrate bool `envconfig:"auto_migrate"`

	// ReadinessRequireDB makes /readyz fail unless Postgres is configured and reachable.
	ReadinessRequireDB bool `envconfig:"readiness_require_db"`

	// RedisURL enables the Redis event bus and shared rate limits.
	RedisURL     string `envconfig:"redis_url"`
	RedisChannel string `envconfig:"redis_channel"`

	CORSAllowedOrigins   []string `envconfig:"cors_allowed_origins"`
	CORSAllowCredentials bool     `envconfig:"cors_allow_credentials"`
	CORSMaxAgeSeconds    int      `envconfig:"cors_max_age_seconds"`

	WSConnectMax    int           `envconfig:"ws_connect_max"`
	WSConnectWindow time.Duration `envconfig:"ws_connect_window"`

	TenantCacheTTL time.Duration `envconfig:"tenant_cache_ttl"`

	RefreshPurgeInterval time.Duration `envconfig:"refresh_purge_interval"`
	RefreshPurgeGrace    time.Duration `envconfig:"refresh_purge_grace"`
	HubSweepInterval     time.Duration `envconfig:"hub_sweep_interval"`

	// RequireTokenHMAC refuses to start unless refresh digests are keyed.
	RequireTokenHMAC bool `envconfig:"require_token_hmac"`
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:             "0.0.0.0:8080",
		LogLevel:             "info",
		LogFormat:            "json",
		ReadHeaderTimeout:    5 * time.Second,
		ReadTimeout:          15 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		MaxHeaderBytes:       1 << 20,
		ShutdownTimeout:      10 * time.Second,
		DBSchema:             "tearoom",
		DBMaxConns:           10,
		CORSMaxAgeSeconds:    600,
		WSConnectMax:         30,
		WSConnectWindow:      time.Minute,
		TenantCacheTTL:       time.Minute,
		RefreshPurgeInterval: time.Hour,
		RefreshPurgeGrace:    7 * 24 * time.Hour,
		HubSweepInterval:     time.Minute,
	}
}

// LoadConfig reads TEAROOM_* on top of DefaultConfig.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process("tearoom", &cfg); err != nil {
		return Config{}, errors.Join(ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that envconfig cannot express.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return ErrConfig
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "pretty", "text":
	default:
		return ErrConfig
	}
	if c.ReadHeaderTimeout <= 0 || c.ReadTimeout <= 0 || c.IdleTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return ErrConfig
	}
	// WriteTimeout 0 disables the server-wide deadline.
	if c.WriteTimeout < 0 || c.MaxHeaderBytes <= 0 {
		return ErrConfig
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return ErrConfig
	}
	if c.ReadinessRequireDB && strings.TrimSpace(c.DatabaseURL) == "" {
		return ErrConfig
	}
	if c.WSConnectMax <= 0 || c.WSConnectWindow <= 0 {
		return ErrConfig
	}
	if c.TenantCacheTTL < 0 || c.CORSMaxAgeSeconds < 0 {
		return ErrConfig
	}
	if c.RefreshPurgeInterval <= 0 || c.RefreshPurgeGrace < 0 || c.HubSweepInterval <= 0 {
		return ErrConfig
	}
	return nil
}

// DatabaseEnabled reports whether Postgres-backed stores are configured.
func (c Config) DatabaseEnabled() bool { return strings.TrimSpace(c.DatabaseURL) != "" }

// RedisEnabled reports whether the Redis bus and limiters are configured.
func (c Config) RedisEnabled() bool { return strings.TrimSpace(c.RedisURL) != "" }
