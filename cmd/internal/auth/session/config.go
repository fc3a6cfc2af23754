package session

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"tearoom/cmd/security/token"
)

// Token formats supported by NewAccessTokenManager.
const (
	FormatPaseto = "paseto"
	FormatJWT    = "jwt"
)

// Config defines runtime configuration for the token service.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string `envconfig:"issuer"`

	AccessTokenTTL  time.Duration `envconfig:"access_ttl"`
	RefreshTokenTTL time.Duration `envconfig:"refresh_ttl"`

	// ClockSkew is the tolerance applied to exp/nbf during verification.
	ClockSkew time.Duration `envconfig:"clock_skew"`

	// RefreshTokenBytes is the entropy of opaque refresh tokens.
	RefreshTokenBytes int `envconfig:"refresh_token_bytes"`

	// TokenFormat selects the access token encoding: "paseto" or "jwt".
	TokenFormat string `envconfig:"token_format"`

	// PasetoV4SecretKeyHex is the hex Ed25519 secret key for v4.public tokens.
	PasetoV4SecretKeyHex string `envconfig:"paseto_v4_secret_key_hex"`

	// JWTAlgorithm is "HS256" or "EdDSA".
	JWTAlgorithm string `envconfig:"jwt_algorithm"`
	// JWTSecret is the HS256 shared secret, or the hex Ed25519 seed for EdDSA.
	JWTSecret string `envconfig:"jwt_secret"`

	// TokenHMACKey switches refresh digests from SHA-256 to HMAC-SHA256.
	TokenHMACKey string `envconfig:"token_hmac_key"`

	// StoreTimeout bounds each refresh-record store call.
	StoreTimeout time.Duration `envconfig:"store_timeout"`
	// RotateTimeout bounds a whole rotation unit, which runs detached from the caller.
	RotateTimeout time.Duration `envconfig:"rotate_timeout"`
}

// DefaultConfig returns defaults suitable for development.
// Production deployments override keys and TTLs via environment.
func DefaultConfig() Config {
	return Config{
		Issuer:            "tearoom",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTokenTTL:   30 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		RefreshTokenBytes: 32,
		TokenFormat:       FormatPaseto,
		JWTAlgorithm:      "HS256",
		StoreTimeout:      3 * time.Second,
		RotateTimeout:     5 * time.Second,
	}
}

// LoadConfigFromEnv loads TEAROOM_AUTH_* variables on top of DefaultConfig.
//
// Required for TokenFormat "paseto": TEAROOM_AUTH_PASETO_V4_SECRET_KEY_HEX.
// Required for TokenFormat "jwt": TEAROOM_AUTH_JWT_SECRET.
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process("tearoom_auth", &cfg); err != nil {
		return Config{}, ErrConfig
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that envconfig cannot express.
func (c Config) Validate() error {
	c.TokenFormat = strings.ToLower(strings.TrimSpace(c.TokenFormat))

	if strings.TrimSpace(c.Issuer) == "" {
		return ErrConfig
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.ClockSkew < 0 {
		return ErrConfig
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		return ErrConfig
	}
	if c.RefreshTokenBytes < 32 || c.RefreshTokenBytes > 64 {
		return ErrConfig
	}
	if c.StoreTimeout <= 0 || c.RotateTimeout < c.StoreTimeout {
		return ErrConfig
	}

	switch c.TokenFormat {
	case FormatPaseto:
		if strings.TrimSpace(c.PasetoV4SecretKeyHex) == "" {
			return ErrConfig
		}
	case FormatJWT:
		if strings.TrimSpace(c.JWTSecret) == "" {
			return ErrConfig
		}
	default:
		return ErrConfig
	}

	if strings.TrimSpace(c.TokenHMACKey) != "" {
		if err := token.ValidateHMACKey(c.TokenHMACKey, token.MinHMACKeyBytes); err != nil {
			return ErrConfig
		}
	}
	return nil
}

// Hasher returns the refresh token hasher implied by TokenHMACKey.
func (c Config) Hasher() token.Hasher {
	return token.NewHasher(c.TokenHMACKey)
}
