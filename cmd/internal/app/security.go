package app

import (
	"errors"

	"tearoom/cmd/internal/auth/session"
)

// ValidateSecurityConfig enforces startup security policy.
//
// Under RequireTokenHMAC the refresh digests must be keyed; there is no
// silent fallback to plain SHA-256.
func ValidateSecurityConfig(cfg Config, sess session.Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}
	if sess.TokenHMACKey == "" {
		return errors.New("security policy: TEAROOM_REQUIRE_TOKEN_HMAC=true but TEAROOM_AUTH_TOKEN_HMAC_KEY is missing")
	}
	if err := sess.Validate(); err != nil {
		return errors.New("security policy: TEAROOM_AUTH_TOKEN_HMAC_KEY is invalid or too short")
	}
	if !sess.Hasher().HMAC() {
		return errors.New("security policy: refresh token hasher is not in HMAC mode")
	}
	return nil
}
