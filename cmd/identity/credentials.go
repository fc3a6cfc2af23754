package identity

import (
	"sync"

	"tearoom/cmd/security/password"
)

// Credentials hashes and verifies principal secrets.
//
// It keeps a lazily built dummy hash so lookups that miss a principal still
// spend the same argon2id work as a real verification.
type Credentials struct {
	cfg password.Config

	dummyOnce sync.Once
	dummy     string
}

// NewCredentials returns Credentials bound to cfg.
func NewCredentials(cfg password.Config) *Credentials {
	return &Credentials{cfg: cfg}
}

// Config returns the active password configuration.
func (c *Credentials) Config() password.Config { return c.cfg }

// Hash validates policy and returns a PHC argon2id string.
func (c *Credentials) Hash(secret string) (string, error) {
	return c.cfg.Hash(secret)
}

// HashFor is Hash with the policy also checking the secret against p's
// email and display name.
func (c *Credentials) HashFor(p Principal, secret string) (string, error) {
	return c.cfg.HashFor(secret, password.Subject{Email: p.Email, DisplayName: p.DisplayName})
}

// Verify compares secret against encoded in constant time.
// A malformed stored hash yields password.ErrInvalidHash.
func (c *Credentials) Verify(encoded, secret string) (bool, error) {
	return c.cfg.Verify(encoded, secret)
}

// VerifyDummy burns one verification against a throwaway hash.
func (c *Credentials) VerifyDummy(secret string) {
	c.dummyOnce.Do(func() {
		h, err := c.cfg.Hash("tearoom-dummy-secret-not-a-password")
		if err == nil {
			c.dummy = h
		}
	})
	if c.dummy == "" {
		return
	}
	_, _ = c.cfg.Verify(c.dummy, secret)
}

// NeedsRehash reports whether encoded was produced under older parameters.
func (c *Credentials) NeedsRehash(encoded string) bool {
	return c.cfg.NeedsRehash(encoded)
}
