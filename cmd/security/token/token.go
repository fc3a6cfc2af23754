package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// MinHMACKeyBytes is the smallest key accepted when HMAC mode is required.
const MinHMACKeyBytes = 32

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// ValidateHMACKey enforces a minimum byte length on a configured key.
// Bytes (not runes) are measured because the key is used as raw bytes.
func ValidateHMACKey(raw string, minBytes int) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrHMACKeyMissing
	}
	if minBytes > 0 && len(raw) < minBytes {
		return ErrHMACKeyTooShort
	}
	return nil
}

// Hasher hashes refresh tokens for server-side storage.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher. An empty key selects SHA-256 mode.
func NewHasher(key string) Hasher {
	key = strings.TrimSpace(key)
	if key == "" {
		return Hasher{}
	}
	return Hasher{key: []byte(key)}
}

// HMAC reports whether the hasher runs in keyed mode.
func (h Hasher) HMAC() bool { return len(h.key) > 0 }

// Hash returns the 64-char hex digest stored for tok.
func (h Hasher) Hash(tok string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(tok)
	}
	return HashHMACSHA256Hex(tok, h.key)
}
