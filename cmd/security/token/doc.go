// Package token provides refresh-token hashing primitives for tearoom.
//
// It is the single source of truth for how opaque refresh tokens are turned
// into the digests persisted by the session stores.
//
// Modes:
//   - SHA-256(token) when no HMAC key is configured (dev only).
//   - HMAC-SHA256(token, key) when TEAROOM_AUTH_TOKEN_HMAC_KEY is set.
//
// Output is always a 64-char lowercase hex string.
package token
