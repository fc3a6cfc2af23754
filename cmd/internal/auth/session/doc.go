// Package session is tearoom's token service.
//
// It mints paired credentials: a short-lived signed access token
// (PASETO v4.public or JWT) and an opaque refresh token that is persisted
// only as a SHA-256/HMAC-SHA256 digest. Refresh tokens rotate on every use;
// each rotation stays in one lineage, and presenting a revoked token revokes
// the whole lineage.
//
// Access tokens are verified statelessly. Store calls run under a timeout and
// infrastructure failures surface as ErrTransientFailure, never as an
// invalid credential.
package session
