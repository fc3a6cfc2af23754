// Package authn implements the session manager: login, logout, refresh and
// access-token authentication on top of the identity store and the token
// service.
//
// A client session moves through
//
//	Anonymous -> Authenticated(pair A) -> Authenticated(pair B) -> ... -> Revoked
//
// Login enters Authenticated, Refresh rotates within it, and Logout or a
// detected refresh replay ends it. Revoked is terminal for the lineage; the
// client has to log in again.
//
// Store-bound calls that fail with a transient error are retried a bounded
// number of times. Domain failures are never retried.
package authn
