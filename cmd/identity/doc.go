// Package identity is tearoom's credential store.
//
// It owns tenants and principals (tenant users, kitchen consoles and super
// admins), their argon2id credential hashes, and the lookups the session
// layer needs during login and refresh. Secrets never leave this package in
// clear form.
package identity
