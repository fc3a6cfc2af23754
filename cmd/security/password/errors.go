package password

import "errors"

// Public, stable errors for callers.
var (
	ErrPasswordTooShort        = errors.New("password too short")
	ErrPasswordTooLong         = errors.New("password too long")
	ErrWeakPassword            = errors.New("weak password")
	ErrPasswordMatchesIdentity = errors.New("password contains the account email or name")
	ErrInvalidHash             = errors.New("invalid password hash")
)
