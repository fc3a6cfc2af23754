package authn

import (
	"errors"
	"fmt"

	"tearoom/cmd/internal/auth/session"
)

var (
	// ErrInvalidCredentials is returned for any identifier/secret mismatch.
	// It never tells which half was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountInactive is returned when a correct secret belongs to a
	// disabled or unverified account.
	ErrAccountInactive = errors.New("account inactive")

	// ErrTenantNotFound is returned when the tenant slug is unknown or the tenant is disabled.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrUnauthorized is returned by Authenticate for any access token failure.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid authn config")
)

// ErrTransientFailure is the token service sentinel; callers match either name.
var ErrTransientFailure = session.ErrTransientFailure

func transient(op string, err error) error {
	if errors.Is(err, ErrTransientFailure) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransientFailure, err)
}

func unauthorized(err error) error {
	return fmt.Errorf("%w: %w", ErrUnauthorized, err)
}
