package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrLoggedOut is returned when the session has no usable credentials.
	// The store has been cleared; the user must log in again.
	ErrLoggedOut = errors.New("client: logged out")
	// ErrUnavailable is returned for 503/429 from the auth endpoints. The
	// stored credentials are kept and the call may be retried.
	ErrUnavailable = errors.New("client: service temporarily unavailable")
)

// APIError is a non-2xx response decoded from the API envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("client: http %d", e.Status)
	}
	return fmt.Sprintf("client: http %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps retryable statuses to ErrUnavailable.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusServiceUnavailable || e.Status == http.StatusTooManyRequests {
		return ErrUnavailable
	}
	return nil
}
