package orders

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the order does not exist or is not visible to the actor.
	ErrNotFound = errors.New("order not found")
	// ErrForbidden is returned when the actor may not perform the operation.
	ErrForbidden = errors.New("operation not allowed")
	// ErrInvalidTransition is returned for a status change outside the lifecycle table.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid order input")
	// ErrConflict is returned by stores when the status changed concurrently.
	ErrConflict = errors.New("order status changed concurrently")
)

// TransitionError names the rejected transition.
type TransitionError struct {
	From Status
	To   Status
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("orders: cannot move from %s to %s", e.From, e.To)
}

func (e TransitionError) Unwrap() error { return ErrInvalidTransition }

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
