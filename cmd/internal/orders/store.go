package orders

import (
	"context"
	"time"
)

// Store persists orders.
type Store interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	// SetStatus moves the order from -> to. It returns ErrConflict when the
	// stored status is no longer from, and ErrNotFound for unknown ids.
	SetStatus(ctx context.Context, id string, from, to Status, now time.Time) (Order, error)
	// ListByTenant returns the newest orders first.
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]Order, error)
}
