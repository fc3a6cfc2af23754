package v1

import "time"

// HelloPayload describes the admitted connection.
type HelloPayload struct {
	ConnectionID     string    `json:"connectionId"`
	PrincipalID      string    `json:"principalId"`
	TenantID         string    `json:"tenantId,omitempty"`
	Role             string    `json:"role"`
	TokenExpiresAt   time.Time `json:"tokenExpiresAt"`
	HeartbeatSeconds int       `json:"heartbeatSeconds"`
}

// RoomPayload addresses a channel in join-room/leave-room and their confirmations.
//
// Scope is "tenant", "room" or "kitchen". ID is the room or kitchen id and
// is empty for the tenant-wide channel. TenantID defaults to the caller's
// tenant and is required only for super admins.
type RoomPayload struct {
	Scope    string `json:"scope"`
	ID       string `json:"id,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderAccepted  OrderStatus = "accepted"
	OrderPreparing OrderStatus = "preparing"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// OrderItem is one ordered line.
type OrderItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Note     string `json:"note,omitempty"`
}

// Order is the full order snapshot pushed with every event.
type Order struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenantId"`
	RoomID    string      `json:"roomId"`
	KitchenID string      `json:"kitchenId"`
	PlacedBy  string      `json:"placedBy"`
	Items     []OrderItem `json:"items"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// OrderEventPayload is the body of order-created and order-status-updated.
type OrderEventPayload struct {
	EventID        string      `json:"eventId"`
	TenantID       string      `json:"tenantId"`
	Order          Order       `json:"order"`
	PreviousStatus OrderStatus `json:"previousStatus,omitempty"`
	OccurredAt     time.Time   `json:"occurredAt"`
	Channels       []string    `json:"channels"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
