package orders

import (
	"strings"
	"time"

	v1 "tearoom/shared/contracts/realtime/v1"
)

// Status is the order lifecycle state. It shares the wire values.
type Status = v1.OrderStatus

const (
	StatusPending   = v1.OrderPending
	StatusAccepted  = v1.OrderAccepted
	StatusPreparing = v1.OrderPreparing
	StatusDelivered = v1.OrderDelivered
	StatusCancelled = v1.OrderCancelled
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusAccepted, StatusCancelled},
	StatusAccepted:  {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusDelivered},
}

// CanTransition reports whether from -> to is part of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseStatus validates a wire status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusAccepted, StatusPreparing, StatusDelivered, StatusCancelled:
		return st, nil
	default:
		return "", invalid("unknown status")
	}
}

// Item is one line of an order.
type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Note     string `json:"note,omitempty"`
}

// Order is a catering order placed from a meeting room for one kitchen.
type Order struct {
	ID        string
	TenantID  string
	RoomID    string
	KitchenID string
	PlacedBy  string
	Items     []Item
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Wire renders the realtime contract snapshot.
func (o Order) Wire() v1.Order {
	items := make([]v1.OrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, v1.OrderItem{Name: it.Name, Quantity: it.Quantity, Note: it.Note})
	}
	return v1.Order{
		ID:        o.ID,
		TenantID:  o.TenantID,
		RoomID:    o.RoomID,
		KitchenID: o.KitchenID,
		PlacedBy:  o.PlacedBy,
		Items:     items,
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}
