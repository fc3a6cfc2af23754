package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// OrderItem is one line of an order.
type OrderItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Note     string `json:"note,omitempty"`
}

// Order mirrors the API order resource.
type Order struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenantId"`
	RoomID    string      `json:"roomId"`
	KitchenID string      `json:"kitchenId"`
	PlacedBy  string      `json:"placedBy"`
	Items     []OrderItem `json:"items"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// PlaceOrder is the body of POST /orders. Empty RoomID uses the caller's room.
type PlaceOrder struct {
	TenantID  string      `json:"tenantId,omitempty"`
	RoomID    string      `json:"roomId,omitempty"`
	KitchenID string      `json:"kitchenId"`
	Items     []OrderItem `json:"items"`
}

// Me returns the authenticated principal.
func (s *Session) Me(ctx context.Context) (User, error) {
	var out struct {
		User User `json:"user"`
	}
	err := s.DoJSON(ctx, http.MethodGet, "/me", nil, &out)
	return out.User, err
}

// LogoutAll revokes every session of the caller and clears the store.
func (s *Session) LogoutAll(ctx context.Context) error {
	err := s.DoJSON(ctx, http.MethodPost, "/auth/logout-all", nil, nil)
	if cerr := s.store.Clear(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (s *Session) PlaceOrder(ctx context.Context, in PlaceOrder) (Order, error) {
	var o Order
	err := s.DoJSON(ctx, http.MethodPost, "/orders", in, &o)
	return o, err
}

func (s *Session) SetOrderStatus(ctx context.Context, id, status string) (Order, error) {
	var o Order
	err := s.DoJSON(ctx, http.MethodPatch, "/orders/"+url.PathEscape(id)+"/status", map[string]string{"status": status}, &o)
	return o, err
}

func (s *Session) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	path := "/orders"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []Order
	err := s.DoJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}
