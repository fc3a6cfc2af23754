package orders

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"tearoom/cmd/identity"
	"tearoom/cmd/identity/ids"
	"tearoom/cmd/internal/auth/session"
	"tearoom/cmd/internal/realtime"
)

const (
	maxItems        = 50
	maxItemQuantity = 99
	maxNameLen      = 120
	maxNoteLen      = 500
)

// Observer counts published order events by wire type.
type Observer interface {
	OrderEvent(kind string)
}

type nopObserver struct{}

func (nopObserver) OrderEvent(string) {}

// PlaceInput describes a new order. RoomID defaults to the actor's room.
type PlaceInput struct {
	TenantID  string
	RoomID    string
	KitchenID string
	Items     []Item
}

// Service applies order rules and publishes lifecycle events.
type Service struct {
	log   *slog.Logger
	store Store
	bus   realtime.Bus
	obs   Observer
	now   func() time.Time
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithObserver installs an event counter.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.obs = o
		}
	}
}

// NewService constructs a Service publishing to bus.
func NewService(log *slog.Logger, store Store, bus realtime.Bus, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		log:   log,
		store: store,
		bus:   bus,
		obs:   nopObserver{},
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Place creates a pending order and emits a created event to its room,
// kitchen and tenant-wide channels.
func (s *Service) Place(ctx context.Context, actor session.Subject, in PlaceInput) (Order, error) {
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		tenantID = actor.TenantID
	}
	roomID := strings.TrimSpace(in.RoomID)
	if roomID == "" {
		roomID = actor.RoomID
	}
	kitchenID := strings.TrimSpace(in.KitchenID)

	switch actor.Role {
	case identity.RoleSuperAdmin:
	case identity.RoleTenantAdmin:
		if tenantID != actor.TenantID {
			return Order{}, ErrForbidden
		}
	case identity.RoleRoomUser:
		if tenantID != actor.TenantID {
			return Order{}, ErrForbidden
		}
		if actor.RoomID != "" && roomID != actor.RoomID {
			return Order{}, ErrForbidden
		}
	default:
		return Order{}, ErrForbidden
	}

	if tenantID == "" {
		return Order{}, invalid("tenant is required")
	}
	if roomID == "" {
		return Order{}, invalid("room is required")
	}
	if kitchenID == "" {
		return Order{}, invalid("kitchen is required")
	}
	items, err := cleanItems(in.Items)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Order{}, err
	}
	o := Order{
		ID:        id,
		TenantID:  tenantID,
		RoomID:    roomID,
		KitchenID: kitchenID,
		PlacedBy:  actor.PrincipalID,
		Items:     items,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return Order{}, err
	}

	s.log.Info("orders.placed", "order_id", o.ID, "tenant_id", o.TenantID, "room_id", o.RoomID, "kitchen_id", o.KitchenID)
	s.publish(ctx, realtime.EventCreated, o, "")
	return o, nil
}

// UpdateStatus moves an order along its lifecycle.
//
// Kitchens advance orders of their own kitchen; tenant admins advance any
// order of their tenant. Room users may only cancel their own pending order.
func (s *Service) UpdateStatus(ctx context.Context, actor session.Subject, orderID string, to Status) (Order, error) {
	cur, err := s.Get(ctx, actor, orderID)
	if err != nil {
		return Order{}, err
	}
	if !mayChangeStatus(actor, cur, to) {
		return Order{}, ErrForbidden
	}
	if !CanTransition(cur.Status, to) {
		return Order{}, TransitionError{From: cur.Status, To: to}
	}

	updated, err := s.store.SetStatus(ctx, cur.ID, cur.Status, to, s.now())
	if err != nil {
		if errors.Is(err, ErrConflict) {
			// Someone else moved it first; report against the fresh state.
			if fresh, gerr := s.store.Get(ctx, cur.ID); gerr == nil {
				return Order{}, TransitionError{From: fresh.Status, To: to}
			}
		}
		return Order{}, err
	}

	s.log.Info("orders.status_updated", "order_id", updated.ID, "from", string(cur.Status), "to", string(to), "by", actor.PrincipalID)
	s.publish(ctx, realtime.EventStatusUpdated, updated, cur.Status)
	return updated, nil
}

// Get returns an order visible to actor. Orders outside the actor's reach
// are reported as not found.
func (s *Service) Get(ctx context.Context, actor session.Subject, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, ErrNotFound
	}
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !mayView(actor, o) {
		return Order{}, ErrNotFound
	}
	return o, nil
}

// List returns the newest orders of the actor's tenant that the actor can see.
func (s *Service) List(ctx context.Context, actor session.Subject, tenantID string, limit int) ([]Order, error) {
	if tenantID == "" {
		tenantID = actor.TenantID
	}
	if actor.Role != identity.RoleSuperAdmin && tenantID != actor.TenantID {
		return nil, ErrForbidden
	}
	all, err := s.store.ListByTenant(ctx, tenantID, limit)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, o := range all {
		if mayView(actor, o) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, kind realtime.EventKind, o Order, prev Status) {
	ev := realtime.OrderEvent{
		ID:             uuid.NewString(),
		Kind:           kind,
		TenantID:       o.TenantID,
		Order:          o.Wire(),
		PreviousStatus: prev,
		OccurredAt:     o.UpdatedAt,
	}
	ev.Channels = realtime.OrderChannels(ev.Order)

	// The order is committed; a bus failure only loses the live push.
	if err := s.bus.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Error("orders.publish.fail", "order_id", o.ID, "event_id", ev.ID, "err", err)
		return
	}
	s.obs.OrderEvent(kind.Type())
}

func mayView(actor session.Subject, o Order) bool {
	switch actor.Role {
	case identity.RoleSuperAdmin:
		return true
	case identity.RoleTenantAdmin:
		return o.TenantID == actor.TenantID
	case identity.RoleRoomUser:
		return o.TenantID == actor.TenantID && (actor.RoomID == "" || actor.RoomID == o.RoomID)
	case identity.RoleKitchen:
		return o.TenantID == actor.TenantID && actor.KitchenID != "" && actor.KitchenID == o.KitchenID
	default:
		return false
	}
}

func mayChangeStatus(actor session.Subject, o Order, to Status) bool {
	switch actor.Role {
	case identity.RoleSuperAdmin, identity.RoleTenantAdmin, identity.RoleKitchen:
		return true
	case identity.RoleRoomUser:
		return to == StatusCancelled && o.Status == StatusPending && o.PlacedBy == actor.PrincipalID
	default:
		return false
	}
}

func cleanItems(in []Item) ([]Item, error) {
	if len(in) == 0 {
		return nil, invalid("at least one item is required")
	}
	if len(in) > maxItems {
		return nil, invalid("too many items")
	}
	out := make([]Item, 0, len(in))
	for _, it := range in {
		it.Name = strings.TrimSpace(it.Name)
		it.Note = strings.TrimSpace(it.Note)
		if it.Name == "" || len(it.Name) > maxNameLen {
			return nil, invalid("item name must be 1-120 characters")
		}
		if it.Quantity < 1 || it.Quantity > maxItemQuantity {
			return nil, invalid("item quantity must be 1-99")
		}
		if len(it.Note) > maxNoteLen {
			return nil, invalid("item note too long")
		}
		out = append(out, it)
	}
	return out, nil
}
