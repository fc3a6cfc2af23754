package realtime

import (
	"errors"
	"fmt"
	"time"

	v1 "tearoom/shared/contracts/realtime/v1"
)

// ErrClosed is returned when joining with a connection that is shutting down.
var ErrClosed = errors.New("connection closed")

// EventKind tags the OrderEvent union.
type EventKind uint8

const (
	EventCreated EventKind = iota + 1
	EventStatusUpdated
)

// Type returns the wire envelope type.
func (k EventKind) Type() string {
	switch k {
	case EventCreated:
		return v1.TypeOrderCreated
	case EventStatusUpdated:
		return v1.TypeOrderStatusUpdated
	default:
		return ""
	}
}

func kindFromType(typ string) (EventKind, error) {
	switch typ {
	case v1.TypeOrderCreated:
		return EventCreated, nil
	case v1.TypeOrderStatusUpdated:
		return EventStatusUpdated, nil
	default:
		return 0, fmt.Errorf("realtime: unknown event type %q", typ)
	}
}

// OrderEvent is one order lifecycle transition and the channels it targets.
// PreviousStatus is set only for EventStatusUpdated.
type OrderEvent struct {
	ID             string
	Kind           EventKind
	TenantID       string
	Order          v1.Order
	PreviousStatus v1.OrderStatus
	OccurredAt     time.Time
	Channels       []ChannelKey
}

// Payload renders the wire body.
func (e OrderEvent) Payload() v1.OrderEventPayload {
	chans := make([]string, 0, len(e.Channels))
	for _, k := range e.Channels {
		chans = append(chans, k.String())
	}
	p := v1.OrderEventPayload{
		EventID:    e.ID,
		TenantID:   e.TenantID,
		Order:      e.Order,
		OccurredAt: e.OccurredAt,
		Channels:   chans,
	}
	if e.Kind == EventStatusUpdated {
		p.PreviousStatus = e.PreviousStatus
	}
	return p
}

// Envelope wraps the event for delivery.
func (e OrderEvent) Envelope() (v1.Envelope, error) {
	typ := e.Kind.Type()
	if typ == "" {
		return v1.Envelope{}, fmt.Errorf("realtime: event %s has no kind", e.ID)
	}
	return v1.NewEnvelope(typ, newEnvelopeID(e.OccurredAt), e.OccurredAt, e.Payload())
}

// EventFromEnvelope rebuilds an OrderEvent, e.g. after crossing the Redis bus.
func EventFromEnvelope(env v1.Envelope) (OrderEvent, error) {
	kind, err := kindFromType(env.Type)
	if err != nil {
		return OrderEvent{}, err
	}
	var p v1.OrderEventPayload
	if err := env.Decode(&p); err != nil {
		return OrderEvent{}, fmt.Errorf("realtime: decode event: %w", err)
	}
	keys := make([]ChannelKey, 0, len(p.Channels))
	for _, s := range p.Channels {
		k, err := ParseChannelKey(s)
		if err != nil {
			return OrderEvent{}, err
		}
		keys = append(keys, k)
	}
	ev := OrderEvent{
		ID:         p.EventID,
		Kind:       kind,
		TenantID:   p.TenantID,
		Order:      p.Order,
		OccurredAt: p.OccurredAt,
		Channels:   keys,
	}
	if kind == EventStatusUpdated {
		ev.PreviousStatus = p.PreviousStatus
	}
	return ev, nil
}

// OrderChannels returns the room, kitchen and tenant-wide channels of an order.
func OrderChannels(o v1.Order) []ChannelKey {
	keys := []ChannelKey{TenantChannel(o.TenantID)}
	if o.RoomID != "" {
		keys = append(keys, RoomChannel(o.TenantID, o.RoomID))
	}
	if o.KitchenID != "" {
		keys = append(keys, KitchenChannel(o.TenantID, o.KitchenID))
	}
	return keys
}
