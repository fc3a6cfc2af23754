package realtime

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	v1 "tearoom/shared/contracts/realtime/v1"
)

type countingObserver struct {
	mu       sync.Mutex
	opened   int
	closed   map[string]int
	rejected map[string]int
	enqueued int
	dropped  map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{closed: map[string]int{}, rejected: map[string]int{}, dropped: map[string]int{}}
}

func (o *countingObserver) WSOpened() { o.mu.Lock(); o.opened++; o.mu.Unlock() }
func (o *countingObserver) WSClosed(r string) { o.mu.Lock(); o.closed[r]++; o.mu.Unlock() }
func (o *countingObserver) WSRejected(r string) { o.mu.Lock(); o.rejected[r]++; o.mu.Unlock() }
func (o *countingObserver) EventsEnqueued(n int) { o.mu.Lock(); o.enqueued += n; o.mu.Unlock() }
func (o *countingObserver) EventDropped(p string) { o.mu.Lock(); o.dropped[p]++; o.mu.Unlock() }

func (o *countingObserver) snapshot() (opened int, closed, rejected, dropped map[string]int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := func(m map[string]int) map[string]int {
		out := make(map[string]int, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return o.opened, cp(o.closed), cp(o.rejected), cp(o.dropped)
}

func testOrder(id, roomID, kitchenID string) v1.Order {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return v1.Order{
		ID:        id,
		TenantID:  tenantA,
		RoomID:    roomID,
		KitchenID: kitchenID,
		PlacedBy:  "p-room-" + roomID,
		Items:     []v1.OrderItem{{Name: "green tea", Quantity: 2}},
		Status:    v1.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func createdEvent(o v1.Order) OrderEvent {
	return OrderEvent{
		ID:         "evt-" + o.ID,
		Kind:       EventCreated,
		TenantID:   o.TenantID,
		Order:      o,
		OccurredAt: o.CreatedAt,
		Channels:   OrderChannels(o),
	}
}

func drainTypes(c *Client) []v1.Envelope {
	var out []v1.Envelope
	for {
		select {
		case env := <-c.Send():
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestHub_JoinForbiddenAndInvalid(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil)
	c := NewClient("c1", kitchenSub("k1"), 8, PolicyDisconnect)

	if err := h.Join(c, KitchenChannel(tenantA, "k2")); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := h.Join(c, ChannelKey{TenantID: tenantA, Scope: ScopeKitchen}); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
	if h.ChannelCount() != 0 {
		t.Fatalf("failed joins must not create channels")
	}
}

func TestHub_KitchenReceivesOnlyOwnKitchen(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil)
	k1 := NewClient("k1-conn", kitchenSub("k1"), 8, PolicyDisconnect)
	k2 := NewClient("k2-conn", kitchenSub("k2"), 8, PolicyDisconnect)
	if err := h.Join(k1, KitchenChannel(tenantA, "k1")); err != nil {
		t.Fatalf("join k1: %v", err)
	}
	if err := h.Join(k2, KitchenChannel(tenantA, "k2")); err != nil {
		t.Fatalf("join k2: %v", err)
	}

	if n := h.Publish(createdEvent(testOrder("o1", "r1", "k1"))); n != 1 {
		t.Fatalf("delivered=%d want 1", n)
	}
	if got := len(drainTypes(k1)); got != 1 {
		t.Fatalf("k1 got %d events", got)
	}
	if got := len(drainTypes(k2)); got != 0 {
		t.Fatalf("k2 must receive nothing, got %d", got)
	}
}

func TestHub_DeliversOncePerConnection(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil)
	admin := NewClient("admin", adminSub(), 8, PolicyDisconnect)
	for _, k := range []ChannelKey{TenantChannel(tenantA), RoomChannel(tenantA, "r1"), KitchenChannel(tenantA, "k1")} {
		if err := h.Join(admin, k); err != nil {
			t.Fatalf("join %s: %v", k, err)
		}
	}

	if n := h.Publish(createdEvent(testOrder("o1", "r1", "k1"))); n != 1 {
		t.Fatalf("delivered=%d want 1", n)
	}
	if got := len(drainTypes(admin)); got != 1 {
		t.Fatalf("admin subscribed to three targeted channels must get one copy, got %d", got)
	}
}

func TestHub_PreservesPublishOrder(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil)
	c := NewClient("c1", kitchenSub("k1"), 64, PolicyDisconnect)
	if err := h.Join(c, KitchenChannel(tenantA, "k1")); err != nil {
		t.Fatalf("join: %v", err)
	}

	for i := 0; i < 20; i++ {
		h.Publish(createdEvent(testOrder(fmt.Sprintf("o%02d", i), "r1", "k1")))
	}

	got := drainTypes(c)
	if len(got) != 20 {
		t.Fatalf("got %d events", len(got))
	}
	for i, env := range got {
		ev, err := EventFromEnvelope(env)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if want := fmt.Sprintf("o%02d", i); ev.Order.ID != want {
			t.Fatalf("position %d: got %s want %s", i, ev.Order.ID, want)
		}
	}
}

func TestHub_SlowConsumerDisconnect(t *testing.T) {
	t.Parallel()

	obs := newCountingObserver()
	h := NewHub(nil, obs)
	slow := NewClient("slow", kitchenSub("k1"), 2, PolicyDisconnect)
	fast := NewClient("fast", adminSub(), 16, PolicyDisconnect)
	_ = h.Join(slow, KitchenChannel(tenantA, "k1"))
	_ = h.Join(fast, KitchenChannel(tenantA, "k1"))

	for i := 0; i < 3; i++ {
		h.Publish(createdEvent(testOrder(fmt.Sprintf("o%d", i), "r1", "k1")))
	}

	select {
	case <-slow.Done():
	default:
		t.Fatalf("slow consumer should be closed")
	}
	if code, _ := slow.CloseStatus(); code != websocket.StatusPolicyViolation {
		t.Fatalf("close code=%d want %d", code, websocket.StatusPolicyViolation)
	}
	if got := len(drainTypes(fast)); got != 3 {
		t.Fatalf("fast consumer must be unaffected, got %d", got)
	}
	if _, _, _, dropped := obs.snapshot(); dropped["disconnect"] != 1 {
		t.Fatalf("dropped counter=%v", dropped)
	}
}

func TestHub_SlowConsumerDropOldest(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil)
	c := NewClient("c1", kitchenSub("k1"), 2, PolicyDropOldest)
	_ = h.Join(c, KitchenChannel(tenantA, "k1"))

	for i := 0; i < 5; i++ {
		h.Publish(createdEvent(testOrder(fmt.Sprintf("o%d", i), "r1", "k1")))
	}

	select {
	case <-c.Done():
		t.Fatalf("drop_oldest must keep the connection open")
	default:
	}
	if c.Dropped() != 3 {
		t.Fatalf("dropped=%d want 3", c.Dropped())
	}
	got := drainTypes(c)
	if len(got) != 2 {
		t.Fatalf("queue len=%d want 2", len(got))
	}
	last, _ := EventFromEnvelope(got[1])
	if last.Order.ID != "o4" {
		t.Fatalf("newest event must survive, got %s", last.Order.ID)
	}
}

func TestHub_DisconnectRemovesMemberships(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil)
	old := NewClient("old", kitchenSub("k1"), 8, PolicyDisconnect)
	_ = h.Join(old, KitchenChannel(tenantA, "k1"))
	_ = h.Join(old, TenantChannel(tenantA))

	h.Disconnect(old)
	if n := h.Subscribers(KitchenChannel(tenantA, "k1")); n != 0 {
		t.Fatalf("subscribers=%d after disconnect", n)
	}
	if err := h.Join(old, KitchenChannel(tenantA, "k1")); !errors.Is(err, ErrClosed) {
		t.Fatalf("join after disconnect: expected ErrClosed, got %v", err)
	}

	// A reconnect starts without memberships until it joins again.
	fresh := NewClient("fresh", kitchenSub("k1"), 8, PolicyDisconnect)
	if n := h.Publish(createdEvent(testOrder("o1", "r1", "k1"))); n != 0 {
		t.Fatalf("delivered=%d before re-join", n)
	}
	_ = h.Join(fresh, KitchenChannel(tenantA, "k1"))
	if n := h.Publish(createdEvent(testOrder("o2", "r1", "k1"))); n != 1 {
		t.Fatalf("delivered=%d after re-join", n)
	}
}

func TestHub_SweepDropsEmptyChannels(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil)
	a := NewClient("a", adminSub(), 8, PolicyDisconnect)
	_ = h.Join(a, RoomChannel(tenantA, "r1"))
	_ = h.Join(a, RoomChannel(tenantA, "r2"))
	h.Leave(a, RoomChannel(tenantA, "r1"))

	if h.ChannelCount() != 2 {
		t.Fatalf("channels=%d before sweep", h.ChannelCount())
	}
	if n := h.Sweep(); n != 1 {
		t.Fatalf("swept=%d want 1", n)
	}
	if h.ChannelCount() != 1 || h.Subscribers(RoomChannel(tenantA, "r2")) != 1 {
		t.Fatalf("live channel must survive sweep")
	}
}

func TestHub_ConcurrentJoinPublishDisconnect(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewClient(fmt.Sprintf("c%d", i), kitchenSub("k1"), 4, PolicyDropOldest)
			for j := 0; j < 50; j++ {
				_ = h.Join(c, KitchenChannel(tenantA, "k1"))
				h.Publish(createdEvent(testOrder(fmt.Sprintf("o%d-%d", i, j), "r1", "k1")))
				h.Leave(c, KitchenChannel(tenantA, "k1"))
			}
			h.Disconnect(c)
		}(i)
	}
	wg.Wait()

	if n := h.Subscribers(KitchenChannel(tenantA, "k1")); n != 0 {
		t.Fatalf("subscribers=%d after all disconnected", n)
	}
}

func TestHub_JoinRacingDisconnectLeavesNoMember(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil)
	key := KitchenChannel(tenantA, "k1")
	for i := 0; i < 500; i++ {
		c := NewClient(fmt.Sprintf("c%d", i), kitchenSub("k1"), 4, PolicyDisconnect)
		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			err := h.Join(c, key)
			if err != nil && !errors.Is(err, ErrClosed) {
				t.Errorf("Join: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			<-start
			h.Disconnect(c)
		}()
		close(start)
		wg.Wait()

		if n := h.Subscribers(key); n != 0 {
			t.Fatalf("iteration %d: closed client still subscribed (%d)", i, n)
		}
	}
}

func TestOrderEvent_EnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	o := testOrder("o1", "r1", "k1")
	o.Status = v1.OrderAccepted
	ev := OrderEvent{
		ID:             "evt-1",
		Kind:           EventStatusUpdated,
		TenantID:       tenantA,
		Order:          o,
		PreviousStatus: v1.OrderPending,
		OccurredAt:     o.UpdatedAt,
		Channels:       OrderChannels(o),
	}

	env, err := ev.Envelope()
	if err != nil {
		t.Fatalf("Envelope: %v", err)
	}
	if env.Type != v1.TypeOrderStatusUpdated || env.Validate() != nil {
		t.Fatalf("bad envelope: %+v", env)
	}

	got, err := EventFromEnvelope(env)
	if err != nil {
		t.Fatalf("EventFromEnvelope: %v", err)
	}
	if got.ID != ev.ID || got.PreviousStatus != v1.OrderPending || len(got.Channels) != 3 {
		t.Fatalf("unexpected event: %+v", got)
	}
}
