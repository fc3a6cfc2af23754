package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tearoom/cmd/identity"
	"tearoom/cmd/internal/auth/session"
	"tearoom/cmd/internal/realtime"
	v1 "tearoom/shared/contracts/realtime/v1"
)

const (
	tenantA = "01HAAAAAAAAAAAAAAAAAAAAAAA"
	tenantB = "01HBBBBBBBBBBBBBBBBBBBBBBB"
)

var (
	roomUser  = session.Subject{PrincipalID: "p-room", TenantID: tenantA, Role: identity.RoleRoomUser, RoomID: "r1"}
	otherRoom = session.Subject{PrincipalID: "p-room-2", TenantID: tenantA, Role: identity.RoleRoomUser, RoomID: "r2"}
	kitchenK1 = session.Subject{PrincipalID: "p-k1", TenantID: tenantA, Role: identity.RoleKitchen, KitchenID: "k1"}
	kitchenK2 = session.Subject{PrincipalID: "p-k2", TenantID: tenantA, Role: identity.RoleKitchen, KitchenID: "k2"}
	adminA    = session.Subject{PrincipalID: "p-admin", TenantID: tenantA, Role: identity.RoleTenantAdmin}
	adminB    = session.Subject{PrincipalID: "p-admin-b", TenantID: tenantB, Role: identity.RoleTenantAdmin}
)

type recordingBus struct {
	mu     sync.Mutex
	events []realtime.OrderEvent
	err    error
}

func (b *recordingBus) Publish(_ context.Context, ev realtime.OrderEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) all() []realtime.OrderEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]realtime.OrderEvent(nil), b.events...)
}

type countObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countObserver) OrderEvent(kind string) {
	o.mu.Lock()
	o.counts[kind]++
	o.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *recordingBus, *countObserver) {
	t.Helper()
	bus := &recordingBus{}
	obs := &countObserver{counts: map[string]int{}}
	var clockMu sync.Mutex
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(nil, NewMemoryStore(), bus, WithObserver(obs), WithClock(func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		now = now.Add(time.Second)
		return now
	}))
	return svc, bus, obs
}

func place(t *testing.T, svc *Service, actor session.Subject) Order {
	t.Helper()
	o, err := svc.Place(context.Background(), actor, PlaceInput{
		KitchenID: "k1",
		Items:     []Item{{Name: " sencha ", Quantity: 2}},
	})
	require.NoError(t, err)
	return o
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := map[[2]Status]bool{
		{StatusPending, StatusAccepted}:    true,
		{StatusPending, StatusCancelled}:   true,
		{StatusAccepted, StatusPreparing}:  true,
		{StatusAccepted, StatusCancelled}:  true,
		{StatusPreparing, StatusDelivered}: true,
	}
	all := []Status{StatusPending, StatusAccepted, StatusPreparing, StatusDelivered, StatusCancelled}
	for _, from := range all {
		for _, to := range all {
			require.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestPlace_CreatesPendingOrderAndPublishes(t *testing.T) {
	t.Parallel()

	svc, bus, obs := newTestService(t)
	o := place(t, svc, roomUser)

	require.Equal(t, StatusPending, o.Status)
	require.Equal(t, tenantA, o.TenantID)
	require.Equal(t, "r1", o.RoomID)
	require.Equal(t, "p-room", o.PlacedBy)
	require.Equal(t, "sencha", o.Items[0].Name)

	events := bus.all()
	require.Len(t, events, 1)
	ev := events[0]
	require.Equal(t, realtime.EventCreated, ev.Kind)
	require.NotEmpty(t, ev.ID)
	require.Equal(t, o.ID, ev.Order.ID)
	require.ElementsMatch(t, []realtime.ChannelKey{
		realtime.TenantChannel(tenantA),
		realtime.RoomChannel(tenantA, "r1"),
		realtime.KitchenChannel(tenantA, "k1"),
	}, ev.Channels)
	require.Equal(t, 1, obs.counts[v1.TypeOrderCreated])
}

func TestPlace_Rules(t *testing.T) {
	t.Parallel()

	svc, bus, _ := newTestService(t)
	ctx := context.Background()
	items := []Item{{Name: "tea", Quantity: 1}}

	cases := []struct {
		name  string
		actor session.Subject
		in    PlaceInput
		want  error
	}{
		{"kitchen cannot place", kitchenK1, PlaceInput{RoomID: "r1", KitchenID: "k1", Items: items}, ErrForbidden},
		{"room user other room", roomUser, PlaceInput{RoomID: "r2", KitchenID: "k1", Items: items}, ErrForbidden},
		{"admin other tenant", adminA, PlaceInput{TenantID: tenantB, RoomID: "r1", KitchenID: "k1", Items: items}, ErrForbidden},
		{"admin without room", adminA, PlaceInput{KitchenID: "k1", Items: items}, ErrInvalidInput},
		{"missing kitchen", roomUser, PlaceInput{Items: items}, ErrInvalidInput},
		{"no items", roomUser, PlaceInput{KitchenID: "k1"}, ErrInvalidInput},
		{"zero quantity", roomUser, PlaceInput{KitchenID: "k1", Items: []Item{{Name: "tea"}}}, ErrInvalidInput},
		{"blank name", roomUser, PlaceInput{KitchenID: "k1", Items: []Item{{Name: "  ", Quantity: 1}}}, ErrInvalidInput},
	}
	for _, tc := range cases {
		_, err := svc.Place(ctx, tc.actor, tc.in)
		require.ErrorIs(t, err, tc.want, tc.name)
	}
	require.Empty(t, bus.all())

	o, err := svc.Place(ctx, adminA, PlaceInput{RoomID: "r9", KitchenID: "k2", Items: items})
	require.NoError(t, err)
	require.Equal(t, "r9", o.RoomID)
}

func TestUpdateStatus_Lifecycle(t *testing.T) {
	t.Parallel()

	svc, bus, _ := newTestService(t)
	ctx := context.Background()
	o := place(t, svc, roomUser)

	for _, to := range []Status{StatusAccepted, StatusPreparing, StatusDelivered} {
		next, err := svc.UpdateStatus(ctx, kitchenK1, o.ID, to)
		require.NoError(t, err)
		require.Equal(t, to, next.Status)
		require.True(t, next.UpdatedAt.After(o.UpdatedAt))
		o = next
	}

	_, err := svc.UpdateStatus(ctx, kitchenK1, o.ID, StatusCancelled)
	var te TransitionError
	require.ErrorAs(t, err, &te)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StatusDelivered, te.From)

	events := bus.all()
	require.Len(t, events, 4)
	last := events[3]
	require.Equal(t, realtime.EventStatusUpdated, last.Kind)
	require.Equal(t, StatusPreparing, last.PreviousStatus)
	require.Equal(t, StatusDelivered, last.Order.Status)
}

func TestUpdateStatus_ActorChecks(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	o := place(t, svc, roomUser)

	_, err := svc.UpdateStatus(ctx, kitchenK2, o.ID, StatusAccepted)
	require.ErrorIs(t, err, ErrNotFound, "other kitchen must not see the order")

	_, err = svc.UpdateStatus(ctx, adminB, o.ID, StatusAccepted)
	require.ErrorIs(t, err, ErrNotFound, "tenant boundary")

	_, err = svc.UpdateStatus(ctx, roomUser, o.ID, StatusAccepted)
	require.ErrorIs(t, err, ErrForbidden, "room users cannot advance")

	_, err = svc.UpdateStatus(ctx, otherRoom, o.ID, StatusCancelled)
	require.ErrorIs(t, err, ErrNotFound)

	cancelled, err := svc.UpdateStatus(ctx, roomUser, o.ID, StatusCancelled)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	accepted := place(t, svc, roomUser)
	_, err = svc.UpdateStatus(ctx, adminA, accepted.ID, StatusAccepted)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, roomUser, accepted.ID, StatusCancelled)
	require.ErrorIs(t, err, ErrForbidden, "room users cancel only pending orders")
}

func TestUpdateStatus_ConcurrentTransitionsHaveOneWinner(t *testing.T) {
	t.Parallel()

	svc, bus, _ := newTestService(t)
	o := place(t, svc, roomUser)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.UpdateStatus(context.Background(), kitchenK1, o.ID, StatusAccepted)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Len(t, bus.all(), 2)
}

func TestPublishFailureDoesNotFailTheWrite(t *testing.T) {
	t.Parallel()

	svc, bus, obs := newTestService(t)
	bus.err = errors.New("redis down")

	o := place(t, svc, roomUser)
	got, err := svc.Get(context.Background(), adminA, o.ID)
	require.NoError(t, err)
	require.Equal(t, o.ID, got.ID)
	require.Zero(t, obs.counts[v1.TypeOrderCreated])
}

func TestList_FiltersByVisibility(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	place(t, svc, roomUser)
	place(t, svc, otherRoom)

	all, err := svc.List(ctx, adminA, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.True(t, all[0].CreatedAt.After(all[1].CreatedAt))

	mine, err := svc.List(ctx, roomUser, "", 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, "r1", mine[0].RoomID)

	_, err = svc.List(ctx, adminA, tenantB, 10)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestService_EndToEndWithHub(t *testing.T) {
	t.Parallel()

	hub := realtime.NewHub(nil, nil)
	k1 := realtime.NewClient("k1", kitchenK1, 8, realtime.PolicyDisconnect)
	k2 := realtime.NewClient("k2", kitchenK2, 8, realtime.PolicyDisconnect)
	require.NoError(t, hub.Join(k1, realtime.KitchenChannel(tenantA, "k1")))
	require.NoError(t, hub.Join(k2, realtime.KitchenChannel(tenantA, "k2")))

	svc := NewService(nil, NewMemoryStore(), realtime.NewLocalBus(hub))
	o := place(t, svc, roomUser)

	select {
	case env := <-k1.Send():
		ev, err := realtime.EventFromEnvelope(env)
		require.NoError(t, err)
		require.Equal(t, o.ID, ev.Order.ID)
	default:
		t.Fatalf("kitchen k1 did not receive the order")
	}
	select {
	case <-k2.Send():
		t.Fatalf("kitchen k2 must not receive k1 orders")
	default:
	}
}
