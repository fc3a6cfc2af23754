package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLocalBus_PublishReachesHub(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil)
	c := NewClient("c1", kitchenSub("k1"), 8, PolicyDisconnect)
	_ = h.Join(c, KitchenChannel(tenantA, "k1"))

	if err := NewLocalBus(h).Publish(context.Background(), createdEvent(testOrder("o1", "r1", "k1"))); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := len(drainTypes(c)); got != 1 {
		t.Fatalf("got %d events", got)
	}
}

type busCounter struct {
	ch chan string
}

func (b busCounter) BusMessage(bus, dir, result string) {
	select {
	case b.ch <- bus + "/" + dir + "/" + result:
	default:
	}
}

func TestRedisBus_FansOutAcrossReplicas(t *testing.T) {
	mr := miniredis.RunT(t)

	newReplica := func() (*Hub, *RedisBus, *Client) {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		h := NewHub(nil, nil)
		c := NewClient("c", kitchenSub("k1"), 8, PolicyDisconnect)
		if err := h.Join(c, KitchenChannel(tenantA, "k1")); err != nil {
			t.Fatalf("join: %v", err)
		}
		return h, NewRedisBus(nil, rdb, "", h, nil), c
	}

	_, busA, clientA := newReplica()
	_, busB, clientB := newReplica()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, b := range []*RedisBus{busA, busB} {
		ready := make(chan struct{})
		go func(b *RedisBus) { _ = b.Run(ctx, ready) }(b)
		select {
		case <-ready:
		case <-time.After(2 * time.Second):
			t.Fatalf("subscription not ready")
		}
	}

	ev := createdEvent(testOrder("o1", "r1", "k1"))
	if err := busA.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for name, c := range map[string]*Client{"A": clientA, "B": clientB} {
		select {
		case env := <-c.Send():
			got, err := EventFromEnvelope(env)
			if err != nil {
				t.Fatalf("replica %s decode: %v", name, err)
			}
			if got.ID != ev.ID || got.Order.ID != "o1" {
				t.Fatalf("replica %s got %+v", name, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("replica %s did not receive the event", name)
		}
	}
}

func TestRedisBus_DropsMalformedMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := NewHub(nil, nil)
	c := NewClient("c", kitchenSub("k1"), 8, PolicyDisconnect)
	_ = h.Join(c, KitchenChannel(tenantA, "k1"))

	obs := busCounter{ch: make(chan string, 4)}
	bus := NewRedisBus(nil, rdb, "test:events", h, obs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	go func() { _ = bus.Run(ctx, ready) }()
	<-ready

	if err := rdb.Publish(ctx, "test:events", "{not json").Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-obs.ch:
		if got != "redis/in/bad_json" {
			t.Fatalf("observer got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("malformed message was not observed")
	}
	if n := len(drainTypes(c)); n != 0 {
		t.Fatalf("malformed message must not be delivered, got %d", n)
	}
}

func TestRedisBus_PublishFailsWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	bus := NewRedisBus(nil, rdb, "", NewHub(nil, nil), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bus.Publish(ctx, createdEvent(testOrder("o1", "r1", "k1"))); err == nil {
		t.Fatalf("expected publish error")
	}
}
