package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	v1 "tearoom/shared/contracts/realtime/v1"
)

// DefaultRedisChannel is the pub/sub channel shared by all replicas.
const DefaultRedisChannel = "tearoom:order-events"

// Bus carries order events from the event source to every hub.
type Bus interface {
	Publish(ctx context.Context, ev OrderEvent) error
}

// BusObserver receives bus traffic counters.
type BusObserver interface {
	BusMessage(bus, direction, result string)
}

type nopBusObserver struct{}

func (nopBusObserver) BusMessage(string, string, string) {}

// LocalBus publishes straight into an in-process hub.
type LocalBus struct {
	hub *Hub
}

// NewLocalBus returns a bus for single-replica deployments.
func NewLocalBus(hub *Hub) *LocalBus { return &LocalBus{hub: hub} }

func (b *LocalBus) Publish(_ context.Context, ev OrderEvent) error {
	b.hub.Publish(ev)
	return nil
}

// RedisBus fans events out through Redis pub/sub so that every API replica
// delivers to its own connections. Publish does not touch the local hub;
// the local subscriber loop does.
type RedisBus struct {
	log     *slog.Logger
	client  redis.UniversalClient
	channel string
	hub     *Hub
	obs     BusObserver
}

// NewRedisBus constructs a RedisBus. An empty channel uses DefaultRedisChannel.
func NewRedisBus(log *slog.Logger, client redis.UniversalClient, channel string, hub *Hub, obs BusObserver) *RedisBus {
	if log == nil {
		log = slog.Default()
	}
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if obs == nil {
		obs = nopBusObserver{}
	}
	return &RedisBus{log: log, client: client, channel: channel, hub: hub, obs: obs}
}

func (b *RedisBus) Publish(ctx context.Context, ev OrderEvent) error {
	env, err := ev.Envelope()
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		b.obs.BusMessage("redis", "out", "error")
		return fmt.Errorf("realtime: redis publish: %w", err)
	}
	b.obs.BusMessage("redis", "out", "ok")
	return nil
}

// Run subscribes and feeds the local hub until ctx is done. ready, when
// non-nil, is closed once the subscription is confirmed.
func (b *RedisBus) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("realtime: redis subscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	b.log.Info("bus.redis.subscribed", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("realtime: redis subscription closed")
			}
			b.deliver(msg.Payload)
		}
	}
}

func (b *RedisBus) deliver(payload string) {
	var env v1.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.obs.BusMessage("redis", "in", "bad_json")
		b.log.Warn("bus.redis.decode.fail", "err", err)
		return
	}
	ev, err := EventFromEnvelope(env)
	if err != nil {
		b.obs.BusMessage("redis", "in", "bad_event")
		b.log.Warn("bus.redis.decode.fail", "err", err)
		return
	}
	b.obs.BusMessage("redis", "in", "ok")
	b.hub.Publish(ev)
}
