package realtime

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tearoom/cmd/identity/ids"
	v1 "tearoom/shared/contracts/realtime/v1"
)

// Observer receives hub and gateway counters.
type Observer interface {
	WSOpened()
	WSClosed(reason string)
	WSRejected(reason string)
	EventsEnqueued(n int)
	EventDropped(policy string)
}

type nopObserver struct{}

func (nopObserver) WSOpened() {}
func (nopObserver) WSClosed(string) {}
func (nopObserver) WSRejected(string) {}
func (nopObserver) EventsEnqueued(int) {}
func (nopObserver) EventDropped(string) {}

// sweepThreshold triggers an opportunistic sweep after this many channels
// became empty.
const sweepThreshold = 256

// Hub owns channel membership and fans events out to connections.
//
// The hub lock guards the channel index; each channel guards its own
// members. Fan-out copies subscribers and enqueues without holding either.
type Hub struct {
	log *slog.Logger
	obs Observer

	mu       sync.RWMutex
	channels map[ChannelKey]*Channel

	emptied atomic.Int64
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger, obs Observer) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Hub{
		log:      log,
		obs:      obs,
		channels: make(map[ChannelKey]*Channel),
	}
}

// Join subscribes c to key after authorization. Joining twice is a no-op.
func (h *Hub) Join(c *Client, key ChannelKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if !CanJoin(c.Subject, key) {
		return ErrForbidden
	}
	if !c.track(key) {
		return ErrClosed
	}

	h.mu.Lock()
	ch, ok := h.channels[key]
	if !ok {
		ch = newChannel(key)
		h.channels[key] = ch
	}
	ch.add(c)
	h.mu.Unlock()

	// A Disconnect between track and add drained c before it was a member.
	if c.isClosed() {
		h.removeMember(c.ID, key)
		return ErrClosed
	}

	h.log.Debug("hub.join", "conn_id", c.ID, "channel", key.String())
	return nil
}

// Leave removes one membership.
func (h *Hub) Leave(c *Client, key ChannelKey) {
	c.untrack(key)
	h.removeMember(c.ID, key)
	h.log.Debug("hub.leave", "conn_id", c.ID, "channel", key.String())
}

// Disconnect removes c from all channels and closes it.
func (h *Hub) Disconnect(c *Client) {
	code, reason := c.CloseStatus()
	c.Close(code, reason)
	for _, key := range c.drain() {
		h.removeMember(c.ID, key)
	}
}

func (h *Hub) removeMember(id string, key ChannelKey) {
	h.mu.RLock()
	ch := h.channels[key]
	h.mu.RUnlock()
	if ch == nil {
		return
	}
	ch.remove(id)
	if ch.Len() == 0 && h.emptied.Add(1) >= sweepThreshold {
		h.Sweep()
	}
}

// Sweep drops channels without subscribers and returns how many were removed.
func (h *Hub) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for k, ch := range h.channels {
		if ch.Len() == 0 {
			delete(h.channels, k)
			n++
		}
	}
	h.emptied.Store(0)
	return n
}

// ChannelCount returns the number of indexed channels, empty ones included.
func (h *Hub) ChannelCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// Subscribers returns the subscriber count of key.
func (h *Hub) Subscribers(key ChannelKey) int {
	h.mu.RLock()
	ch := h.channels[key]
	h.mu.RUnlock()
	if ch == nil {
		return 0
	}
	return ch.Len()
}

// Broadcast enqueues env once per connection subscribed to any of keys.
// It never blocks and returns the number of connections that accepted env.
func (h *Hub) Broadcast(env v1.Envelope, keys []ChannelKey) int {
	chans := make([]*Channel, 0, len(keys))
	h.mu.RLock()
	for _, k := range keys {
		if ch := h.channels[k]; ch != nil {
			chans = append(chans, ch)
		}
	}
	h.mu.RUnlock()

	var members []*Client
	for _, ch := range chans {
		members = ch.snapshot(members)
	}

	seen := make(map[string]struct{}, len(members))
	delivered := 0
	for _, c := range members {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}

		queued, dropped := c.Enqueue(env)
		if queued {
			delivered++
		}
		if dropped {
			h.obs.EventDropped(c.policy.String())
			if !queued || c.policy == PolicyDisconnect {
				h.log.Info("hub.slow_consumer", "conn_id", c.ID, "policy", c.policy.String())
			}
		}
	}
	h.obs.EventsEnqueued(delivered)
	return delivered
}

// Publish delivers an order event to the channels it targets.
func (h *Hub) Publish(ev OrderEvent) int {
	env, err := ev.Envelope()
	if err != nil {
		h.log.Error("hub.publish.encode.fail", "event_id", ev.ID, "err", err)
		return 0
	}
	n := h.Broadcast(env, ev.Channels)
	h.log.Debug("hub.publish", "event_id", ev.ID, "type", ev.Kind.Type(), "delivered", n)
	return n
}

func newEnvelopeID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return ""
	}
	return id
}
