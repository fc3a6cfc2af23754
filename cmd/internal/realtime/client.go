package realtime

import (
	"fmt"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"tearoom/cmd/internal/auth/session"
	v1 "tearoom/shared/contracts/realtime/v1"
)

// Policy decides what happens when a connection's send queue is full.
type Policy uint8

const (
	// PolicyDisconnect closes the slow connection with 1008 "slow consumer".
	PolicyDisconnect Policy = iota
	// PolicyDropOldest evicts the oldest queued envelope to make room.
	PolicyDropOldest
)

func (p Policy) String() string {
	if p == PolicyDropOldest {
		return "drop_oldest"
	}
	return "disconnect"
}

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "disconnect":
		return PolicyDisconnect, nil
	case "drop_oldest", "drop-oldest":
		return PolicyDropOldest, nil
	default:
		return 0, fmt.Errorf("unknown backpressure policy %q", s)
	}
}

// Client represents one admitted websocket connection.
//
// Design notes:
//   - send is never closed; the writer stops on done instead, so concurrent
//     publishers cannot panic.
//   - Enqueue is serialized by mu so per-connection order matches enqueue order.
//   - Close is idempotent and records the first close status.
type Client struct {
	ID      string
	Subject session.Subject

	policy Policy
	send   chan v1.Envelope

	mu          sync.Mutex
	closed      bool
	closeCode   websocket.StatusCode
	closeReason string
	channels    map[ChannelKey]struct{}
	dropped     int

	done chan struct{}
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id string, sub session.Subject, queueSize int, policy Policy) *Client {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Client{
		ID:       id,
		Subject:  sub,
		policy:   policy,
		send:     make(chan v1.Envelope, queueSize),
		channels: make(map[ChannelKey]struct{}),
		done:     make(chan struct{}),
	}
}

// Send exposes the queue to the connection writer.
func (c *Client) Send() <-chan v1.Envelope { return c.send }

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Enqueue appends env without blocking. It reports false when env was not
// queued: the client is closed, or the queue was full and the policy is
// disconnect (the client is closed with 1008 in that case).
func (c *Client) Enqueue(env v1.Envelope) (queued bool, dropped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, false
	}

	select {
	case c.send <- env:
		return true, false
	default:
	}

	if c.policy == PolicyDropOldest {
		select {
		case <-c.send:
			c.dropped++
		default:
		}
		select {
		case c.send <- env:
			return true, true
		default:
			c.dropped++
			return false, true
		}
	}

	c.closeLocked(websocket.StatusPolicyViolation, "slow consumer")
	return false, true
}

// Dropped returns how many envelopes drop_oldest discarded.
func (c *Client) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close marks the client closed with the given status. The first call wins.
func (c *Client) Close(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(code, reason)
}

func (c *Client) closeLocked(code websocket.StatusCode, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.done)
}

// CloseStatus returns the recorded close status, or normal closure when still open.
func (c *Client) CloseStatus() (websocket.StatusCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		return websocket.StatusNormalClosure, ""
	}
	return c.closeCode, c.closeReason
}

// Channels returns the current memberships.
func (c *Client) Channels() []ChannelKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChannelKey, 0, len(c.channels))
	for k := range c.channels {
		out = append(out, k)
	}
	return out
}

func (c *Client) track(k ChannelKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.channels[k] = struct{}{}
	return true
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) untrack(k ChannelKey) {
	c.mu.Lock()
	delete(c.channels, k)
	c.mu.Unlock()
}

func (c *Client) drain() []ChannelKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChannelKey, 0, len(c.channels))
	for k := range c.channels {
		out = append(out, k)
	}
	c.channels = make(map[ChannelKey]struct{})
	return out
}
