package realtime

import (
	"sync"
	"time"

	v1 "tearoom/shared/contracts/realtime/v1"
)

// joinCost is what a join_room frame charges against a connection's budget.
// Every other frame costs one.
const joinCost = 2

// frameBudget caps inbound client frames per connection over a sliding
// window. Stamps live in a fixed ring sized to the limit.
type frameBudget struct {
	mu     sync.Mutex
	stamps []time.Time
	head   int // oldest stamp
	n      int
	window time.Duration
}

func newFrameBudget(limit int, window time.Duration) *frameBudget {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &frameBudget{stamps: make([]time.Time, limit), window: window}
}

func frameCost(t string) int {
	if t == v1.TypeJoinRoom {
		return joinCost
	}
	return 1
}

// charge spends the cost of a frame of type t received at now. It reports
// false, leaving the budget untouched, when the window has no room. The
// returned duration is how long until enough stamps expire.
func (b *frameBudget) charge(now time.Time, t string) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cut := now.Add(-b.window)
	for b.n > 0 && !b.stamps[b.head].After(cut) {
		b.head = (b.head + 1) % len(b.stamps)
		b.n--
	}

	cost := min(frameCost(t), len(b.stamps))
	if free := len(b.stamps) - b.n; free < cost {
		// The (cost-free)th oldest stamp must expire first.
		oldest := b.stamps[(b.head+cost-free-1)%len(b.stamps)]
		return false, oldest.Add(b.window).Sub(now)
	}
	for range cost {
		b.stamps[(b.head+b.n)%len(b.stamps)] = now
		b.n++
	}
	return true, 0
}
