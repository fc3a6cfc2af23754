package realtime

import "sync"

// Channel is an in-memory subscriber set for one ChannelKey.
//
// Concurrency guarantees:
//   - add/remove are safe under concurrent snapshot.
//   - snapshot copies members so fan-out happens without the channel lock.
type Channel struct {
	Key ChannelKey

	mu      sync.RWMutex
	members map[string]*Client
}

func newChannel(key ChannelKey) *Channel {
	return &Channel{Key: key, members: make(map[string]*Client)}
}

func (ch *Channel) add(c *Client) {
	ch.mu.Lock()
	ch.members[c.ID] = c
	ch.mu.Unlock()
}

func (ch *Channel) remove(id string) {
	ch.mu.Lock()
	delete(ch.members, id)
	ch.mu.Unlock()
}

func (ch *Channel) snapshot(dst []*Client) []*Client {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	for _, m := range ch.members {
		dst = append(dst, m)
	}
	return dst
}

// Len returns the number of subscribers.
func (ch *Channel) Len() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.members)
}
