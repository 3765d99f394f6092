package signaling

import (
	"log/slog"
	"sync"

	"github.com/tiatele/telecore/proto"
)

// Notification is delivered to subscribers in the order the client applied
// it. Exactly one of State or Event is set.
type Notification struct {
	State State
	Event *proto.Event
}

// Subscribe registers a listener for state changes and server-pushed events.
// A subscriber that falls more than buffer notifications behind misses the
// overflow. The returned func unsubscribes and closes the channel.
func (c *Client) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Notification, buffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

// publishLocked must be called with c.mu held.
func (c *Client) publishLocked(n Notification) {
	for id, ch := range c.subs {
		select {
		case ch <- n:
		default:
			c.logger.Warn("subscriber lagging, notification dropped", slog.Int("subscriber", id))
		}
	}
}
