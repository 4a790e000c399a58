// Package push notifies long-poll/streaming clients of service changes. The
// scheduling and wire protocol for client-facing push are out of scope for
// this core (spec.md §6 treats Push as an external collaborator); this
// package supplies the contract's default implementation, a fan-out over
// per-service subscriber channels, so Service.OnChange has somewhere real to
// deliver to.
package push

import (
	"sync"

	"github.com/distroreg/registry/catalog"
)

// Broadcaster is the default catalog.Push implementation: ServiceChanged
// fans out to every channel subscribed to that service's key, dropping the
// notification for a subscriber whose channel is full rather than blocking
// the caller (a slow long-poll client must not stall registration).
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *catalog.Service
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[string][]chan *catalog.Service)}
}

// Subscribe returns a channel that receives every future ServiceChanged
// notification for the given service key (Service.Key()), until unsubscribe
// is called.
func (b *Broadcaster) Subscribe(serviceKey string) (ch <-chan *catalog.Service, unsubscribe func()) {
	c := make(chan *catalog.Service, 1)

	b.mu.Lock()
	b.subscribers[serviceKey] = append(b.subscribers[serviceKey], c)
	b.mu.Unlock()

	return c, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[serviceKey]
		for i, existing := range subs {
			if existing == c {
				b.subscribers[serviceKey] = append(subs[:i], subs[i+1:]...)
				close(c)
				break
			}
		}
	}
}

// ServiceChanged implements catalog.Push.
func (b *Broadcaster) ServiceChanged(s *catalog.Service) {
	b.mu.RLock()
	subs := append([]chan *catalog.Service(nil), b.subscribers[s.Key()]...)
	b.mu.RUnlock()

	for _, c := range subs {
		select {
		case c <- s:
		default:
		}
	}
}
