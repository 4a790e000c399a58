package membership

import (
	"context"
	"sync"
	"time"

	"github.com/distroreg/registry/catalog"
)

// MemoryBackend is an in-process Backend, grounded on the teacher's
// filesystem-backed cluster.Backend but dropping the filesystem: the state
// lives in a map and changes fan out to registered watchers directly. Useful
// for tests and single-process deployments.
type MemoryBackend struct {
	mu       sync.RWMutex
	members  map[MemberID]Member
	watchers []chan Event
}

// NewMemoryBackend creates an empty in-memory membership backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{members: make(map[MemberID]Member)}
}

// WriteMember upserts m and notifies watchers of a join.
func (b *MemoryBackend) WriteMember(m Member) error {
	m.Timestamp = time.Now()

	b.mu.Lock()
	b.members[m.ID()] = m
	watchers := append([]chan Event(nil), b.watchers...)
	b.mu.Unlock()

	for _, w := range watchers {
		w <- Event{Type: EventJoin, Member: m}
	}
	return nil
}

// ReadMember returns the member for id.
func (b *MemoryBackend) ReadMember(id MemberID) (Member, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.members[id]
	if !ok {
		return Member{}, catalog.NewError(catalog.NotFound, "member not found", string(id))
	}
	return m, nil
}

// ReadMembers returns a snapshot of all known members.
func (b *MemoryBackend) ReadMembers() (map[MemberID]Member, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[MemberID]Member, len(b.members))
	for id, m := range b.members {
		out[id] = m
	}
	return out, nil
}

// RemoveMember deletes id and notifies watchers of a leave.
func (b *MemoryBackend) RemoveMember(id MemberID) error {
	b.mu.Lock()
	m, ok := b.members[id]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.members, id)
	watchers := append([]chan Event(nil), b.watchers...)
	b.mu.Unlock()

	for _, w := range watchers {
		w <- Event{Type: EventLeave, Member: m}
	}
	return nil
}

// Watch returns a channel of membership events, closed when ctx is done.
func (b *MemoryBackend) Watch(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	b.watchers = append(b.watchers, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, w := range b.watchers {
			if w == ch {
				b.watchers = append(b.watchers[:i], b.watchers[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}
