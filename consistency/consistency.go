// Package consistency defines the Consistency contract that Service and
// Registry depend on for durable, replicated storage of service metadata and
// instance lists (spec.md §6), plus two concrete adapters: an in-memory
// reference implementation and an etcd-backed one.
package consistency

// Datum is a Consistency key/value pair as returned by Get. It carries no
// version or other staleness metadata.
type Datum struct {
	Key   string
	Value []byte
}

// Listener receives asynchronous notifications for keys it is interested in.
// Interests and OnDelete matching are driven by the same key string the
// listener registered with Listen, via Interests/MatchUnlistenKey.
type Listener interface {
	// Interests reports whether this listener should be notified for key.
	Interests(key string) bool
	// MatchUnlistenKey reports whether key should cause this listener to be
	// dropped from future notifications (used when a service is destroyed
	// but a late in-flight change for its key is still in the pipe).
	MatchUnlistenKey(key string) bool
	// OnChange is invoked when key's value changes.
	OnChange(key string, value []byte)
	// OnDelete is invoked when key is removed.
	OnDelete(key string)
}

// Consistency is the delegate for durable, replicated key/value storage,
// mirroring spec.md §6 verbatim. Implementations may be eventually or
// strongly consistent; callers must not assume a Put is visible to Get on
// the same node before OnChange fires.
type Consistency interface {
	Put(key string, value []byte) error
	Get(key string) (Datum, bool, error)
	Remove(key string) error
	Listen(key string, l Listener) error
	Unlisten(key string, l Listener) error
}
