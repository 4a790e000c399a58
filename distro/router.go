// Package distro partitions ephemeral anti-entropy and empty-service-reap
// work across peers: each service name consistent-hashes onto exactly one
// alive peer, and only that peer treats itself as responsible for it.
package distro

import (
	"hash/crc32"
	"sort"

	"github.com/distroreg/registry/membership"
)

// Router answers "is this peer responsible for serviceName" by consistent-
// hashing the name onto the current alive peer set, per spec §4.5. It holds
// no instance state of its own; it reads membership.Membership on every call
// so that a peer joining or leaving is reflected immediately.
type Router struct {
	self       membership.MemberID
	members    membership.Membership
	ringPoints int
}

// NewRouter creates a Router that resolves ownership against members, using
// self as this peer's identity. ringPoints controls how many virtual nodes
// each peer gets on the hash ring; higher values smooth load distribution at
// the cost of a larger per-call sort.
func NewRouter(self membership.MemberID, members membership.Membership, ringPoints int) *Router {
	if ringPoints <= 0 {
		ringPoints = 64
	}
	return &Router{self: self, members: members, ringPoints: ringPoints}
}

type ringEntry struct {
	hash   uint32
	member membership.MemberID
}

// Responsible reports whether this peer owns serviceName under the current
// membership snapshot.
func (r *Router) Responsible(serviceName string) bool {
	owner, ok := r.Owner(serviceName)
	return ok && owner == r.self
}

// Owner returns the member responsible for serviceName, and whether any
// member exists to be responsible (false only when the peer set is empty).
func (r *Router) Owner(serviceName string) (membership.MemberID, bool) {
	members := r.members.Members()
	if len(members) == 0 {
		return "", false
	}

	ring := make([]ringEntry, 0, len(members)*r.ringPoints)
	for id := range members {
		for v := 0; v < r.ringPoints; v++ {
			ring = append(ring, ringEntry{hash: virtualNodeHash(id, v), member: id})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })

	target := crc32.ChecksumIEEE([]byte(serviceName))
	idx := sort.Search(len(ring), func(i int) bool { return ring[i].hash >= target })
	if idx == len(ring) {
		idx = 0
	}
	return ring[idx].member, true
}

func virtualNodeHash(id membership.MemberID, virtualIndex int) uint32 {
	buf := make([]byte, 0, len(id)+8)
	buf = append(buf, id...)
	buf = appendInt(buf, virtualIndex)
	return crc32.ChecksumIEEE(buf)
}

func appendInt(buf []byte, v int) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
