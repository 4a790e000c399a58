package distro

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/distroreg/registry/membership"
)

type staticMembership struct {
	members map[membership.MemberID]membership.Member
}

func (s staticMembership) Members() map[membership.MemberID]membership.Member {
	return s.members
}
func (s staticMembership) RegisterListener(membership.Listener)   {}
func (s staticMembership) DeregisterListener(membership.Listener) {}

func twoPeerMembership() staticMembership {
	return staticMembership{members: map[membership.MemberID]membership.Member{
		"a": {MemberID: "a", MemberIP: "10.0.0.1", MemberPort: 9000},
		"b": {MemberID: "b", MemberIP: "10.0.0.2", MemberPort: 9000},
	}}
}

func TestRouterOwnershipIsDeterministic(t *testing.T) {
	members := twoPeerMembership()
	r := NewRouter("a", members, 64)

	owner1, ok := r.Owner("DEFAULT_GROUP@@svc")
	assert.True(t, ok)
	owner2, _ := r.Owner("DEFAULT_GROUP@@svc")
	assert.Equal(t, owner1, owner2, "the same name always maps to the same owner for a fixed membership")
}

func TestRouterExactlyOnePeerIsResponsible(t *testing.T) {
	members := twoPeerMembership()
	routerA := NewRouter("a", members, 64)
	routerB := NewRouter("b", members, 64)

	respA := routerA.Responsible("DEFAULT_GROUP@@svc1")
	respB := routerB.Responsible("DEFAULT_GROUP@@svc1")
	assert.NotEqual(t, respA, respB, "exactly one of the two peers owns a given name")
}

func TestRouterNoMembersMeansNotResponsible(t *testing.T) {
	r := NewRouter("a", staticMembership{members: map[membership.MemberID]membership.Member{}}, 64)
	assert.False(t, r.Responsible("DEFAULT_GROUP@@svc"))
}

func TestRouterDistributesAcrossManyNames(t *testing.T) {
	members := twoPeerMembership()
	routerA := NewRouter("a", members, 64)

	owned := 0
	const total = 500
	for i := 0; i < total; i++ {
		if routerA.Responsible("DEFAULT_GROUP@@svc" + string(rune('a'+i%26)) + string(rune(i))) {
			owned++
		}
	}
	assert.Greater(t, owned, 0)
	assert.Less(t, owned, total)
}
