package reaper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distroreg/registry/catalog"
	"github.com/distroreg/registry/consistency"
	"github.com/distroreg/registry/distro"
	"github.com/distroreg/registry/membership"
	"github.com/distroreg/registry/registry"
)

type staticMembership struct {
	members map[membership.MemberID]membership.Member
}

func (s staticMembership) Members() map[membership.MemberID]membership.Member { return s.members }
func (s staticMembership) RegisterListener(membership.Listener)               {}
func (s staticMembership) DeregisterListener(membership.Listener)             {}

func soleMember(self membership.MemberID) staticMembership {
	return staticMembership{members: map[membership.MemberID]membership.Member{
		self: {MemberID: self, MemberIP: "10.0.0.1", MemberPort: 9000},
	}}
}

func newTestReg(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New(registry.Config{Consistency: consistency.NewMemConsistency()})
}

func TestSweepOneSkipsServiceNotOwned(t *testing.T) {
	reg := newTestReg(t)
	name := "DEFAULT_GROUP@@svc"
	require.NoError(t, reg.RegisterInstance("public", name, "DEFAULT_GROUP", false, catalog.NewInstance("10.0.0.9", 8080, "DEFAULT", name, false)))
	require.NoError(t, reg.DeregisterInstance("public", name, false, catalog.NewInstance("10.0.0.9", 8080, "DEFAULT", name, false)))

	// A router whose membership excludes this peer is never responsible.
	members := staticMembership{members: map[membership.MemberID]membership.Member{
		"someone-else": {MemberID: "someone-else", MemberIP: "10.0.0.2", MemberPort: 9000},
	}}
	router := distro.NewRouter("me", members, 64)

	r := New(Config{Registry: reg, Router: router})
	for i := 0; i < DefaultMaxFinalizeCount+2; i++ {
		r.sweepOne("public", name)
	}

	svc, ok := reg.GetService("public", name)
	require.True(t, ok)
	assert.Equal(t, 0, svc.FinalizeCount(), "a service this peer is not responsible for must never be reaped or counted")
}

func TestSweepOneResetsCountWhenNonEmpty(t *testing.T) {
	reg := newTestReg(t)
	name := "DEFAULT_GROUP@@svc"
	require.NoError(t, reg.RegisterInstance("public", name, "DEFAULT_GROUP", false, catalog.NewInstance("10.0.0.9", 8080, "DEFAULT", name, false)))

	router := distro.NewRouter("me", soleMember("me"), 64)
	r := New(Config{Registry: reg, Router: router})

	svc, _ := reg.GetService("public", name)
	svc.AdvanceFinalizeCount()
	svc.AdvanceFinalizeCount()

	r.sweepOne("public", name)
	assert.Equal(t, 0, svc.FinalizeCount())
}

func TestSweepOneReapsAfterMaxFinalizeCount(t *testing.T) {
	reg := newTestReg(t)
	name := "DEFAULT_GROUP@@svc"
	require.NoError(t, reg.RegisterInstance("public", name, "DEFAULT_GROUP", false, catalog.NewInstance("10.0.0.9", 8080, "DEFAULT", name, false)))
	require.NoError(t, reg.DeregisterInstance("public", name, false, catalog.NewInstance("10.0.0.9", 8080, "DEFAULT", name, false)))

	router := distro.NewRouter("me", soleMember("me"), 64)
	r := New(Config{Registry: reg, Router: router})

	for i := 0; i < DefaultMaxFinalizeCount+1; i++ {
		r.sweepOne("public", name)
		_, ok := reg.GetService("public", name)
		assert.True(t, ok, "service must survive until the count exceeds MaxFinalizeCount")
	}

	r.sweepOne("public", name)
	_, ok := reg.GetService("public", name)
	assert.False(t, ok, "service should be reaped once its finalize count exceeds MaxFinalizeCount")
}

func TestSweepParallelCoversEveryName(t *testing.T) {
	reg := newTestReg(t)
	router := distro.NewRouter("me", soleMember("me"), 64)
	r := New(Config{Registry: reg, Router: router})

	names := make([]string, 0, 150)
	for i := 0; i < 150; i++ {
		name := "DEFAULT_GROUP@@svc-" + string(rune('a'+i%26)) + string(rune(i))
		require.NoError(t, reg.RegisterInstance("public", name, "DEFAULT_GROUP", false, catalog.NewInstance("10.0.0.1", 8080, "DEFAULT", name, false)))
		require.NoError(t, reg.DeregisterInstance("public", name, false, catalog.NewInstance("10.0.0.1", 8080, "DEFAULT", name, false)))
		names = append(names, name)
	}

	r.sweepParallel("public", names)

	for _, name := range names {
		svc, ok := reg.GetService("public", name)
		require.True(t, ok)
		assert.Equal(t, 1, svc.FinalizeCount())
	}
}
