package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distroreg/registry/catalog"
	"github.com/distroreg/registry/consistency"
)

func newTestRegistry() *Registry {
	return New(Config{
		Consistency:    consistency.NewMemConsistency(),
		InstanceIDMode: catalog.CompositeIDMode,
	})
}

func TestRegisterInstanceCreatesServiceAndInstance(t *testing.T) {
	r := newTestRegistry()
	inst := catalog.NewInstance("10.0.0.1", 8080, "DEFAULT", "DEFAULT_GROUP@@svc", true)

	require.NoError(t, r.RegisterInstance("public", "DEFAULT_GROUP@@svc", "DEFAULT_GROUP", true, inst))

	svc, ok := r.GetService("public", "DEFAULT_GROUP@@svc")
	require.True(t, ok)
	assert.Len(t, svc.AllIPs(), 1)
	got, ok := svc.GetInstance("10.0.0.1:8080")
	require.True(t, ok)
	assert.NotEmpty(t, got.InstanceID)
}

func TestRegisterInstanceTwiceIsIdempotentOnIdentity(t *testing.T) {
	r := newTestRegistry()
	name := "DEFAULT_GROUP@@svc"
	first := catalog.NewInstance("10.0.0.1", 8080, "DEFAULT", name, true)
	require.NoError(t, r.RegisterInstance("public", name, "DEFAULT_GROUP", true, first))

	second := catalog.NewInstance("10.0.0.1", 8080, "DEFAULT", name, true)
	second.Weight = 5
	require.NoError(t, r.RegisterInstance("public", name, "DEFAULT_GROUP", true, second))

	svc, _ := r.GetService("public", name)
	assert.Len(t, svc.AllIPs(), 1, "same ip:port re-registering should update in place, not duplicate")
	got, _ := svc.GetInstance("10.0.0.1:8080")
	assert.Equal(t, float64(5), got.Weight)
}

func TestRegisterInstanceInOneClusterReconcilesAgainstTheWholeService(t *testing.T) {
	r := newTestRegistry()
	name := "DEFAULT_GROUP@@svc"

	a := catalog.NewInstance("10.0.0.1", 8080, "A", name, true)
	require.NoError(t, r.RegisterInstance("public", name, "DEFAULT_GROUP", true, a))
	b := catalog.NewInstance("10.0.0.2", 8080, "B", name, true)
	require.NoError(t, r.RegisterInstance("public", name, "DEFAULT_GROUP", true, b))

	svc, ok := r.GetService("public", name)
	require.True(t, ok)

	// Drift A's health locally without round-tripping through Consistency,
	// the way the heartbeat-timeout sweep or the anti-entropy pull worker
	// would.
	require.True(t, svc.ReconcileHealthy(a.IPAddr(), false))

	// Registering an instance in a third, unrelated cluster must not revert
	// A's locally-drifted health: mergeAndPublish has to reconcile against
	// every cluster of the service, not just cluster C.
	c := catalog.NewInstance("10.0.0.3", 8080, "C", name, true)
	require.NoError(t, r.RegisterInstance("public", name, "DEFAULT_GROUP", true, c))

	got, ok := svc.GetInstance(a.IPAddr())
	require.True(t, ok)
	assert.False(t, got.Healthy, "instance A's drifted health must survive a register on an unrelated cluster")
}

func TestUpdateInstanceRequiresExistingService(t *testing.T) {
	r := newTestRegistry()
	inst := catalog.NewInstance("10.0.0.1", 8080, "DEFAULT", "missing", true)
	err := r.UpdateInstance("public", "missing", true, inst)
	assert.Error(t, err)
}

func TestUpdateInstanceRequiresExistingInstance(t *testing.T) {
	r := newTestRegistry()
	name := "DEFAULT_GROUP@@svc"
	seed := catalog.NewInstance("10.0.0.1", 8080, "DEFAULT", name, true)
	require.NoError(t, r.RegisterInstance("public", name, "DEFAULT_GROUP", true, seed))

	neverRegistered := catalog.NewInstance("10.0.0.9", 9999, "DEFAULT", name, true)
	err := r.UpdateInstance("public", name, true, neverRegistered)
	require.Error(t, err)

	svc, _ := r.GetService("public", name)
	_, ok := svc.GetInstance("10.0.0.9:9999")
	assert.False(t, ok, "a rejected update must not silently create the instance")
}

func TestDeregisterInstanceRemovesIt(t *testing.T) {
	r := newTestRegistry()
	name := "DEFAULT_GROUP@@svc"
	inst := catalog.NewInstance("10.0.0.1", 8080, "DEFAULT", name, true)
	require.NoError(t, r.RegisterInstance("public", name, "DEFAULT_GROUP", true, inst))

	require.NoError(t, r.DeregisterInstance("public", name, true, inst))

	svc, _ := r.GetService("public", name)
	assert.Empty(t, svc.AllIPs())
}

func TestDeregisterAbsentInstanceIsNotAnError(t *testing.T) {
	r := newTestRegistry()
	name := "DEFAULT_GROUP@@svc"
	seed := catalog.NewInstance("10.0.0.1", 8080, "DEFAULT", name, true)
	require.NoError(t, r.RegisterInstance("public", name, "DEFAULT_GROUP", true, seed))

	absent := catalog.NewInstance("10.0.0.9", 9999, "DEFAULT", name, true)
	assert.NoError(t, r.DeregisterInstance("public", name, true, absent))
}

func TestApplyServiceMetaCreatesServiceWhenAbsent(t *testing.T) {
	r := newTestRegistry()
	svc := catalog.NewService("public", "DEFAULT_GROUP@@svc", "DEFAULT_GROUP", nil, nil)
	svc.Token = "tok"
	encoded, err := EncodeServiceMeta(svc)
	require.NoError(t, err)

	key := r.keys.ServiceMetaKey("public", "DEFAULT_GROUP@@svc")
	require.NoError(t, r.ApplyServiceMeta(key, encoded))

	got, ok := r.GetService("public", "DEFAULT_GROUP@@svc")
	require.True(t, ok)
	assert.Equal(t, "tok", got.Token)
}

func TestApplyServiceMetaUpdatesExistingInPlace(t *testing.T) {
	r := newTestRegistry()
	name := "DEFAULT_GROUP@@svc"
	inst := catalog.NewInstance("10.0.0.1", 8080, "DEFAULT", name, true)
	require.NoError(t, r.RegisterInstance("public", name, "DEFAULT_GROUP", true, inst))

	existing, _ := r.GetService("public", name)
	updated := catalog.NewService("public", name, "DEFAULT_GROUP", nil, nil)
	updated.Token = "new-token"
	encoded, err := EncodeServiceMeta(updated)
	require.NoError(t, err)

	key := r.keys.ServiceMetaKey("public", name)
	require.NoError(t, r.ApplyServiceMeta(key, encoded))

	assert.Equal(t, "new-token", existing.Token, "the same *Service instance should be mutated in place")
}

func TestRemoveServiceByMetaKeyTearsDownService(t *testing.T) {
	r := newTestRegistry()
	name := "DEFAULT_GROUP@@svc"
	inst := catalog.NewInstance("10.0.0.1", 8080, "DEFAULT", name, true)
	require.NoError(t, r.RegisterInstance("public", name, "DEFAULT_GROUP", true, inst))

	key := r.keys.ServiceMetaKey("public", name)
	require.NoError(t, r.RemoveServiceByMetaKey(key))

	_, ok := r.GetService("public", name)
	assert.False(t, ok)
}

func TestEasyRemoveServiceTriggersOnDeleteTeardown(t *testing.T) {
	r := newTestRegistry()
	name := "DEFAULT_GROUP@@svc"
	inst := catalog.NewInstance("10.0.0.1", 8080, "DEFAULT", name, true)
	require.NoError(t, r.RegisterInstance("public", name, "DEFAULT_GROUP", false, inst))

	require.NoError(t, r.EasyRemoveService("public", name))

	_, ok := r.GetService("public", name)
	assert.False(t, ok, "deleting the meta key should cascade through the global meta listener into full teardown")
}

func TestServiceReregistrationAfterRemovalGetsFreshListener(t *testing.T) {
	r := newTestRegistry()
	name := "DEFAULT_GROUP@@svc"
	first := catalog.NewInstance("10.0.0.1", 8080, "DEFAULT", name, true)
	require.NoError(t, r.RegisterInstance("public", name, "DEFAULT_GROUP", true, first))
	require.NoError(t, r.removeService("public", name))

	second := catalog.NewInstance("10.0.0.2", 8080, "DEFAULT", name, true)
	require.NoError(t, r.RegisterInstance("public", name, "DEFAULT_GROUP", true, second))

	svc, ok := r.GetService("public", name)
	require.True(t, ok)
	_, has := svc.GetInstance("10.0.0.2:8080")
	assert.True(t, has)
}
