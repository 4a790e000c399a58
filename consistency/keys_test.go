package consistency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceMetaKeyDefaultNamespaceOmitted(t *testing.T) {
	kb := KeyBuilder{}
	key := kb.ServiceMetaKey("public", "DEFAULT_GROUP@@svc")
	assert.Equal(t, "com.alibaba.nacos.naming.domains.meta.DEFAULT_GROUP@@svc", key)
	assert.True(t, kb.MatchServiceMetaKey(key))
}

func TestServiceMetaKeyNonDefaultNamespace(t *testing.T) {
	kb := KeyBuilder{}
	key := kb.ServiceMetaKey("tenantA", "DEFAULT_GROUP@@svc")
	assert.Equal(t, "com.alibaba.nacos.naming.domains.meta.tenantA.DEFAULT_GROUP@@svc", key)

	ns, name, ok := kb.ParseServiceMetaKey(key)
	assert.True(t, ok)
	assert.Equal(t, "tenantA", ns)
	assert.Equal(t, "DEFAULT_GROUP@@svc", name)
}

func TestServiceMetaKeyDefaultNamespaceWithDottedName(t *testing.T) {
	kb := KeyBuilder{}
	key := kb.ServiceMetaKey("public", "DEFAULT_GROUP@@svc.internal")

	ns, name, ok := kb.ParseServiceMetaKey(key)
	assert.True(t, ok)
	assert.Equal(t, "public", ns, "a literal dot in a default-namespace name must not be mistaken for the namespace separator")
	assert.Equal(t, "DEFAULT_GROUP@@svc.internal", name)
}

func TestInstanceListKeyMatchersAreMutuallyExclusive(t *testing.T) {
	kb := KeyBuilder{}
	eph := kb.InstanceListKey("public", "DEFAULT_GROUP@@svc", true)
	per := kb.InstanceListKey("public", "DEFAULT_GROUP@@svc", false)

	assert.True(t, kb.MatchEphemeralInstanceListKey(eph))
	assert.False(t, kb.MatchPersistentInstanceListKey(eph))

	assert.True(t, kb.MatchPersistentInstanceListKey(per))
	assert.False(t, kb.MatchEphemeralInstanceListKey(per))
}

func TestParseInstanceListKeyRoundTrip(t *testing.T) {
	kb := KeyBuilder{}
	key := kb.InstanceListKey("public", "DEFAULT_GROUP@@svc", true)

	ns, name, ephemeral, ok := kb.ParseInstanceListKey(key)
	assert.True(t, ok)
	assert.Equal(t, "public", ns)
	assert.Equal(t, "DEFAULT_GROUP@@svc", name)
	assert.True(t, ephemeral)
}

func TestMatchServiceMetaKeyRejectsInstanceListKeys(t *testing.T) {
	kb := KeyBuilder{}
	key := kb.InstanceListKey("public", "DEFAULT_GROUP@@svc", false)
	assert.False(t, kb.MatchServiceMetaKey(key))
}
