package consistency

import "strings"

const (
	serviceMetaPrefix              = "com.alibaba.nacos.naming.domains.meta."
	instanceListEphemeralPrefix    = "com.alibaba.nacos.naming.iplist.ephemeral."
	instanceListPersistentPrefix   = "com.alibaba.nacos.naming.iplist."
	defaultNamespace               = "public"
)

// KeyBuilder constructs and parses the three key families Consistency keys
// belong to, per spec.md §6. The default namespace is omitted from the meta
// key, matching the source's public-namespace special case.
type KeyBuilder struct{}

// ServiceMetaKey returns the key under which a service's metadata (Service,
// JSON-encoded) is stored.
func (KeyBuilder) ServiceMetaKey(namespace, fullServiceName string) string {
	if namespace == "" || namespace == defaultNamespace {
		return serviceMetaPrefix + fullServiceName
	}
	return serviceMetaPrefix + namespace + "." + fullServiceName
}

// InstanceListKey returns the key for a service's instance list on the given
// plane (ephemeral or persistent).
func (KeyBuilder) InstanceListKey(namespace, fullServiceName string, ephemeral bool) string {
	prefix := instanceListPersistentPrefix
	if ephemeral {
		prefix = instanceListEphemeralPrefix
	}
	return prefix + namespace + "##" + fullServiceName
}

// ServiceMetaKeyPrefix returns the prefix shared by every service-meta key,
// suitable as the key argument to Consistency.Listen when registering a
// single listener interested in the whole service-meta family (spec.md
// §4.4's global ChangeListener, C7).
func (KeyBuilder) ServiceMetaKeyPrefix() string {
	return serviceMetaPrefix
}

// MatchServiceMetaKey reports whether key is a service-meta key.
func (KeyBuilder) MatchServiceMetaKey(key string) bool {
	return strings.HasPrefix(key, serviceMetaPrefix) && !strings.Contains(key, "##")
}

// MatchEphemeralInstanceListKey reports whether key is an ephemeral
// instance-list key.
func (KeyBuilder) MatchEphemeralInstanceListKey(key string) bool {
	return strings.HasPrefix(key, instanceListEphemeralPrefix)
}

// MatchPersistentInstanceListKey reports whether key is a persistent
// instance-list key (i.e. an instance-list key that is not ephemeral).
func (KeyBuilder) MatchPersistentInstanceListKey(key string) bool {
	return strings.HasPrefix(key, instanceListPersistentPrefix) && !strings.HasPrefix(key, instanceListEphemeralPrefix)
}

// ParseServiceMetaKey extracts (namespace, fullServiceName) from a
// service-meta key built by ServiceMetaKey.
func (kb KeyBuilder) ParseServiceMetaKey(key string) (namespace, fullServiceName string, ok bool) {
	if !kb.MatchServiceMetaKey(key) {
		return "", "", false
	}
	rest := strings.TrimPrefix(key, serviceMetaPrefix)
	// rest is either "<fullServiceName>" (default namespace) or
	// "<ns>.<group@@name>"; group@@name may itself contain literal dots (the
	// name regex in spec.md §7 permits them), so the first remaining dot is
	// taken as the ns separator only when the segment before it contains no
	// "@@". Otherwise the whole rest is a dotted default-namespace name.
	if idx := strings.Index(rest, "."); idx >= 0 && looksLikeNamespace(rest[:idx]) {
		return rest[:idx], rest[idx+1:], true
	}
	return defaultNamespace, rest, true
}

// ParseInstanceListKey extracts (namespace, fullServiceName, ephemeral) from
// an instance-list key built by InstanceListKey.
func (kb KeyBuilder) ParseInstanceListKey(key string) (namespace, fullServiceName string, ephemeral bool, ok bool) {
	ephemeral = kb.MatchEphemeralInstanceListKey(key)
	persistent := kb.MatchPersistentInstanceListKey(key)
	if !ephemeral && !persistent {
		return "", "", false, false
	}
	prefix := instanceListPersistentPrefix
	if ephemeral {
		prefix = instanceListEphemeralPrefix
	}
	rest := strings.TrimPrefix(key, prefix)
	ns, name, found := strings.Cut(rest, "##")
	if !found {
		return "", "", false, false
	}
	return ns, name, ephemeral, true
}

// looksLikeNamespace is a conservative heuristic used only to disambiguate
// ParseServiceMetaKey's two shapes; fullServiceName always contains "@@" in
// this core (group@@name), so a segment without it is assumed to be a
// namespace id instead.
func looksLikeNamespace(segment string) bool {
	return !strings.Contains(segment, "@@")
}
