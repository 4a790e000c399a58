package registry

import (
	"github.com/distroreg/registry/catalog"
	"github.com/distroreg/registry/consistency"
)

// serviceListener subscribes to a single service's two instance-list keys
// (ephemeral and persistent) and applies incoming snapshots to svc via
// OnChange, per spec.md §4.3's onChange contract. One instance is created
// per service by putServiceAndInit.
type serviceListener struct {
	registry *Registry
	service  *catalog.Service
}

func newServiceListener(r *Registry, svc *catalog.Service) *serviceListener {
	return &serviceListener{registry: r, service: svc}
}

func (l *serviceListener) Interests(key string) bool {
	ns, name, _, ok := l.registry.keys.ParseInstanceListKey(key)
	return ok && ns == l.service.NamespaceID && name == l.service.Name
}

func (l *serviceListener) MatchUnlistenKey(key string) bool {
	return l.Interests(key)
}

func (l *serviceListener) OnChange(key string, value []byte) {
	_, _, ephemeral, ok := l.registry.keys.ParseInstanceListKey(key)
	if !ok {
		return
	}
	instances, err := DecodeInstanceList(value)
	if err != nil {
		l.registry.logger.WithError(err).Warnf("dropping malformed instance list for key %s", key)
		return
	}
	if err := l.service.OnChange(ephemeral, instances); err != nil {
		l.registry.logger.WithError(err).Warnf("failed to apply instance list change for key %s", key)
	}
}

func (l *serviceListener) OnDelete(key string) {
	_, _, ephemeral, ok := l.registry.keys.ParseInstanceListKey(key)
	if !ok {
		return
	}
	if err := l.service.OnChange(ephemeral, nil); err != nil {
		l.registry.logger.WithError(err).Warnf("failed to clear instance list for key %s", key)
	}
}

// metaListener subscribes to the service-meta key family globally (C7,
// spec.md §4.4): it is registered once, against the meta key prefix, and
// Interests filters to service-meta keys that are not switch keys (this core
// carries no switch-key concept, so every meta-prefixed key qualifies).
type metaListener struct {
	registry *Registry
}

// NewMetaListener creates the global ChangeListener for service-meta keys.
// Callers must register it with Consistency.Listen against the meta prefix.
func NewMetaListener(r *Registry) consistency.Listener {
	return &metaListener{registry: r}
}

func (l *metaListener) Interests(key string) bool {
	return l.registry.keys.MatchServiceMetaKey(key)
}

func (l *metaListener) MatchUnlistenKey(key string) bool {
	return l.Interests(key)
}

func (l *metaListener) OnChange(key string, value []byte) {
	if err := l.registry.ApplyServiceMeta(key, value); err != nil {
		l.registry.logger.WithError(err).Warnf("failed to apply service metadata for key %s", key)
	}
}

func (l *metaListener) OnDelete(key string) {
	if err := l.registry.RemoveServiceByMetaKey(key); err != nil {
		l.registry.logger.WithError(err).Warnf("failed to remove service for key %s", key)
	}
}
