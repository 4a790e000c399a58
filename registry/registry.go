// Package registry implements the namespaced two-level registry table
// (namespace → serviceName → Service) and the client-facing register/
// deregister/update operations layered on top of catalog and consistency,
// per spec.md §4.1 (C4).
package registry

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/distroreg/registry/catalog"
	"github.com/distroreg/registry/consistency"
	"github.com/distroreg/registry/pkg/logging"
	"github.com/distroreg/registry/push"
)

const module = "REGISTRY"

// Registry is the two-level namespace→name→Service table plus the
// client-facing register/update/deregister surface. It delegates durable
// storage of service metadata and instance lists to Consistency, and change
// propagation to Push; its own state is a cache reconstructable from
// Consistency on startup.
type Registry struct {
	consistency consistency.Consistency
	keys        consistency.KeyBuilder
	push        *push.Broadcaster
	health      catalog.HealthScheduler
	idMode      catalog.InstanceIDMode
	logger      *logrus.Entry

	// ipDeleteTimeout is stamped onto every Service created by this Registry
	// (createEmptyServiceIfAbsent), per spec §3's per-service removal
	// deadline for stale ephemeral instances.
	ipDeleteTimeout time.Duration

	// putServiceGuard serializes namespace-map creation and service
	// installation, matching the source's single process-wide guard
	// (spec §4.1's putServiceAndInit).
	putServiceGuard sync.Mutex

	mu         sync.RWMutex
	namespaces map[string]map[string]*catalog.Service

	locksMu      sync.Mutex
	serviceLocks map[string]*sync.Mutex

	// listenersMu guards serviceListeners, the record of which
	// *serviceListener instance is currently registered for each service's
	// instance-list keys, so removeService can Unlisten the exact instance
	// Consistency.Listen was given rather than a freshly-constructed one that
	// would never compare equal to it.
	listenersMu      sync.Mutex
	serviceListeners map[string]*serviceListener
}

// Config configures a new Registry.
type Config struct {
	Consistency     consistency.Consistency
	Push            *push.Broadcaster
	HealthScheduler catalog.HealthScheduler
	InstanceIDMode  catalog.InstanceIDMode

	// IPDeleteTimeout defaults to catalog.DefaultIPDeleteTimeout when zero.
	IPDeleteTimeout time.Duration
}

// New creates an empty Registry wired to the given collaborators, and
// registers its global service-meta listener (C7, spec.md §4.4) against the
// service-meta key prefix so it observes every service's metadata changes
// without a per-service Listen call.
func New(conf Config) *Registry {
	p := conf.Push
	if p == nil {
		// A nil *push.Broadcaster handed to catalog.NewService's Push
		// interface parameter would be a non-nil interface wrapping a nil
		// pointer, so catalog.Service's "s.push != nil" guard would not save
		// it from a nil-receiver call; default to a real, subscriber-less
		// Broadcaster instead.
		p = push.NewBroadcaster()
	}

	ipDeleteTimeout := conf.IPDeleteTimeout
	if ipDeleteTimeout <= 0 {
		ipDeleteTimeout = catalog.DefaultIPDeleteTimeout
	}

	r := &Registry{
		consistency:      conf.Consistency,
		push:             p,
		health:           conf.HealthScheduler,
		idMode:           conf.InstanceIDMode,
		logger:           logging.GetLogger(module),
		ipDeleteTimeout:  ipDeleteTimeout,
		namespaces:       make(map[string]map[string]*catalog.Service),
		serviceLocks:     make(map[string]*sync.Mutex),
		serviceListeners: make(map[string]*serviceListener),
	}
	if r.consistency != nil {
		if err := r.consistency.Listen(r.keys.ServiceMetaKeyPrefix(), NewMetaListener(r)); err != nil {
			r.logger.WithError(err).Error("failed to register global service-meta listener")
		}
	}
	return r
}

// storeServiceListener records l as the currently-registered listener for
// (namespaceID, name)'s instance-list keys, overwriting any prior entry.
func (r *Registry) storeServiceListener(namespaceID, name string, l *serviceListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.serviceListeners[serviceLockKey(namespaceID, name)] = l
}

// takeServiceListener removes and returns the listener recorded for
// (namespaceID, name), if any.
func (r *Registry) takeServiceListener(namespaceID, name string) (*serviceListener, bool) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	key := serviceLockKey(namespaceID, name)
	l, ok := r.serviceListeners[key]
	delete(r.serviceListeners, key)
	return l, ok
}

// hasServiceListener reports whether a listener is currently on record for
// (namespaceID, name).
func (r *Registry) hasServiceListener(namespaceID, name string) bool {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	_, ok := r.serviceListeners[serviceLockKey(namespaceID, name)]
	return ok
}

func serviceLockKey(namespaceID, name string) string {
	return namespaceID + "/" + name
}

// serviceLock returns the per-service mutex for (namespaceID, name),
// creating it if absent.
func (r *Registry) serviceLock(namespaceID, name string) *sync.Mutex {
	key := serviceLockKey(namespaceID, name)

	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	lock, ok := r.serviceLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.serviceLocks[key] = lock
	}
	return lock
}

// GetService returns the service for (namespaceID, name), if present.
func (r *Registry) GetService(namespaceID, name string) (*catalog.Service, bool) {
	namespaceID = normalizeNamespace(namespaceID)

	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.namespaces[namespaceID]
	if !ok {
		return nil, false
	}
	svc, ok := ns[name]
	return svc, ok
}

// ContainsService reports whether (namespaceID, name) exists.
func (r *Registry) ContainsService(namespaceID, name string) bool {
	_, ok := r.GetService(namespaceID, name)
	return ok
}

// GetAllNamespaces returns every namespace id with at least one service.
func (r *Registry) GetAllNamespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.namespaces))
	for ns := range r.namespaces {
		out = append(out, ns)
	}
	return out
}

// GetAllServiceNames returns every service name registered under namespaceID.
func (r *Registry) GetAllServiceNames(namespaceID string) []string {
	namespaceID = normalizeNamespace(namespaceID)

	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.namespaces[namespaceID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ns))
	for name := range ns {
		out = append(out, name)
	}
	return out
}

func normalizeNamespace(namespaceID string) string {
	if namespaceID == "" {
		return "public"
	}
	return namespaceID
}

// putServiceAndInit installs svc into the table, creating the namespace
// sub-map if absent (under putServiceGuard), initializes it, and registers it
// as a Consistency listener for both instance-list planes. Idempotent:
// re-invocation overwrites the existing entry and replaces the previously
// registered listener, per spec §4.1.
func (r *Registry) putServiceAndInit(svc *catalog.Service) error {
	r.putServiceGuard.Lock()
	defer r.putServiceGuard.Unlock()

	r.mu.Lock()
	ns, ok := r.namespaces[svc.NamespaceID]
	if !ok {
		ns = make(map[string]*catalog.Service)
		r.namespaces[svc.NamespaceID] = ns
	}
	ns[svc.Name] = svc
	r.mu.Unlock()

	svc.Init()

	ephemeralKey := r.keys.InstanceListKey(svc.NamespaceID, svc.Name, true)
	persistentKey := r.keys.InstanceListKey(svc.NamespaceID, svc.Name, false)
	if prior, ok := r.takeServiceListener(svc.NamespaceID, svc.Name); ok {
		_ = r.consistency.Unlisten(ephemeralKey, prior)
		_ = r.consistency.Unlisten(persistentKey, prior)
	}

	listener := newServiceListener(r, svc)
	r.storeServiceListener(svc.NamespaceID, svc.Name, listener)

	if err := r.consistency.Listen(ephemeralKey, listener); err != nil {
		return err
	}
	if err := r.consistency.Listen(persistentKey, listener); err != nil {
		return err
	}
	return nil
}

// createEmptyServiceIfAbsent ensures (namespaceID, name) exists, constructing
// it with an optional initial cluster when absent. When ephemeral is false,
// the new service's metadata is also put to Consistency so peers observe it,
// per spec §4.1.
func (r *Registry) createEmptyServiceIfAbsent(namespaceID, name, groupName string, ephemeral bool, initialCluster string) (*catalog.Service, error) {
	namespaceID = normalizeNamespace(namespaceID)

	if svc, ok := r.GetService(namespaceID, name); ok {
		return svc, nil
	}

	svc := catalog.NewService(namespaceID, name, groupName, r.push, r.health)
	svc.IPDeleteTimeout = r.ipDeleteTimeout
	svc.EnsureCluster(initialCluster)
	svc.RecalculateChecksum()

	if err := r.putServiceAndInit(svc); err != nil {
		return nil, err
	}

	if !ephemeral {
		encoded, err := EncodeServiceMeta(svc)
		if err != nil {
			return nil, err
		}
		if err := r.consistency.Put(r.keys.ServiceMetaKey(namespaceID, name), encoded); err != nil {
			return nil, catalog.NewError(catalog.ConsistencyFailure, "failed to publish service metadata", err.Error())
		}
	}
	return svc, nil
}
