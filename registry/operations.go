package registry

import (
	"github.com/distroreg/registry/catalog"
)

// RegisterInstance ensures the service exists, then adds inst to the given
// plane. Mirrors spec.md §4.1's registerInstance.
func (r *Registry) RegisterInstance(namespaceID, name, groupName string, ephemeral bool, inst *catalog.Instance) error {
	svc, err := r.createEmptyServiceIfAbsent(namespaceID, name, groupName, ephemeral, inst.ClusterName)
	if err != nil {
		return err
	}
	return r.AddInstance(svc, ephemeral, inst)
}

// UpdateInstance requires the service, and the instance within it, to
// already exist, then applies inst as an update to the given plane.
func (r *Registry) UpdateInstance(namespaceID, name string, ephemeral bool, inst *catalog.Instance) error {
	svc, ok := r.GetService(namespaceID, name)
	if !ok {
		return catalog.NewError(catalog.NotFound, "service not found", serviceLockKey(namespaceID, name))
	}
	if _, ok := svc.GetInstance(inst.IPAddr()); !ok {
		return catalog.NewError(catalog.InvalidArgument, "instance not found", inst.IPAddr())
	}
	return r.updateInstancePlane(svc, ephemeral, inst)
}

// DeregisterInstance requires the service to already exist; deregistering an
// already-absent instance is not an error (spec.md §4.1).
func (r *Registry) DeregisterInstance(namespaceID, name string, ephemeral bool, inst *catalog.Instance) error {
	svc, ok := r.GetService(namespaceID, name)
	if !ok {
		return catalog.NewError(catalog.NotFound, "service not found", serviceLockKey(namespaceID, name))
	}
	return r.RemoveInstance(svc, ephemeral, inst)
}

// AddInstance performs the per-service-locked merge-then-put for a
// registration, per spec.md §4.2's algorithm: fetch the current authoritative
// list from Consistency, reconcile it against local health/lastBeat, layer
// the delta on top via InstanceMerger, and publish the result.
func (r *Registry) AddInstance(svc *catalog.Service, ephemeral bool, instances ...*catalog.Instance) error {
	return r.mergeAndPublish(svc, ephemeral, catalog.ActionRegister, instances)
}

// RemoveInstance is AddInstance's counterpart for deregistration.
func (r *Registry) RemoveInstance(svc *catalog.Service, ephemeral bool, instances ...*catalog.Instance) error {
	return r.mergeAndPublish(svc, ephemeral, catalog.ActionDeregister, instances)
}

func (r *Registry) updateInstancePlane(svc *catalog.Service, ephemeral bool, inst *catalog.Instance) error {
	return r.mergeAndPublish(svc, ephemeral, catalog.ActionUpdate, []*catalog.Instance{inst})
}

func (r *Registry) mergeAndPublish(svc *catalog.Service, ephemeral bool, action catalog.Action, delta []*catalog.Instance) error {
	lock := r.serviceLock(svc.NamespaceID, svc.Name)
	lock.Lock()
	defer lock.Unlock()

	key := r.keys.InstanceListKey(svc.NamespaceID, svc.Name, ephemeral)

	remote, err := r.fetchInstanceList(key)
	if err != nil {
		return err
	}

	local := svc.Instances(ephemeral)
	reconciled := catalog.ReconcileRemote(remote, local)

	merger := catalog.NewInstanceMerger(r.idMode)
	merged, _, err := merger.Merge(reconciled, action, delta)
	if err != nil {
		return err
	}

	encoded, err := EncodeInstanceList(merged)
	if err != nil {
		return err
	}
	if err := r.consistency.Put(key, encoded); err != nil {
		return catalog.NewError(catalog.ConsistencyFailure, "failed to publish instance list", err.Error())
	}
	return nil
}

func (r *Registry) fetchInstanceList(key string) ([]*catalog.Instance, error) {
	datum, ok, err := r.consistency.Get(key)
	if err != nil {
		return nil, catalog.NewError(catalog.ConsistencyFailure, "failed to read instance list", err.Error())
	}
	if !ok {
		return nil, nil
	}
	return DecodeInstanceList(datum.Value)
}

// ApplyServiceMeta applies an incoming service-meta change: update the
// existing service in place, or create and initialize it if absent, per
// spec.md §4.4's onChange(key, Service).
func (r *Registry) ApplyServiceMeta(key string, value []byte) error {
	ns, name, ok := r.keys.ParseServiceMetaKey(key)
	if !ok {
		return catalog.NewError(catalog.InvalidArgument, "key is not a service-meta key", key)
	}
	ns = normalizeNamespace(ns)

	incoming, err := DecodeServiceMeta(value, r.push, r.health)
	if err != nil {
		return err
	}
	incoming.NamespaceID = ns
	incoming.Name = name

	if existing, ok := r.GetService(ns, name); ok {
		existing.Update(incoming)
		// Re-register instance-list listeners idempotently, to recover from
		// an accidental unlisten.
		return r.reregisterInstanceListeners(existing)
	}
	return r.putServiceAndInit(incoming)
}

// reregisterInstanceListeners is idempotent: if a listener is already on
// record for svc (the common case — putServiceAndInit registered one when
// the service was created, possibly moments earlier in the same call chain
// that triggered this meta update), it does nothing. A fresh Listen only
// happens when recovering from an actual accidental unlisten.
func (r *Registry) reregisterInstanceListeners(svc *catalog.Service) error {
	if r.hasServiceListener(svc.NamespaceID, svc.Name) {
		return nil
	}

	listener := newServiceListener(r, svc)
	r.storeServiceListener(svc.NamespaceID, svc.Name, listener)
	ephemeralKey := r.keys.InstanceListKey(svc.NamespaceID, svc.Name, true)
	persistentKey := r.keys.InstanceListKey(svc.NamespaceID, svc.Name, false)

	if err := r.consistency.Listen(ephemeralKey, listener); err != nil {
		return err
	}
	return r.consistency.Listen(persistentKey, listener)
}

// RemoveServiceByMetaKey tears a service down on an incoming meta-key delete:
// destroy its health-scheduler registrations, remove both instance-list
// keys, unlisten its instance-list listener, and drop it from the table.
// The global service-meta listener is left registered. Mirrors spec.md
// §4.4's onDelete.
func (r *Registry) RemoveServiceByMetaKey(key string) error {
	ns, name, ok := r.keys.ParseServiceMetaKey(key)
	if !ok {
		return catalog.NewError(catalog.InvalidArgument, "key is not a service-meta key", key)
	}
	ns = normalizeNamespace(ns)
	return r.removeService(ns, name)
}

func (r *Registry) removeService(namespaceID, name string) error {
	svc, ok := r.GetService(namespaceID, name)
	if !ok {
		return nil
	}
	svc.Destroy()

	ephemeralKey := r.keys.InstanceListKey(namespaceID, name, true)
	persistentKey := r.keys.InstanceListKey(namespaceID, name, false)
	if err := r.consistency.Remove(ephemeralKey); err != nil {
		return catalog.NewError(catalog.ConsistencyFailure, "failed to remove ephemeral instance list", err.Error())
	}
	if err := r.consistency.Remove(persistentKey); err != nil {
		return catalog.NewError(catalog.ConsistencyFailure, "failed to remove persistent instance list", err.Error())
	}

	if listener, ok := r.takeServiceListener(namespaceID, name); ok {
		_ = r.consistency.Unlisten(ephemeralKey, listener)
		_ = r.consistency.Unlisten(persistentKey, listener)
	}
	// The service-meta listener is global (registered once in Registry.New
	// against the meta-key prefix) and stays registered across this
	// service's removal, so peers' future re-registrations are still
	// observed.

	r.mu.Lock()
	if ns, ok := r.namespaces[namespaceID]; ok {
		delete(ns, name)
		if len(ns) == 0 {
			delete(r.namespaces, namespaceID)
		}
	}
	r.mu.Unlock()
	return nil
}

// EasyRemoveService is the EmptyReaper's entry point (spec.md §4.6): it
// removes the service by deleting its service-meta key; the eventual
// onDelete this triggers performs the actual teardown via
// RemoveServiceByMetaKey.
func (r *Registry) EasyRemoveService(namespaceID, name string) error {
	metaKey := r.keys.ServiceMetaKey(namespaceID, name)
	if err := r.consistency.Remove(metaKey); err != nil {
		return catalog.NewError(catalog.ConsistencyFailure, "failed to remove service metadata", err.Error())
	}
	return nil
}
