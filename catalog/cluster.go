package catalog

import "sync"

// ClusterHealthCheckConfig holds the per-cluster persistent health-check
// configuration handed to HealthScheduler on Service.init(). The scheduler's
// internal check policy is out of scope for this core; only the config it
// needs is owned here.
type ClusterHealthCheckConfig struct {
	Type           string
	IntervalMillis int64
	TimeoutMillis  int64
}

// DefaultClusterHealthCheckConfig is installed on clusters created lazily on
// first instance registration.
var DefaultClusterHealthCheckConfig = ClusterHealthCheckConfig{
	Type:           "TCP",
	IntervalMillis: 5000,
	TimeoutMillis:  3000,
}

// Cluster owns an instance set within a Service, keyed by cluster name.
// Ephemeral and persistent instances live in disjoint sets, fixed at birth by
// the caller's ephemeral flag; ipAddr is unique within each set. See spec §3.
type Cluster struct {
	Name    string
	service *Service

	healthCheck ClusterHealthCheckConfig

	mu                 sync.RWMutex
	ephemeralInstances  map[string]*Instance
	persistentInstances map[string]*Instance
}

// NewCluster creates an empty cluster with the default health-check config.
func NewCluster(name string, service *Service) *Cluster {
	return &Cluster{
		Name:                name,
		service:             service,
		healthCheck:         DefaultClusterHealthCheckConfig,
		ephemeralInstances:  make(map[string]*Instance),
		persistentInstances: make(map[string]*Instance),
	}
}

func (c *Cluster) plane(ephemeral bool) map[string]*Instance {
	if ephemeral {
		return c.ephemeralInstances
	}
	return c.persistentInstances
}

// UpdateIPs installs instances as the new instance set for the given plane,
// replacing whatever was there before. Called from Service.updateIPs when an
// onChange event is absorbed.
func (c *Cluster) UpdateIPs(instances []*Instance, ephemeral bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[string]*Instance, len(instances))
	for _, inst := range instances {
		next[inst.IPAddr()] = inst
	}
	if ephemeral {
		c.ephemeralInstances = next
	} else {
		c.persistentInstances = next
	}
}

// AllIPs returns every instance in the cluster across both planes.
func (c *Cluster) AllIPs() []*Instance {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Instance, 0, len(c.ephemeralInstances)+len(c.persistentInstances))
	for _, inst := range c.ephemeralInstances {
		out = append(out, inst)
	}
	for _, inst := range c.persistentInstances {
		out = append(out, inst)
	}
	return out
}

// Instances returns the instance set for the given plane.
func (c *Cluster) Instances(ephemeral bool) []*Instance {
	c.mu.RLock()
	defer c.mu.RUnlock()

	plane := c.plane(ephemeral)
	out := make([]*Instance, 0, len(plane))
	for _, inst := range plane {
		out = append(out, inst)
	}
	return out
}

// Instance looks up an instance by ipAddr, searching both planes.
func (c *Cluster) Instance(ipAddr string) (*Instance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if inst, ok := c.ephemeralInstances[ipAddr]; ok {
		return inst, true
	}
	inst, ok := c.persistentInstances[ipAddr]
	return inst, ok
}

// SetHealthy overwrites the healthy flag for the instance at ipAddr, if
// present. Used by the anti-entropy pull worker (spec §4.6). Returns whether
// an instance was found and its value changed.
func (c *Cluster) SetHealthy(ipAddr string, healthy bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if inst, ok := c.ephemeralInstances[ipAddr]; ok {
		if inst.Healthy == healthy {
			return false
		}
		inst.Healthy = healthy
		return true
	}
	if inst, ok := c.persistentInstances[ipAddr]; ok {
		if inst.Healthy == healthy {
			return false
		}
		inst.Healthy = healthy
		return true
	}
	return false
}

// RemoveInstance deletes the instance at ipAddr from the given plane, if
// present, and reports whether a removal occurred.
func (c *Cluster) RemoveInstance(ipAddr string, ephemeral bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	plane := c.plane(ephemeral)
	if _, ok := plane[ipAddr]; !ok {
		return false
	}
	delete(plane, ipAddr)
	return true
}

// IsEmpty reports whether the cluster holds no instances on either plane.
func (c *Cluster) IsEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ephemeralInstances) == 0 && len(c.persistentInstances) == 0
}
