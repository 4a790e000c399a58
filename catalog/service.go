package catalog

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultProtectThreshold is the ratio of healthy-to-total instances
	// at or below which callers should serve the whole instance set as "acting
	// healthy" rather than starving on a too-small healthy subset.
	DefaultProtectThreshold = 0.0

	// DefaultIPDeleteTimeout is how long an ephemeral instance may go
	// without a heartbeat before it is considered dead, per spec §3.
	DefaultIPDeleteTimeout = 30 * time.Second
)

// Push is the external change-notification collaborator (spec §6). It is
// declared here, where it is used, so that the push package can implement it
// against *Service without catalog importing push.
type Push interface {
	ServiceChanged(s *Service)
}

// HealthScheduler is the external collaborator responsible for ephemeral
// heartbeat timeouts and persistent health checks (spec §6). Its internal
// scheduling policy is out of scope for this core.
type HealthScheduler interface {
	ScheduleCheck(s *Service)
	CancelCheck(s *Service)
}

// Service is the aggregate root for one (namespace, group@@name) pair. See
// spec §3 and §4.3.
type Service struct {
	NamespaceID      string
	Name             string // group@@name
	GroupName        string
	ProtectThreshold float64
	Metadata         map[string]string
	Owners           []string
	Token            string
	Selector         string
	Enabled          bool
	ResetWeight      bool
	IPDeleteTimeout  time.Duration

	lastModifiedMillis int64
	checksum            string
	finalizeCount       int

	push            Push
	healthScheduler HealthScheduler

	mu         sync.RWMutex
	clusterMap map[string]*Cluster
}

// NewService creates a Service with defaults matching
// Registry.createEmptyServiceIfAbsent (spec §4.1).
func NewService(namespaceID, name, groupName string, push Push, hs HealthScheduler) *Service {
	return &Service{
		NamespaceID:        namespaceID,
		Name:               name,
		GroupName:          groupName,
		ProtectThreshold:   DefaultProtectThreshold,
		Metadata:           map[string]string{},
		Enabled:            true,
		IPDeleteTimeout:    DefaultIPDeleteTimeout,
		lastModifiedMillis: nowMillis(),
		push:               push,
		healthScheduler:    hs,
		clusterMap:         make(map[string]*Cluster),
	}
}

// LastModifiedMillis returns the last-modified timestamp.
func (s *Service) LastModifiedMillis() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastModifiedMillis
}

// Checksum returns the last computed checksum.
func (s *Service) Checksum() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checksum
}

// FinalizeCount returns the reaper's consecutive-empty-cycle counter.
func (s *Service) FinalizeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalizeCount
}

// AdvanceFinalizeCount increments the finalize counter and returns the new value.
func (s *Service) AdvanceFinalizeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizeCount++
	return s.finalizeCount
}

// ResetFinalizeCount sets the finalize counter back to zero.
func (s *Service) ResetFinalizeCount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizeCount = 0
}

// getOrCreateCluster returns the named cluster, creating it with default
// config if absent. Callers must not hold s.mu.
func (s *Service) getOrCreateCluster(name string) *Cluster {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateClusterLocked(name)
}

func (s *Service) getOrCreateClusterLocked(name string) *Cluster {
	c, ok := s.clusterMap[name]
	if !ok {
		c = NewCluster(name, s)
		s.clusterMap[name] = c
	}
	return c
}

// EnsureCluster creates the named cluster with no instances if it does not
// already exist, used to seed a service's cluster map from a caller-supplied
// initial cluster name at creation time.
func (s *Service) EnsureCluster(name string) {
	if name == "" {
		return
	}
	s.getOrCreateCluster(name)
}

// Cluster returns the named cluster and whether it exists.
func (s *Service) Cluster(name string) (*Cluster, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clusterMap[name]
	return c, ok
}

// Clusters returns a snapshot of all clusters.
func (s *Service) Clusters() []*Cluster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Cluster, 0, len(s.clusterMap))
	for _, c := range s.clusterMap {
		out = append(out, c)
	}
	return out
}

// AllIPs returns the disjoint union of instances across all clusters (spec §3 invariant).
func (s *Service) AllIPs() []*Instance {
	s.mu.RLock()
	clusters := make([]*Cluster, 0, len(s.clusterMap))
	for _, c := range s.clusterMap {
		clusters = append(clusters, c)
	}
	s.mu.RUnlock()

	out := make([]*Instance, 0)
	for _, c := range clusters {
		out = append(out, c.AllIPs()...)
	}
	return out
}

// Instances returns the disjoint union of the given plane's instances across
// all clusters of the service, per spec §4.2's whole-service reconciliation
// scope (as opposed to Cluster.Instances, which is scoped to one cluster).
func (s *Service) Instances(ephemeral bool) []*Instance {
	s.mu.RLock()
	clusters := make([]*Cluster, 0, len(s.clusterMap))
	for _, c := range s.clusterMap {
		clusters = append(clusters, c)
	}
	s.mu.RUnlock()

	out := make([]*Instance, 0)
	for _, c := range clusters {
		out = append(out, c.Instances(ephemeral)...)
	}
	return out
}

// IsEmpty reports whether the service has no instances in any cluster.
func (s *Service) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clusterMap {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}

// GetInstance looks up an instance by ipAddr across all clusters.
func (s *Service) GetInstance(ipAddr string) (*Instance, bool) {
	s.mu.RLock()
	clusters := make([]*Cluster, 0, len(s.clusterMap))
	for _, c := range s.clusterMap {
		clusters = append(clusters, c)
	}
	s.mu.RUnlock()

	for _, c := range clusters {
		if inst, ok := c.Instance(ipAddr); ok {
			return inst, true
		}
	}
	return nil, false
}

// OnChange absorbs an instance-list change delivered by Consistency (spec
// §4.3): clamp weights, partition by cluster, install, recompute checksum,
// notify Push.
func (s *Service) OnChange(ephemeral bool, instances []*Instance) error {
	for _, inst := range instances {
		if inst == nil {
			return NewError(Fatal, "onChange delivered a nil instance", s.Name)
		}
	}

	for _, inst := range instances {
		inst.Weight = ClampWeight(inst.Weight)
	}

	s.updateIPs(instances, ephemeral)
	s.RecalculateChecksum()

	if s.push != nil {
		s.push.ServiceChanged(s)
	}
	return nil
}

func (s *Service) updateIPs(instances []*Instance, ephemeral bool) {
	byCluster := make(map[string][]*Instance)
	for _, inst := range instances {
		byCluster[inst.ClusterName] = append(byCluster[inst.ClusterName], inst)
	}

	s.mu.Lock()
	touched := make(map[string]*Cluster, len(byCluster))
	for name := range byCluster {
		touched[name] = s.getOrCreateClusterLocked(name)
	}
	// Clusters that exist but received no instances this round still need
	// their plane cleared, mirroring a full-replace semantics per plane.
	for name, c := range s.clusterMap {
		if _, ok := touched[name]; !ok {
			touched[name] = c
		}
	}
	s.lastModifiedMillis = nowMillis()
	s.mu.Unlock()

	for name, c := range touched {
		c.UpdateIPs(byCluster[name], ephemeral)
	}
}

// Update applies the mutable top-level fields and cluster-set diff from
// other, per spec §4.3's update(other).
func (s *Service) Update(other *Service) {
	s.mu.Lock()
	s.Token = other.Token
	s.Owners = other.Owners
	s.ProtectThreshold = other.ProtectThreshold
	s.ResetWeight = other.ResetWeight
	s.Enabled = other.Enabled
	s.Selector = other.Selector
	s.Metadata = other.Metadata

	otherClusters := other.snapshotClusterNames()
	for name := range otherClusters {
		if _, exists := s.clusterMap[name]; !exists {
			s.clusterMap[name] = NewCluster(name, s)
		}
	}
	for name := range s.clusterMap {
		if _, exists := otherClusters[name]; !exists {
			delete(s.clusterMap, name)
		}
	}
	s.mu.Unlock()

	s.RecalculateChecksum()
}

func (s *Service) snapshotClusterNames() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.clusterMap))
	for name := range s.clusterMap {
		out[name] = struct{}{}
	}
	return out
}

// RecalculateChecksum recomputes the MD5 checksum over the canonical
// serialization of the service header and the sorted instance list, per spec
// §4.3's invariant: checksum depends only on instance identity/weight/health/
// cluster and the header fields in serviceString.
func (s *Service) RecalculateChecksum() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	header := s.serviceStringLocked()

	lines := make([]string, 0)
	for _, c := range s.clusterMap {
		for _, inst := range c.AllIPs() {
			lines = append(lines, inst.String())
		}
	}
	sort.Strings(lines)

	h := md5.New()
	h.Write([]byte(header))
	for _, line := range lines {
		h.Write([]byte(line))
	}
	s.checksum = hex.EncodeToString(h.Sum(nil))
	return s.checksum
}

func (s *Service) serviceStringLocked() string {
	return fmt.Sprintf("%s%s%s%v%v%v", s.NamespaceID, s.Name, s.GroupName, s.ProtectThreshold, s.Enabled, s.Selector)
}

// TriggerFlag reports whether the ratio of healthy to total instances has
// fallen to or below ProtectThreshold, per spec §4.3.
func (s *Service) TriggerFlag() bool {
	all := s.AllIPs()
	if len(all) == 0 {
		return false
	}
	healthy := 0
	for _, inst := range all {
		if inst.Healthy {
			healthy++
		}
	}
	ratio := float64(healthy) / float64(len(all))
	return ratio <= s.ProtectThreshold
}

// Init registers the service's instance-level heartbeat timeouts and
// cluster-level persistent health checks with the HealthScheduler.
func (s *Service) Init() {
	if s.healthScheduler != nil {
		s.healthScheduler.ScheduleCheck(s)
	}
}

// Destroy deregisters the service's health-scheduler registrations.
func (s *Service) Destroy() {
	if s.healthScheduler != nil {
		s.healthScheduler.CancelCheck(s)
	}
}

// Key returns the canonical "namespace/group@@name" identity string, useful
// for logging.
func (s *Service) Key() string {
	return strings.Join([]string{s.NamespaceID, s.Name}, "/")
}

// ReconcileHealthy overwrites the healthy flag of the instance at ipAddr, if
// one exists in any cluster and its value actually differs, and reports
// whether a change was made. Used by the anti-entropy pull worker (spec
// §4.6), which converges only the healthy flag across peers.
func (s *Service) ReconcileHealthy(ipAddr string, healthy bool) bool {
	s.mu.RLock()
	clusters := make([]*Cluster, 0, len(s.clusterMap))
	for _, c := range s.clusterMap {
		clusters = append(clusters, c)
	}
	s.mu.RUnlock()

	for _, c := range clusters {
		if c.SetHealthy(ipAddr, healthy) {
			return true
		}
		if _, ok := c.Instance(ipAddr); ok {
			return false
		}
	}
	return false
}

// RemoveExpiredInstance deletes the ephemeral instance at ipAddr from
// whichever cluster holds it, per spec §3's rule that an ephemeral instance
// is removed, not merely marked unhealthy, once its lastBeat is older than
// IPDeleteTimeout. Reports whether a removal occurred.
func (s *Service) RemoveExpiredInstance(ipAddr string) bool {
	s.mu.RLock()
	clusters := make([]*Cluster, 0, len(s.clusterMap))
	for _, c := range s.clusterMap {
		clusters = append(clusters, c)
	}
	s.mu.RUnlock()

	for _, c := range clusters {
		if c.RemoveInstance(ipAddr, true) {
			return true
		}
	}
	return false
}

// Touch recomputes the checksum and notifies Push. Callers that mutate
// instance health out-of-band from OnChange — the heartbeat-timeout sweep,
// the anti-entropy pull worker — call this afterward so the checksum and
// downstream push notification stay in sync with the local state they just
// changed.
func (s *Service) Touch() {
	s.RecalculateChecksum()
	if s.push != nil {
		s.push.ServiceChanged(s)
	}
}
