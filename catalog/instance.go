package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	minWeight        = 0.0
	maxWeight        = 10000.0
	weightLowerShelf = 0.01

	localSite = "localhost"
)

// InstanceIDMode selects how AddInstance mints new instance IDs.
type InstanceIDMode int

// Supported instance-id modes.
const (
	// CompositeIDMode derives the id deterministically from ip#port#cluster#service.
	CompositeIDMode InstanceIDMode = iota
	// SnowflakeIDMode assigns the smallest non-negative integer not already in use.
	SnowflakeIDMode
)

// Instance is a single endpoint registration under a cluster. See spec §3.
type Instance struct {
	InstanceID  string
	IP          string
	Port        int
	ClusterName string
	ServiceName string
	Weight      float64
	Healthy     bool
	Marked      bool
	Ephemeral   bool
	Enabled     bool
	Metadata    map[string]string
	LastBeat    int64 // monotonic milliseconds
}

// NewInstance creates an Instance with weight defaulted to 1 and Enabled true,
// matching the defaults used by the source registration path.
func NewInstance(ip string, port int, clusterName, serviceName string, ephemeral bool) *Instance {
	return &Instance{
		IP:          ip,
		Port:        port,
		ClusterName: clusterName,
		ServiceName: serviceName,
		Weight:      1,
		Healthy:     true,
		Enabled:     true,
		Ephemeral:   ephemeral,
		Metadata:    map[string]string{},
		LastBeat:    nowMillis(),
	}
}

func nowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// ClampWeight clamps w into [0, 10000], with positive values below 0.01
// raised to 0.01 and negative values clamped to 0, per spec §3.
func ClampWeight(w float64) float64 {
	if w < minWeight {
		return 0
	}
	if w > maxWeight {
		return maxWeight
	}
	if w > 0 && w < weightLowerShelf {
		return weightLowerShelf
	}
	return w
}

// IPAddr returns the "ip:port" identity used for within-cluster uniqueness.
func (i *Instance) IPAddr() string {
	return fmt.Sprintf("%s:%d", i.IP, i.Port)
}

// DatumKey returns the key used to dedupe within a merged instance list:
// identity is (ip, port, ephemeral). Unlike Equal, a zero port is not a
// wildcard here; it only matches another zero port.
func (i *Instance) DatumKey() string {
	return fmt.Sprintf("%s:%d:%v", i.IP, i.Port, i.Ephemeral)
}

// InstanceKey returns the "ip:port:site:cluster" identifier used for peer
// transport, with site fixed to "localhost" for in-table instances.
func (i *Instance) InstanceKey() string {
	return fmt.Sprintf("%s:%d:%s:%s", i.IP, i.Port, localSite, i.ClusterName)
}

// Equal implements the identity rule from spec §3: ip equal, port equal or
// either zero, and ephemeral equal.
func (i *Instance) Equal(other *Instance) bool {
	if other == nil {
		return false
	}
	portMatch := i.Port == other.Port || i.Port == 0 || other.Port == 0
	return i.IP == other.IP && portMatch && i.Ephemeral == other.Ephemeral
}

// Clone returns a deep copy of the instance.
func (i *Instance) Clone() *Instance {
	cloned := *i
	if i.Metadata != nil {
		cloned.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			cloned.Metadata[k] = v
		}
	}
	return &cloned
}

// String renders the canonical "ip:port_weight_healthy_cluster" form used by
// recalculateChecksum's sorted instance list, per spec §4.3.
func (i *Instance) String() string {
	return fmt.Sprintf("%s:%d_%v_%v_%s", i.IP, i.Port, i.Weight, i.Healthy, i.ClusterName)
}

// Encode renders the peer-transport form:
// "ip:port_weight[_healthy[_marked]][_cluster]", per spec §3.
func (i *Instance) Encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d_%s", i.IP, i.Port, formatWeight(i.Weight))
	if !i.Ephemeral {
		fmt.Fprintf(&b, "_%v_%v", i.Healthy, i.Marked)
	} else {
		fmt.Fprintf(&b, "_%v", i.Healthy)
	}
	if i.ClusterName != "" {
		fmt.Fprintf(&b, "_%s", i.ClusterName)
	}
	return b.String()
}

func formatWeight(w float64) string {
	return strconv.FormatFloat(w, 'f', -1, 64)
}

// DecodeInstance parses the peer-transport encoding produced by Encode,
// reconstructing ip, port, weight, healthy, and (for persistent instances)
// marked, plus an optional trailing cluster name.
func DecodeInstance(s string, ephemeral bool) (*Instance, error) {
	ipPort, rest, ok := strings.Cut(s, "_")
	if !ok {
		return nil, NewError(InvalidArgument, "malformed instance encoding", s)
	}
	ip, portStr, ok := strings.Cut(ipPort, ":")
	if !ok {
		return nil, NewError(InvalidArgument, "malformed instance endpoint", ipPort)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, NewError(InvalidArgument, "malformed instance port", portStr)
	}

	fields := strings.Split(rest, "_")
	if len(fields) == 0 {
		return nil, NewError(InvalidArgument, "malformed instance encoding", s)
	}

	weight, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil, NewError(InvalidArgument, "malformed instance weight", fields[0])
	}

	inst := &Instance{
		IP:        ip,
		Port:      port,
		Weight:    ClampWeight(weight),
		Healthy:   true,
		Enabled:   true,
		Ephemeral: ephemeral,
	}

	idx := 1
	if idx < len(fields) && (fields[idx] == "true" || fields[idx] == "false") {
		inst.Healthy = fields[idx] == "true"
		idx++
	}
	if !ephemeral && idx < len(fields) && (fields[idx] == "true" || fields[idx] == "false") {
		inst.Marked = fields[idx] == "true"
		idx++
	}
	if idx < len(fields) {
		inst.ClusterName = strings.Join(fields[idx:], "_")
	}
	return inst, nil
}

// compositeInstanceID builds the default, non-snowflake instance id.
func compositeInstanceID(ip string, port int, clusterName, serviceName string) string {
	return fmt.Sprintf("%s#%d#%s#%s", ip, port, clusterName, serviceName)
}
