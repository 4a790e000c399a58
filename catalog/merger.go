package catalog

import (
	"sort"
	"strconv"
)

// Action distinguishes an instance-list delta's intent, per spec §4.2.
type Action int

// Merge actions.
const (
	ActionRegister Action = iota
	ActionDeregister
	ActionUpdate
)

// InstanceMerger implements the six-step merge used by AddInstance and
// RemoveInstance (spec §4.2): given the existing plane contents, apply the
// delta by DatumKey, clamp weights, mint ids for newly-registered instances,
// and return the new plane contents together with the instances that
// actually changed. Publishing the result is left to the caller.
type InstanceMerger struct {
	idMode InstanceIDMode
}

// NewInstanceMerger creates a merger using the given instance-id minting mode.
func NewInstanceMerger(mode InstanceIDMode) *InstanceMerger {
	return &InstanceMerger{idMode: mode}
}

// ReconcileRemote implements merge step 3: for each instance in remote, if a
// local instance shares its ipAddr, the remote clone keeps remote's identity
// but adopts local's Healthy and LastBeat — the remote snapshot wins on
// identity, local health/beat survives a round-trip through Consistency.
func ReconcileRemote(remote, local []*Instance) []*Instance {
	byIPAddr := make(map[string]*Instance, len(local))
	for _, inst := range local {
		byIPAddr[inst.IPAddr()] = inst
	}

	out := make([]*Instance, 0, len(remote))
	for _, r := range remote {
		clone := r.Clone()
		if loc, ok := byIPAddr[clone.IPAddr()]; ok {
			clone.Healthy = loc.Healthy
			clone.LastBeat = loc.LastBeat
		}
		out = append(out, clone)
	}
	return out
}

// Merge applies delta against existing (the current contents of one plane,
// across every cluster of the service), returning the new plane contents. It never mutates existing or
// delta in place; callers receive clones.
//
// Step order:
//  1. index existing by DatumKey
//  2. for each delta instance, clamp its weight
//  3. register/update: upsert by DatumKey, minting an InstanceID if new
//  4. deregister: remove by DatumKey
//  5. collect the result as a slice
//  6. return it alongside the subset that is new-or-changed
//
// An ActionRegister that leaves the result empty is rejected with
// InvalidArgument, per spec §4.2 step 5.
func (m *InstanceMerger) Merge(existing []*Instance, action Action, delta []*Instance) (merged []*Instance, changed []*Instance, err error) {
	byKey := make(map[string]*Instance, len(existing))
	for _, inst := range existing {
		byKey[inst.DatumKey()] = inst
	}

	seen := usedSnowflakeIDs(existing)

	for _, d := range delta {
		clone := d.Clone()
		clone.Weight = ClampWeight(clone.Weight)
		key := clone.DatumKey()

		switch action {
		case ActionDeregister:
			if prior, ok := byKey[key]; ok {
				delete(byKey, key)
				changed = append(changed, prior)
			}
			continue
		case ActionRegister, ActionUpdate:
			prior, existed := byKey[key]
			clone.InstanceID = m.assignID(clone, existed, prior, seen)
			if existed && prior.Equal(clone) && prior.Weight == clone.Weight &&
				prior.Healthy == clone.Healthy && prior.Enabled == clone.Enabled {
				clone.InstanceID = prior.InstanceID
				byKey[key] = clone
				continue
			}
			byKey[key] = clone
			changed = append(changed, clone)
		}
	}

	merged = make([]*Instance, 0, len(byKey))
	for _, inst := range byKey {
		merged = append(merged, inst)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].IPAddr() < merged[j].IPAddr() })

	if action == ActionRegister && len(merged) == 0 {
		return nil, nil, NewError(InvalidArgument, "register produced an empty instance list", "")
	}
	return merged, changed, nil
}

func (m *InstanceMerger) assignID(candidate *Instance, existed bool, prior *Instance, seen map[int]struct{}) string {
	if existed {
		return prior.InstanceID
	}
	if m.idMode == SnowflakeIDMode {
		id := generateInstanceID(seen)
		seen[id] = struct{}{}
		return strconv.Itoa(id)
	}
	return compositeInstanceID(candidate.IP, candidate.Port, candidate.ClusterName, candidate.ServiceName)
}

// generateInstanceID returns the smallest non-negative integer not already
// present in seen, per spec §4.2 step 4 / testable property 7.
func generateInstanceID(seen map[int]struct{}) int {
	for id := 0; ; id++ {
		if _, taken := seen[id]; !taken {
			return id
		}
	}
}

func usedSnowflakeIDs(instances []*Instance) map[int]struct{} {
	out := make(map[int]struct{}, len(instances))
	for _, inst := range instances {
		if id, ok := parseSnowflake(inst.InstanceID); ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func parseSnowflake(id string) (int, bool) {
	if id == "" {
		return 0, false
	}
	n := 0
	for _, r := range id {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

