package registry

import (
	"encoding/json"

	"github.com/distroreg/registry/catalog"
)

// serviceMetaDTO is the JSON wire shape for a service-meta Consistency value,
// per spec.md §6's persisted-state layout.
type serviceMetaDTO struct {
	NamespaceID      string            `json:"namespaceId"`
	Name             string            `json:"name"`
	GroupName        string            `json:"groupName"`
	ProtectThreshold float64           `json:"protectThreshold"`
	Metadata         map[string]string `json:"metadata"`
	Owners           []string          `json:"owners"`
	Token            string            `json:"token"`
	Selector         string            `json:"selector"`
	Enabled          bool              `json:"enabled"`
	ResetWeight      bool              `json:"resetWeight"`
	Clusters         []string          `json:"clusters"`
}

// EncodeServiceMeta serializes svc's top-level fields and cluster-name set
// to the JSON form stored under its service-meta key.
func EncodeServiceMeta(svc *catalog.Service) ([]byte, error) {
	clusters := svc.Clusters()
	names := make([]string, 0, len(clusters))
	for _, c := range clusters {
		names = append(names, c.Name)
	}

	dto := serviceMetaDTO{
		NamespaceID:      svc.NamespaceID,
		Name:             svc.Name,
		GroupName:        svc.GroupName,
		ProtectThreshold: svc.ProtectThreshold,
		Metadata:         svc.Metadata,
		Owners:           svc.Owners,
		Token:            svc.Token,
		Selector:         svc.Selector,
		Enabled:          svc.Enabled,
		ResetWeight:      svc.ResetWeight,
		Clusters:         names,
	}
	return json.Marshal(dto)
}

// DecodeServiceMeta parses the JSON form produced by EncodeServiceMeta into a
// standalone Service value (not yet installed in any Registry), suitable for
// passing to Service.Update.
func DecodeServiceMeta(data []byte, push catalog.Push, health catalog.HealthScheduler) (*catalog.Service, error) {
	var dto serviceMetaDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, catalog.NewError(catalog.InvalidArgument, "malformed service metadata", err.Error())
	}

	svc := catalog.NewService(dto.NamespaceID, dto.Name, dto.GroupName, push, health)
	svc.ProtectThreshold = dto.ProtectThreshold
	svc.Metadata = dto.Metadata
	svc.Owners = dto.Owners
	svc.Token = dto.Token
	svc.Selector = dto.Selector
	svc.Enabled = dto.Enabled
	svc.ResetWeight = dto.ResetWeight
	for _, name := range dto.Clusters {
		svc.EnsureCluster(name)
	}
	return svc, nil
}

// instanceListDTO is the JSON wire shape for an instance-list Consistency
// value: Instances{instanceList: [Instance]}, per spec.md §6.
type instanceListDTO struct {
	InstanceList []instanceDTO `json:"instanceList"`
}

type instanceDTO struct {
	InstanceID  string            `json:"instanceId"`
	IP          string            `json:"ip"`
	Port        int               `json:"port"`
	ClusterName string            `json:"clusterName"`
	ServiceName string            `json:"serviceName"`
	Weight      float64           `json:"weight"`
	Healthy     bool              `json:"healthy"`
	Marked      bool              `json:"marked"`
	Ephemeral   bool              `json:"ephemeral"`
	Enabled     bool              `json:"enabled"`
	Metadata    map[string]string `json:"metadata"`
	LastBeat    int64             `json:"lastBeat"`
}

// EncodeInstanceList serializes instances to the JSON form stored under an
// instance-list key.
func EncodeInstanceList(instances []*catalog.Instance) ([]byte, error) {
	dto := instanceListDTO{InstanceList: make([]instanceDTO, 0, len(instances))}
	for _, inst := range instances {
		dto.InstanceList = append(dto.InstanceList, instanceDTO{
			InstanceID:  inst.InstanceID,
			IP:          inst.IP,
			Port:        inst.Port,
			ClusterName: inst.ClusterName,
			ServiceName: inst.ServiceName,
			Weight:      inst.Weight,
			Healthy:     inst.Healthy,
			Marked:      inst.Marked,
			Ephemeral:   inst.Ephemeral,
			Enabled:     inst.Enabled,
			Metadata:    inst.Metadata,
			LastBeat:    inst.LastBeat,
		})
	}
	return json.Marshal(dto)
}

// DecodeInstanceList parses the JSON form produced by EncodeInstanceList.
func DecodeInstanceList(data []byte) ([]*catalog.Instance, error) {
	var dto instanceListDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, catalog.NewError(catalog.InvalidArgument, "malformed instance list", err.Error())
	}

	out := make([]*catalog.Instance, 0, len(dto.InstanceList))
	for _, d := range dto.InstanceList {
		out = append(out, &catalog.Instance{
			InstanceID:  d.InstanceID,
			IP:          d.IP,
			Port:        d.Port,
			ClusterName: d.ClusterName,
			ServiceName: d.ServiceName,
			Weight:      d.Weight,
			Healthy:     d.Healthy,
			Marked:      d.Marked,
			Ephemeral:   d.Ephemeral,
			Enabled:     d.Enabled,
			Metadata:    d.Metadata,
			LastBeat:    d.LastBeat,
		})
	}
	return out, nil
}
