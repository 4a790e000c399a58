package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingPush struct {
	calls int
}

func (p *recordingPush) ServiceChanged(s *Service) {
	p.calls++
}

type recordingScheduler struct {
	scheduled int
	cancelled int
}

func (h *recordingScheduler) ScheduleCheck(s *Service) { h.scheduled++ }
func (h *recordingScheduler) CancelCheck(s *Service)   { h.cancelled++ }

func TestServiceOnChangeNotifiesPush(t *testing.T) {
	push := &recordingPush{}
	svc := NewService("public", "DEFAULT_GROUP@@svc", "DEFAULT_GROUP", push, nil)

	inst := NewInstance("10.0.0.1", 8080, "DEFAULT", svc.Name, true)
	err := svc.OnChange(true, []*Instance{inst})

	assert.NoError(t, err)
	assert.Equal(t, 1, push.calls)
	assert.Len(t, svc.AllIPs(), 1)
	assert.NotEmpty(t, svc.Checksum())
}

func TestServiceOnChangeRejectsNilInstance(t *testing.T) {
	svc := NewService("public", "svc", "DEFAULT_GROUP", nil, nil)
	err := svc.OnChange(true, []*Instance{nil})
	assert.Error(t, err)
}

func TestServiceOnChangeClampsWeight(t *testing.T) {
	svc := NewService("public", "svc", "DEFAULT_GROUP", nil, nil)
	inst := NewInstance("10.0.0.1", 8080, "DEFAULT", svc.Name, true)
	inst.Weight = -1

	assert.NoError(t, svc.OnChange(true, []*Instance{inst}))

	got, ok := svc.GetInstance("10.0.0.1:8080")
	assert.True(t, ok)
	assert.Equal(t, float64(0), got.Weight)
}

func TestServiceChecksumStableAcrossEquivalentInput(t *testing.T) {
	svc := NewService("public", "svc", "DEFAULT_GROUP", nil, nil)
	inst := NewInstance("10.0.0.1", 8080, "DEFAULT", svc.Name, true)

	assert.NoError(t, svc.OnChange(true, []*Instance{inst.Clone()}))
	first := svc.Checksum()

	assert.NoError(t, svc.OnChange(true, []*Instance{inst.Clone()}))
	second := svc.Checksum()

	assert.Equal(t, first, second, "checksum is a pure function of the current instance set")
}

func TestServiceChecksumChangesOnHealthFlip(t *testing.T) {
	svc := NewService("public", "svc", "DEFAULT_GROUP", nil, nil)
	inst := NewInstance("10.0.0.1", 8080, "DEFAULT", svc.Name, true)
	assert.NoError(t, svc.OnChange(true, []*Instance{inst}))
	before := svc.Checksum()

	flipped := inst.Clone()
	flipped.Healthy = false
	assert.NoError(t, svc.OnChange(true, []*Instance{flipped}))
	after := svc.Checksum()

	assert.NotEqual(t, before, after)
}

func TestServiceTriggerFlag(t *testing.T) {
	svc := NewService("public", "svc", "DEFAULT_GROUP", nil, nil)
	svc.ProtectThreshold = 0.5

	healthy := NewInstance("10.0.0.1", 8080, "DEFAULT", svc.Name, true)
	unhealthy := NewInstance("10.0.0.2", 8080, "DEFAULT", svc.Name, true)
	unhealthy.Healthy = false

	assert.NoError(t, svc.OnChange(true, []*Instance{healthy, unhealthy}))
	assert.True(t, svc.TriggerFlag(), "half healthy at a 0.5 threshold should trigger protection")
}

func TestServiceInitAndDestroyDelegateToScheduler(t *testing.T) {
	sched := &recordingScheduler{}
	svc := NewService("public", "svc", "DEFAULT_GROUP", nil, sched)

	svc.Init()
	svc.Destroy()

	assert.Equal(t, 1, sched.scheduled)
	assert.Equal(t, 1, sched.cancelled)
}

func TestServiceUpdateReplacesClusterSet(t *testing.T) {
	svc := NewService("public", "svc", "DEFAULT_GROUP", nil, nil)
	svc.getOrCreateCluster("OLD")

	other := NewService("public", "svc", "DEFAULT_GROUP", nil, nil)
	other.getOrCreateCluster("NEW")
	other.Token = "tok"

	svc.Update(other)

	_, hasOld := svc.Cluster("OLD")
	_, hasNew := svc.Cluster("NEW")
	assert.False(t, hasOld)
	assert.True(t, hasNew)
	assert.Equal(t, "tok", svc.Token)
}
