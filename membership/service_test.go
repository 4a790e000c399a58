package membership

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	joins  []Member
	leaves []Member
}

func (l *recordingListener) OnJoin(m Member)  { l.joins = append(l.joins, m) }
func (l *recordingListener) OnLeave(m Member) { l.leaves = append(l.leaves, m) }

func TestServiceJoinPopulatesMembers(t *testing.T) {
	backend := NewMemoryBackend()
	self := Member{MemberID: "a", MemberIP: "10.0.0.1", MemberPort: 9000}

	svc := NewService(ServiceConfig{Self: self, Backend: backend, HeartbeatPeriod: time.Hour})
	require.NoError(t, svc.Join())
	defer svc.Leave()

	members := svc.Members()
	assert.Contains(t, members, MemberID("a"))
}

func TestServiceDispatchesJoinToListeners(t *testing.T) {
	backend := NewMemoryBackend()
	self := Member{MemberID: "a", MemberIP: "10.0.0.1", MemberPort: 9000}

	svc := NewService(ServiceConfig{Self: self, Backend: backend, HeartbeatPeriod: time.Hour})
	require.NoError(t, svc.Join())
	defer svc.Leave()

	listener := &recordingListener{}
	svc.RegisterListener(listener)

	require.NoError(t, backend.WriteMember(Member{MemberID: "b", MemberIP: "10.0.0.2", MemberPort: 9000}))

	assert.Eventually(t, func() bool {
		return len(listener.joins) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServiceDeregisterListenerStopsDelivery(t *testing.T) {
	backend := NewMemoryBackend()
	self := Member{MemberID: "a", MemberIP: "10.0.0.1", MemberPort: 9000}

	svc := NewService(ServiceConfig{Self: self, Backend: backend, HeartbeatPeriod: time.Hour})
	require.NoError(t, svc.Join())
	defer svc.Leave()

	listener := &recordingListener{}
	svc.RegisterListener(listener)
	svc.DeregisterListener(listener)

	require.NoError(t, backend.WriteMember(Member{MemberID: "b", MemberIP: "10.0.0.2", MemberPort: 9000}))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, listener.joins)
}
