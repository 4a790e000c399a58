// Package healthscheduler implements the ephemeral heartbeat-timeout
// sweeper. It has no entry point for refreshing an instance's heartbeat on
// inbound client traffic. Persistent-instance active health
// checking (TCP/HTTP probing per cluster) is out of scope for this core
// (spec.md §6 treats HealthScheduler as an external collaborator); this
// package only implements the piece catalog.Service actually calls through
// the HealthScheduler contract: scheduling and cancelling the ephemeral
// timeout sweep for a service's instances.
package healthscheduler

import (
	"sync"
	"time"

	"github.com/distroreg/registry/catalog"
	"github.com/distroreg/registry/pkg/logging"
)

const module = "HEALTH"

// Scheduler runs one timeout sweep per registered service, marking ephemeral
// instances unhealthy when they have not beaten within Timeout.
type Scheduler struct {
	interval time.Duration
	timeout  time.Duration
	logger   interface {
		Infof(format string, args ...interface{})
	}

	mu    sync.Mutex
	tasks map[string]chan struct{} // service key -> stop channel
}

// NewScheduler creates a Scheduler sweeping at interval and expiring
// instances whose LastBeat is older than timeout.
func NewScheduler(interval, timeout time.Duration) *Scheduler {
	return &Scheduler{
		interval: interval,
		timeout:  timeout,
		logger:   logging.GetLogger(module),
		tasks:    make(map[string]chan struct{}),
	}
}

// ScheduleCheck starts a sweep goroutine for s, implementing catalog.HealthScheduler.
func (sched *Scheduler) ScheduleCheck(s *catalog.Service) {
	sched.mu.Lock()
	defer sched.mu.Unlock()

	if _, exists := sched.tasks[s.Key()]; exists {
		return
	}
	stop := make(chan struct{})
	sched.tasks[s.Key()] = stop
	go sched.sweep(s, stop)
}

// CancelCheck stops s's sweep goroutine, implementing catalog.HealthScheduler.
func (sched *Scheduler) CancelCheck(s *catalog.Service) {
	sched.mu.Lock()
	defer sched.mu.Unlock()

	if stop, exists := sched.tasks[s.Key()]; exists {
		close(stop)
		delete(sched.tasks, s.Key())
	}
}

func (sched *Scheduler) sweep(s *catalog.Service, stop chan struct{}) {
	ticker := time.NewTicker(sched.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sched.expireStale(s)
		}
	}
}

func (sched *Scheduler) expireStale(s *catalog.Service) {
	now := time.Now()
	unhealthyDeadline := now.Add(-sched.timeout).UnixNano() / int64(time.Millisecond)
	deleteDeadline := now.Add(-s.IPDeleteTimeout).UnixNano() / int64(time.Millisecond)

	changed := false
	for _, inst := range s.AllIPs() {
		if !inst.Ephemeral {
			continue
		}

		// Removal takes priority over the unhealthy flip: once an instance
		// has gone silent past IPDeleteTimeout it is dropped from the
		// instance set entirely, per spec §3, rather than left around marked
		// unhealthy.
		if inst.LastBeat < deleteDeadline {
			if s.RemoveExpiredInstance(inst.IPAddr()) {
				changed = true
				sched.logger.Infof("ephemeral instance %s for service %s removed after exceeding ip delete timeout", inst.IPAddr(), s.Key())
			}
			continue
		}

		if !inst.Healthy {
			continue
		}
		if inst.LastBeat < unhealthyDeadline {
			// Route through ReconcileHealthy rather than writing inst.Healthy
			// directly: Instance has no mutex of its own, and Cluster.SetHealthy
			// (used concurrently by the anti-entropy pull worker) mutates the
			// same field under the cluster lock.
			if s.ReconcileHealthy(inst.IPAddr(), false) {
				changed = true
				sched.logger.Infof("ephemeral instance %s for service %s timed out", inst.IPAddr(), s.Key())
			}
		}
	}
	if changed {
		s.Touch()
	}
}
