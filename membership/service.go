package membership

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/distroreg/registry/pkg/errwrap"
	"github.com/distroreg/registry/pkg/logging"
)

const module = "MEMBERSHIP"

// ServiceConfig configures a membership Service.
type ServiceConfig struct {
	Self            Member
	Backend         Backend
	HeartbeatPeriod time.Duration
}

// Service is the default Membership + Registrator implementation: a thin
// dispatcher in front of a Backend, consuming its Watch channel for
// join/leave events and
// periodically re-announcing Self so that a crashed-and-restarted backend
// (or a lease-based one like etcd) observes continued liveness.
type Service struct {
	self            Member
	backend         Backend
	heartbeatPeriod time.Duration
	logger          *logrus.Entry

	mu        sync.RWMutex
	members   map[MemberID]Member
	listeners []Listener

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a membership Service. Call Join to start participating.
func NewService(conf ServiceConfig) *Service {
	period := conf.HeartbeatPeriod
	if period <= 0 {
		period = 10 * time.Second
	}
	return &Service{
		self:            conf.Self,
		backend:         conf.Backend,
		heartbeatPeriod: period,
		logger:          logging.GetLogger(module),
		members:         make(map[MemberID]Member),
		done:            make(chan struct{}),
	}
}

// Self returns this process's own member record.
func (s *Service) Self() Member {
	return s.self
}

// Join registers self with the backend and starts watching for peer changes.
func (s *Service) Join() error {
	if err := s.backend.WriteMember(s.self); err != nil {
		return errwrap.Wrap(err, "failed to write self into membership backend")
	}

	initial, err := s.backend.ReadMembers()
	if err != nil {
		return errwrap.Wrap(err, "failed to read initial membership")
	}
	s.mu.Lock()
	s.members = initial
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	events, err := s.backend.Watch(ctx)
	if err != nil {
		cancel()
		return errwrap.Wrap(err, "failed to watch membership backend")
	}

	go s.dispatch(events)
	go s.heartbeat(ctx)

	s.logger.Infof("joined cluster as %s", s.self)
	return nil
}

// Leave removes self from the backend and stops background goroutines.
func (s *Service) Leave() error {
	if s.cancel != nil {
		s.cancel()
	}
	close(s.done)
	return s.backend.RemoveMember(s.self.ID())
}

// Members returns a snapshot of the currently known cluster membership.
func (s *Service) Members() map[MemberID]Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[MemberID]Member, len(s.members))
	for id, m := range s.members {
		out[id] = m
	}
	return out
}

// RegisterListener subscribes l to future join/leave events.
func (s *Service) RegisterListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// DeregisterListener unsubscribes l.
func (s *Service) DeregisterListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.listeners {
		if existing == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *Service) dispatch(events <-chan Event) {
	for ev := range events {
		s.mu.Lock()
		switch ev.Type {
		case EventJoin:
			s.members[ev.Member.ID()] = ev.Member
		case EventLeave:
			delete(s.members, ev.Member.ID())
		}
		listeners := append([]Listener(nil), s.listeners...)
		s.mu.Unlock()

		for _, l := range listeners {
			switch ev.Type {
			case EventJoin:
				l.OnJoin(ev.Member)
			case EventLeave:
				l.OnLeave(ev.Member)
			}
		}
	}
}

func (s *Service) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.backend.WriteMember(s.self); err != nil {
				s.logger.WithError(err).Warn("failed to refresh self membership entry")
			}
		}
	}
}
