// Package antientropy implements the two cooperating workers spec.md §4.6
// describes: a periodic Reporter that broadcasts checksums for the services
// this peer owns, and a receive path + pull worker that reconciles healthy
// flags for services owned by other peers. Grounded on the teacher's
// bounded-deque-plus-worker-pool shape (registry/replication/server.go's
// broadcast/repair channels) via pkg/channels.ChannelTimeout, generalized
// from a fixed 512-capacity fan-out channel to the spec's offer-with-
// timeout-then-drop-oldest bounded queue.
package antientropy

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/distroreg/registry/distro"
	"github.com/distroreg/registry/membership"
	"github.com/distroreg/registry/pkg/channels"
	"github.com/distroreg/registry/pkg/health"
	"github.com/distroreg/registry/pkg/logging"
	"github.com/distroreg/registry/registry"
	"github.com/distroreg/registry/transport"
)

const module = "ANTIENTROPY"

// DefaultQueueCapacity matches spec.md §4.6's bounded deque capacity (1 Mi).
const DefaultQueueCapacity = 1 << 20

const enqueueTimeout = 5 * time.Millisecond

// ServiceKey identifies one divergent service observed from a peer's
// checksum broadcast, queued for the pull worker to reconcile.
type ServiceKey struct {
	NamespaceID     string
	Name            string
	PeerAddr        string
	RemoteChecksum  string
}

// Config configures a Coordinator.
type Config struct {
	Self         membership.MemberID
	Membership   membership.Membership
	Registry     *registry.Registry
	Router       *distro.Router
	Synchronizer transport.Synchronizer
	ReportPeriod time.Duration // default 60s if zero
	QueueCapacity int          // default DefaultQueueCapacity if zero
}

// Coordinator runs the Reporter and Pull worker described by spec.md §4.6.
type Coordinator struct {
	self         membership.MemberID
	members      membership.Membership
	reg          *registry.Registry
	router       *distro.Router
	sync         transport.Synchronizer
	reportPeriod time.Duration

	queue channels.ChannelTimeout
	// enqueueMu guards the entire offer-with-timeout-then-drop-oldest-then-
	// add sequence so that sequence is atomic under concurrent reporters,
	// per spec §5's ordering guarantee on the deque's enqueue side.
	enqueueMu sync.Mutex

	logger *logrus.Entry

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Coordinator from conf. Call Start to begin running.
func New(conf Config) *Coordinator {
	period := conf.ReportPeriod
	if period <= 0 {
		period = 60 * time.Second
	}
	capacity := conf.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}

	return &Coordinator{
		self:         conf.Self,
		members:      conf.Membership,
		reg:          conf.Registry,
		router:       conf.Router,
		sync:         conf.Synchronizer,
		reportPeriod: period,
		queue:        channels.NewChannelTimeout(capacity),
		logger:       logging.GetLogger(module),
		done:         make(chan struct{}),
	}
}

// Start launches the Reporter and the Pull worker as background goroutines.
func (c *Coordinator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go c.reportLoop(ctx)
	go c.pullLoop(ctx)
}

// Stop terminates both workers.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	close(c.done)
}

func (c *Coordinator) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(c.reportPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.report()
		}
	}
}

// report implements the Reporter sweep: for each owned, non-empty service,
// recompute its checksum and broadcast it to every other peer.
func (c *Coordinator) report() {
	for _, ns := range c.reg.GetAllNamespaces() {
		checksums := make(map[string]string)
		for _, name := range c.reg.GetAllServiceNames(ns) {
			if !c.router.Responsible(name) {
				continue
			}
			svc, ok := c.reg.GetService(ns, name)
			if !ok || svc.IsEmpty() {
				continue
			}
			checksums[name] = svc.RecalculateChecksum()
		}
		if len(checksums) == 0 {
			continue
		}

		msg := transport.ChecksumMessage{NamespaceID: ns, Checksums: checksums}
		for id, m := range c.members.Members() {
			if id == c.self {
				continue
			}
			peerAddr := m.IP() + ":" + strconv.Itoa(m.Port())
			if err := c.sync.Send(context.Background(), peerAddr, msg); err != nil {
				c.logger.WithError(err).Warnf("checksum broadcast to %s failed", peerAddr)
			}
		}
	}
}

// ReceiveChecksums implements the receive path: for each service this peer
// is NOT responsible for, compare the remote checksum against local state
// and enqueue a pull on divergence or local absence.
func (c *Coordinator) ReceiveChecksums(peerAddr string, msg transport.ChecksumMessage) {
	for name, remoteChecksum := range msg.Checksums {
		if c.router.Responsible(name) {
			continue
		}

		svc, ok := c.reg.GetService(msg.NamespaceID, name)
		if ok && svc.Checksum() == remoteChecksum {
			continue
		}

		c.enqueue(ServiceKey{
			NamespaceID:    msg.NamespaceID,
			Name:           name,
			PeerAddr:       peerAddr,
			RemoteChecksum: remoteChecksum,
		})
	}
}

// enqueue implements spec §4.6's offer-with-5ms-timeout, then
// drop-oldest-then-add fallback, atomically.
func (c *Coordinator) enqueue(key ServiceKey) {
	c.enqueueMu.Lock()
	defer c.enqueueMu.Unlock()

	if err := c.queue.Send(key, enqueueTimeout); err == nil {
		return
	}

	select {
	case <-c.queue.Channel():
	default:
	}
	if err := c.queue.Send(key, 0); err != nil {
		c.logger.WithError(err).Warn("failed to enqueue anti-entropy pull after dropping oldest")
	}
}

// Status implements health.Checker: the pull worker pool is considered
// unhealthy once its backlog reaches capacity, since a full queue means
// older queued divergence reports have started being dropped to admit new
// ones.
func (c *Coordinator) Status() health.Status {
	queued := len(c.queue.Channel())
	capacity := cap(c.queue.Channel())
	if capacity > 0 && queued >= capacity {
		return health.StatusUnhealthy("anti-entropy pull queue is full", nil)
	}
	return health.Status{Healthy: true, Properties: map[string]interface{}{"queueDepth": queued}}
}

func (c *Coordinator) pullLoop(ctx context.Context) {
	for {
		obj, err := c.queue.Receive(200 * time.Millisecond)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		key, ok := obj.(ServiceKey)
		if !ok {
			continue
		}
		go c.pull(ctx, key)
	}
}

// pull implements one pull-worker task: fetch the remote snapshot and
// reconcile local healthy flags against it.
func (c *Coordinator) pull(ctx context.Context, key ServiceKey) {
	snap, err := c.sync.Get(ctx, key.PeerAddr, key.NamespaceID, key.Name)
	if err != nil {
		c.logger.WithError(err).Warnf("anti-entropy pull of %s from %s failed", key.Name, key.PeerAddr)
		return
	}

	svc, ok := c.reg.GetService(key.NamespaceID, key.Name)
	if !ok {
		return
	}

	remoteHealthy := parseRemoteIPs(snap.IPs)

	changed := false
	for _, inst := range svc.AllIPs() {
		if healthy, present := remoteHealthy[inst.IPAddr()]; present && healthy != inst.Healthy {
			if svc.ReconcileHealthy(inst.IPAddr(), healthy) {
				changed = true
			}
		}
	}
	if changed {
		svc.Touch()
	}
}

func parseRemoteIPs(entries []string) map[string]bool {
	out := make(map[string]bool, len(entries))
	for _, entry := range entries {
		idx := lastIndexByte(entry, '_')
		if idx < 0 {
			continue
		}
		ipAddr, healthyStr := entry[:idx], entry[idx+1:]
		out[ipAddr] = healthyStr == "true"
	}
	return out
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

