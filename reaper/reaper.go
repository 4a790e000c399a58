// Package reaper implements the empty-service sweep described by spec.md
// §4.7 (C9): services that have stayed empty across several consecutive
// sweeps, and that this peer is responsible for, are deleted by removing
// their service-meta key — the resulting Consistency onDelete performs the
// actual teardown via registry.Registry.RemoveServiceByMetaKey. Optional;
// enabled only when configured, mirroring the teacher's flag-gated
// maintenance workers (registry/config/flags.go's boolean feature toggles).
package reaper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/distroreg/registry/distro"
	"github.com/distroreg/registry/pkg/logging"
	"github.com/distroreg/registry/registry"
)

const module = "REAPER"

// DefaultMaxFinalizeCount is the value a service's consecutive-empty-sweep
// counter must exceed before it is reaped, per spec §4.7, used when
// Config.MaxFinalizeCount is zero. With the default of 3, an empty service
// survives four sweeps and is removed on the fifth.
const DefaultMaxFinalizeCount = 3

// parallelThreshold is the per-namespace service count above which a sweep
// fans its inner loop out across goroutines instead of running serially.
const parallelThreshold = 100

// Config configures a Reaper.
type Config struct {
	Registry         *registry.Registry
	Router           *distro.Router
	InitialDelay     time.Duration // default 60s if zero
	Period           time.Duration // default 20s if zero
	MaxFinalizeCount int           // default DefaultMaxFinalizeCount if zero
}

// Reaper periodically deletes services whose consecutive-empty-sweep counter
// has exceeded MaxFinalizeCount.
type Reaper struct {
	reg              *registry.Registry
	router           *distro.Router
	initialDelay     time.Duration
	period           time.Duration
	maxFinalizeCount int
	logger           *logrus.Entry

	cancel context.CancelFunc
}

// New creates a Reaper from conf.
func New(conf Config) *Reaper {
	initialDelay := conf.InitialDelay
	if initialDelay <= 0 {
		initialDelay = 60 * time.Second
	}
	period := conf.Period
	if period <= 0 {
		period = 20 * time.Second
	}
	maxFinalizeCount := conf.MaxFinalizeCount
	if maxFinalizeCount <= 0 {
		maxFinalizeCount = DefaultMaxFinalizeCount
	}
	return &Reaper{
		reg:              conf.Registry,
		router:           conf.Router,
		initialDelay:     initialDelay,
		period:           period,
		maxFinalizeCount: maxFinalizeCount,
		logger:           logging.GetLogger(module),
	}
}

// Start launches the sweep loop as a background goroutine.
func (r *Reaper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.initialDelay):
		}

		ticker := time.NewTicker(r.period)
		defer ticker.Stop()
		for {
			r.sweep()
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop terminates the sweep loop.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Reaper) sweep() {
	for _, ns := range r.reg.GetAllNamespaces() {
		names := r.reg.GetAllServiceNames(ns)
		if len(names) > parallelThreshold {
			r.sweepParallel(ns, names)
		} else {
			for _, name := range names {
				r.sweepOne(ns, name)
			}
		}
	}
}

func (r *Reaper) sweepParallel(ns string, names []string) {
	results := make(chan struct{}, len(names))
	for _, name := range names {
		name := name
		go func() {
			r.sweepOne(ns, name)
			results <- struct{}{}
		}()
	}
	for range names {
		<-results
	}
}

func (r *Reaper) sweepOne(namespaceID, name string) {
	if !r.router.Responsible(name) {
		return
	}
	svc, ok := r.reg.GetService(namespaceID, name)
	if !ok {
		return
	}

	if !svc.IsEmpty() {
		svc.ResetFinalizeCount()
		return
	}

	if svc.FinalizeCount() > r.maxFinalizeCount {
		if err := r.reg.EasyRemoveService(namespaceID, name); err != nil {
			r.logger.WithError(err).Warnf("failed to reap empty service %s/%s", namespaceID, name)
		}
		return
	}
	svc.AdvanceFinalizeCount()
}
