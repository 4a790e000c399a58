// Package metrics wraps github.com/rcrowley/go-metrics with the module's
// periodic-dump-to-log idiom.
package metrics

import (
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/distroreg/registry/pkg/logging"
)

const moduleName = "METRICS"

var logger = logging.GetLogger(moduleName)

// NewCounter registers and returns a named counter on the default registry.
func NewCounter(name string) metrics.Counter {
	return metrics.GetOrRegister(name, metrics.NewCounter).(metrics.Counter)
}

// NewMeter registers and returns a named meter on the default registry.
func NewMeter(name string) metrics.Meter {
	return metrics.GetOrRegister(name, metrics.NewMeter).(metrics.Meter)
}

// NewGauge registers and returns a named gauge on the default registry.
func NewGauge(name string) metrics.Gauge {
	return metrics.GetOrRegister(name, metrics.NewGauge).(metrics.Gauge)
}

// DumpPeriodically logs the entire default metrics registry on the given
// interval. It blocks, so callers should invoke it in its own goroutine.
func DumpPeriodically(interval time.Duration) {
	for range time.Tick(interval) {
		dumpRegistry(metrics.DefaultRegistry)
	}
}

func dumpRegistry(registry metrics.Registry) {
	registry.Each(func(name string, metric interface{}) {
		dumpMetric(name, metric)
	})
}

func dumpMetric(name string, metric interface{}) {
	switch m := metric.(type) {
	case metrics.Counter:
		logger.WithFields(logrus.Fields{"name": name, "count": m.Count()}).Info()
	case metrics.Gauge:
		logger.WithFields(logrus.Fields{"name": name, "value": m.Value()}).Info()
	case metrics.Meter:
		snap := m.Snapshot()
		logger.WithFields(logrus.Fields{
			"name":            name,
			"count":           snap.Count(),
			"rate-one-minute": snap.Rate1(),
			"rate-mean":       snap.RateMean(),
		}).Info()
	case metrics.Histogram:
		snap := m.Snapshot()
		logger.WithFields(logrus.Fields{
			"name":   name,
			"count":  snap.Count(),
			"mean":   snap.Mean(),
			"max":    snap.Max(),
			"min":    snap.Min(),
			"stddev": snap.StdDev(),
		}).Info()
	}
}
