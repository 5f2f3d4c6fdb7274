// Package metrics backs the node's opaque counters/gauges/histograms with
// rcrowley/go-metrics registries, the way sarama's consumer wires its
// metricRegistry (spec §1 Non-goals: "metrics registries treated as an
// opaque Metrics sink").
package metrics

import (
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// Sink is the concrete go-metrics-backed implementation satisfying
// cluster.Metrics, controller.Metrics, and streams.Metrics.
type Sink struct {
	registry gometrics.Registry

	droppedRecords   gometrics.Counter
	queueTime        gometrics.Histogram
	controllerState  gometrics.Registry
}

// New returns a Sink backed by a fresh go-metrics registry.
func New() *Sink {
	registry := gometrics.NewRegistry()
	return &Sink{
		registry:        registry,
		droppedRecords:  gometrics.GetOrRegisterCounter("shoal.streams.dropped_records", registry),
		queueTime:       gometrics.GetOrRegisterHistogram("shoal.controller.queue_time", registry, gometrics.NewUniformSample(1028)),
		controllerState: gometrics.NewRegistry(),
	}
}

// Registry exposes the underlying go-metrics registry, e.g. for a reporter.
func (s *Sink) Registry() gometrics.Registry { return s.registry }

// IncrCounter satisfies cluster.Metrics: a named counter bumped by delta.
func (s *Sink) IncrCounter(name string, delta int64) {
	gometrics.GetOrRegisterCounter(name, s.registry).Inc(delta)
}

// IncrDroppedRecords satisfies streams.Metrics.
func (s *Sink) IncrDroppedRecords(delta int64) {
	s.droppedRecords.Inc(delta)
}

// SetState satisfies controller.Metrics: the controller-state gauge is a
// registry of boolean gauges, one per known state name, all but the
// current one reset to 0.
func (s *Sink) SetState(name string) {
	s.controllerState.Each(func(n string, i interface{}) {
		if g, ok := i.(gometrics.Gauge); ok {
			g.Update(0)
		}
	})
	gometrics.GetOrRegisterGauge("shoal.controller.state."+name, s.controllerState).Update(1)
}

// RecordQueueTime satisfies controller.Metrics.
func (s *Sink) RecordQueueTime(d time.Duration) {
	s.queueTime.Update(d.Nanoseconds())
}

// ResetQueueTimeHistogram satisfies controller.Metrics: go-metrics
// histograms have no in-place reset, so this swaps in a fresh one under the
// same registered name.
func (s *Sink) ResetQueueTimeHistogram() {
	s.registry.Unregister("shoal.controller.queue_time")
	s.queueTime = gometrics.GetOrRegisterHistogram("shoal.controller.queue_time", s.registry, gometrics.NewUniformSample(1028))
}

// HasQueueTimeSamples satisfies controller.Metrics.
func (s *Sink) HasQueueTimeSamples() bool {
	return s.queueTime.Count() > 0
}
