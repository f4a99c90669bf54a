// Package metrics exposes prometheus collectors for the drain loop and the
// cache reconciliation layer. A nil *Collector is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drain outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeDeferred  = "deferred"
	OutcomeEvicted   = "evicted"
	OutcomePruned    = "pruned"
)

// Collector groups the sync client metrics.
type Collector struct {
	drainActions  *prometheus.CounterVec
	drainPasses   prometheus.Counter
	queueDepth    prometheus.Gauge
	invalidations *prometheus.CounterVec
	patches       *prometheus.CounterVec
	events        *prometheus.CounterVec
}

// New creates a Collector and registers it with reg. If reg is nil,
// prometheus.DefaultRegisterer is used.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		drainActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "possync_drain_actions_total",
			Help: "Queued actions processed by drain passes, by outcome.",
		}, []string{"outcome"}),
		drainPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "possync_drain_passes_total",
			Help: "Completed drain passes.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "possync_queue_depth",
			Help: "Pending actions in the offline queue after the last pass.",
		}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "possync_cache_invalidations_total",
			Help: "Cache entries marked stale, by reason.",
		}, []string{"reason"}),
		patches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "possync_cache_patches_total",
			Help: "Targeted cache patches applied, by topic and operation.",
		}, []string{"topic", "op"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "possync_realtime_events_total",
			Help: "Realtime events received, by topic.",
		}, []string{"topic"}),
	}
	for _, col := range []prometheus.Collector{c.drainActions, c.drainPasses, c.queueDepth, c.invalidations, c.patches, c.events} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// DrainAction counts one processed action.
func (c *Collector) DrainAction(outcome string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.drainActions.WithLabelValues(outcome).Add(float64(n))
}

// DrainPass counts a finished pass and records the remaining depth.
func (c *Collector) DrainPass(depth int) {
	if c == nil {
		return
	}
	c.drainPasses.Inc()
	c.queueDepth.Set(float64(depth))
}

// Invalidation counts entries marked stale.
func (c *Collector) Invalidation(reason string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.invalidations.WithLabelValues(reason).Add(float64(n))
}

// Patch counts a targeted patch.
func (c *Collector) Patch(topic, op string) {
	if c == nil {
		return
	}
	c.patches.WithLabelValues(topic, op).Inc()
}

// Event counts a received realtime event.
func (c *Collector) Event(topic string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(topic).Inc()
}
