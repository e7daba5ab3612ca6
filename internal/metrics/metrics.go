// Package metrics holds the Prometheus collectors the pool and event
// packages publish. Instrumentation is opt-in: a nil *Collector is valid
// and every method on it is a no-op, so callers that never pass a
// registerer pay nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for a firebirdsql client.
type Collector struct {
	// Registry is only set when New was called with a nil registerer; it
	// then owns every metric below and can be served or gathered directly.
	Registry *prometheus.Registry

	poolIdle      *prometheus.GaugeVec
	poolInUse     *prometheus.GaugeVec
	poolWaiting   *prometheus.GaugeVec
	acquireWait   *prometheus.HistogramVec
	poolDiscarded *prometheus.CounterVec
	poolExhausted *prometheus.CounterVec

	eventsDelivered *prometheus.CounterVec
}

// New creates and registers all metrics. With a nil registerer each call
// gets an independent private registry, so repeated construction (tests,
// multiple pools) never conflicts.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		poolIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "firebirdsql_pool_connections_idle",
				Help: "Number of idle pooled connections per database",
			},
			[]string{"database"},
		),
		poolInUse: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "firebirdsql_pool_connections_in_use",
				Help: "Number of pooled connections currently handed out per database",
			},
			[]string{"database"},
		),
		poolWaiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "firebirdsql_pool_waiting",
				Help: "Number of goroutines waiting in Pool.Get per database",
			},
			[]string{"database"},
		),
		acquireWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "firebirdsql_pool_acquire_duration_seconds",
				Help:    "Time spent waiting in Pool.Get",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
			[]string{"database"},
		),
		poolDiscarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "firebirdsql_pool_discarded_total",
				Help: "Pooled connections discarded instead of reused, by reason",
			},
			[]string{"database", "reason"},
		),
		poolExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "firebirdsql_pool_exhausted_total",
				Help: "Times Pool.Get found the pool at max size and had to wait",
			},
			[]string{"database"},
		),
		eventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "firebirdsql_events_delivered_total",
				Help: "POST_EVENT deltas delivered to alerter callbacks, per event name",
			},
			[]string{"database", "event"},
		),
	}

	if reg == nil {
		r := prometheus.NewRegistry()
		c.Registry = r
		reg = r
	}
	reg.MustRegister(
		c.poolIdle,
		c.poolInUse,
		c.poolWaiting,
		c.acquireWait,
		c.poolDiscarded,
		c.poolExhausted,
		c.eventsDelivered,
	)

	return c
}

// UpdatePoolStats sets the pool gauges.
func (c *Collector) UpdatePoolStats(database string, idle, inUse, waiting int) {
	if c == nil {
		return
	}
	c.poolIdle.WithLabelValues(database).Set(float64(idle))
	c.poolInUse.WithLabelValues(database).Set(float64(inUse))
	c.poolWaiting.WithLabelValues(database).Set(float64(waiting))
}

// AcquireDuration observes the time one Pool.Get spent waiting.
func (c *Collector) AcquireDuration(database string, d time.Duration) {
	if c == nil {
		return
	}
	c.acquireWait.WithLabelValues(database).Observe(d.Seconds())
}

// Discarded counts a connection dropped instead of reused.
func (c *Collector) Discarded(database, reason string) {
	if c == nil {
		return
	}
	c.poolDiscarded.WithLabelValues(database, reason).Inc()
}

// Exhausted counts a Get that found the pool at max size.
func (c *Collector) Exhausted(database string) {
	if c == nil {
		return
	}
	c.poolExhausted.WithLabelValues(database).Inc()
}

// EventsDelivered counts a delta handed to an alerter callback.
func (c *Collector) EventsDelivered(database, event string, delta uint32) {
	if c == nil {
		return
	}
	c.eventsDelivered.WithLabelValues(database, event).Add(float64(delta))
}
