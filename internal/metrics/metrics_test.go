package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	g.Write(m)
	return m.GetGauge().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	c.Write(m)
	return m.GetCounter().GetValue()
}

func TestUpdatePoolStatsReplaces(t *testing.T) {
	c := New(nil)

	c.UpdatePoolStats("localhost:3050/demo.fdb", 3, 5, 1)
	if v := getGaugeValue(c.poolIdle.WithLabelValues("localhost:3050/demo.fdb")); v != 3 {
		t.Errorf("idle = %v, want 3", v)
	}

	// Gauges are set, not incremented.
	c.UpdatePoolStats("localhost:3050/demo.fdb", 2, 4, 0)
	if v := getGaugeValue(c.poolIdle.WithLabelValues("localhost:3050/demo.fdb")); v != 2 {
		t.Errorf("idle = %v after update, want 2", v)
	}
	if v := getGaugeValue(c.poolInUse.WithLabelValues("localhost:3050/demo.fdb")); v != 4 {
		t.Errorf("in_use = %v, want 4", v)
	}
}

func TestAcquireDurationObserved(t *testing.T) {
	c := New(nil)

	c.AcquireDuration("db", 5*time.Millisecond)
	c.AcquireDuration("db", 15*time.Millisecond)

	families, err := c.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == "firebirdsql_pool_acquire_duration_seconds" {
			found = true
			if n := f.GetMetric()[0].GetHistogram().GetSampleCount(); n != 2 {
				t.Errorf("sample count %d, want 2", n)
			}
		}
	}
	if !found {
		t.Error("acquire duration metric not gathered")
	}
}

func TestCounters(t *testing.T) {
	c := New(nil)

	c.Discarded("db", "expired")
	c.Discarded("db", "expired")
	c.Exhausted("db")
	c.EventsDelivered("db", "order_added", 3)

	if v := getCounterValue(c.poolDiscarded.WithLabelValues("db", "expired")); v != 2 {
		t.Errorf("discarded = %v, want 2", v)
	}
	if v := getCounterValue(c.poolExhausted.WithLabelValues("db")); v != 1 {
		t.Errorf("exhausted = %v, want 1", v)
	}
	if v := getCounterValue(c.eventsDelivered.WithLabelValues("db", "order_added")); v != 3 {
		t.Errorf("events delivered = %v, want 3", v)
	}
}

func TestNilCollectorIsInert(t *testing.T) {
	var c *Collector
	c.UpdatePoolStats("db", 1, 2, 3)
	c.AcquireDuration("db", time.Second)
	c.Discarded("db", "expired")
	c.Exhausted("db")
	c.EventsDelivered("db", "x", 1)
}

func TestExternalRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	if c.Registry != nil {
		t.Fatal("a caller-supplied registerer must not create a private registry")
	}
	c.Exhausted("db")
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) == 0 {
		t.Fatal("metrics not registered with the supplied registerer")
	}
}
