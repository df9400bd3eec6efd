package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollectorWithRegistry("test", prometheus.NewRegistry())

	c.RecordFilterChange("month")
	c.RecordFilterChange("month")
	c.RecordFilterReset("recency")
	c.RecordInvalidInput("season")
	c.RecordAPIRequest("/api/sessions", "POST", "201")

	if got := testutil.ToFloat64(c.FilterChangesTotal.WithLabelValues("month")); got != 2 {
		t.Errorf("filter changes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.FilterResetsTotal.WithLabelValues("recency")); got != 1 {
		t.Errorf("filter resets = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.InvalidInputTotal.WithLabelValues("season")); got != 1 {
		t.Errorf("invalid input = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.APIRequestsTotal.WithLabelValues("/api/sessions", "POST", "201")); got != 1 {
		t.Errorf("api requests = %v, want 1", got)
	}
}

func TestCollector_SeparateRegistries(t *testing.T) {
	// Two collectors with the same namespace must not collide on separate registries.
	NewCollectorWithRegistry("dup", prometheus.NewRegistry())
	NewCollectorWithRegistry("dup", prometheus.NewRegistry())
}

func TestCollector_ConnectionPool(t *testing.T) {
	c := NewCollectorWithRegistry("test", prometheus.NewRegistry())
	c.UpdateDBConnectionPool(2, 3, 5)

	if got := testutil.ToFloat64(c.DBConnectionPool.WithLabelValues("total")); got != 5 {
		t.Errorf("pool total = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.DBConnectionPool.WithLabelValues("idle")); got != 3 {
		t.Errorf("pool idle = %v, want 3", got)
	}
}

func TestTimer_ObserveDuration(t *testing.T) {
	c := NewCollectorWithRegistry("test", prometheus.NewRegistry())

	timer := c.NewTimer(c.DatasetLoadDuration)
	time.Sleep(time.Millisecond)
	if d := timer.ObserveDuration(); d <= 0 {
		t.Errorf("duration = %v, want > 0", d)
	}

	if n := testutil.CollectAndCount(c.DatasetLoadDuration); n != 1 {
		t.Errorf("collected %d series, want 1", n)
	}
}
