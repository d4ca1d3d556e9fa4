package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.ObserveSelection("fast_path", 5*time.Millisecond)
	c.ObserveSelection("fast_path", 7*time.Millisecond)
	c.IncRejected("selection_in_progress")
	c.IncFallback("empty_intersection")
	c.IncTimeout()
	c.AddInFlight(1)

	families, err := c.Gatherer().Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
		if mf.GetName() == "acs_selections_total" {
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, 2.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
		if mf.GetName() == "acs_selections_in_flight" {
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found["acs_selection_duration_seconds"])
	assert.True(t, found["acs_requests_rejected_total"])
	assert.True(t, found["acs_fallbacks_total"])
	assert.True(t, found["acs_selector_timeouts_total"])
}

func TestCollectorDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)

	_, err = NewCollector(reg)
	assert.Error(t, err)
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveSelection("scan", time.Second)
		c.IncRejected("x")
		c.IncOverride()
		c.IncFallback("x")
		c.IncTimeout()
		c.IncStale()
		c.IncCancelled()
		c.AddInFlight(-1)
		assert.Nil(t, c.Gatherer())
	})
}
