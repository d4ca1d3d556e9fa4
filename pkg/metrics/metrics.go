package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes channel-selection metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	SelectionDuration *prometheus.HistogramVec
	SelectionsTotal   *prometheus.CounterVec
	RejectedTotal     *prometheus.CounterVec
	OverridesTotal    prometheus.Counter
	FallbacksTotal    *prometheus.CounterVec
	TimeoutsTotal     prometheus.Counter
	StaleTotal        prometheus.Counter
	CancelledTotal    prometheus.Counter
	InFlight          prometheus.Gauge
}

// NewCollector registers the acsd metrics against reg (default registerer when nil)
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}

	c.SelectionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "acs_selection_duration_seconds",
		Help:    "Time from DO_ACS request to delivered result, by completion path.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"path"})
	c.SelectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acs_selections_total",
		Help: "Completed channel selections by completion path.",
	}, []string{"path"})
	c.RejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acs_requests_rejected_total",
		Help: "DO_ACS requests rejected before a result was produced.",
	}, []string{"reason"})
	c.OverridesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "acs_concurrency_overrides_total",
		Help: "Selections forced onto a concurrent AP's DFS channel.",
	})
	c.FallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acs_fallbacks_total",
		Help: "Best-effort channels chosen from the master list.",
	}, []string{"cause"})
	c.TimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "acs_selector_timeouts_total",
		Help: "External ACS application requests that hit the timeout.",
	})
	c.StaleTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "acs_stale_completions_total",
		Help: "Selector completions discarded after cancellation.",
	})
	c.CancelledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "acs_selections_cancelled_total",
		Help: "Outstanding selections cancelled by a forced channel change or teardown.",
	})
	c.InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "acs_selections_in_flight",
		Help: "Interfaces currently awaiting an asynchronous selector.",
	})

	collectors := map[string]prometheus.Collector{
		"acs_selection_duration_seconds": c.SelectionDuration,
		"acs_selections_total":           c.SelectionsTotal,
		"acs_requests_rejected_total":    c.RejectedTotal,
		"acs_concurrency_overrides_total": c.OverridesTotal,
		"acs_fallbacks_total":            c.FallbacksTotal,
		"acs_selector_timeouts_total":    c.TimeoutsTotal,
		"acs_stale_completions_total":    c.StaleTotal,
		"acs_selections_cancelled_total": c.CancelledTotal,
		"acs_selections_in_flight":       c.InFlight,
	}
	for name, col := range collectors {
		if err := reg.Register(col); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return nil, fmt.Errorf("collector %s already registered", name)
			}
			return nil, err
		}
	}

	return c, nil
}

// Gatherer returns the gatherer the collector was registered with
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveSelection records a delivered result
func (c *Collector) ObserveSelection(path string, d time.Duration) {
	if c == nil {
		return
	}
	c.SelectionsTotal.WithLabelValues(path).Inc()
	c.SelectionDuration.WithLabelValues(path).Observe(d.Seconds())
}

func (c *Collector) IncRejected(reason string) {
	if c == nil {
		return
	}
	c.RejectedTotal.WithLabelValues(reason).Inc()
}

func (c *Collector) IncOverride() {
	if c == nil {
		return
	}
	c.OverridesTotal.Inc()
}

func (c *Collector) IncFallback(cause string) {
	if c == nil {
		return
	}
	c.FallbacksTotal.WithLabelValues(cause).Inc()
}

func (c *Collector) IncTimeout() {
	if c == nil {
		return
	}
	c.TimeoutsTotal.Inc()
}

func (c *Collector) IncStale() {
	if c == nil {
		return
	}
	c.StaleTotal.Inc()
}

func (c *Collector) IncCancelled() {
	if c == nil {
		return
	}
	c.CancelledTotal.Inc()
}

// AddInFlight moves the in-flight gauge by delta
func (c *Collector) AddInFlight(delta float64) {
	if c == nil {
		return
	}
	c.InFlight.Add(delta)
}
