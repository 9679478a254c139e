// Package metrics exposes coordination counters and gauges to Prometheus.
//
// All methods are safe to call on a nil *Collector, so components can run
// without metrics in tests and in the standalone loops.
package metrics

import (
	"net/http"
	"time"

	"github.com/me/obscore/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "obscore"

// Collector holds the Prometheus metrics for the scheduler, validator and API.
type Collector struct {
	gatherer prometheus.Gatherer

	workItemsCreated *prometheus.CounterVec
	workItemsExpired prometheus.Counter
	leasesAcquired   *prometheus.CounterVec
	leasesLost       *prometheus.CounterVec
	leasesReclaimed  *prometheus.CounterVec
	failuresReported *prometheus.CounterVec
	resultsDecided   *prometheus.CounterVec
	conflicts        prometheus.Counter
	tickDuration     *prometheus.HistogramVec

	workItems     *prometheus.GaugeVec
	results       *prometheus.GaugeVec
	openConflicts prometheus.Gauge
}

// NewCollector creates a collector and registers it with reg. A
// *prometheus.Registry passed as reg also serves as the Handler's source;
// otherwise the default gatherer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		workItemsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "work_items_created_total",
			Help:      "Work items planned by Reconcile.",
		}, []string{"module"}),
		workItemsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "work_items_expired_total",
			Help:      "Work items expired because their module was disabled or replaced.",
		}),
		leasesAcquired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leases_acquired_total",
			Help:      "Leases granted by AcquireLease.",
		}, []string{"module"}),
		leasesLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leases_lost_total",
			Help:      "Lease operations refused because the caller no longer held the lease.",
		}, []string{"op"}),
		leasesReclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leases_reclaimed_total",
			Help:      "Expired leases reset by ReclaimExpired, by resulting state.",
		}, []string{"state"}),
		failuresReported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_reported_total",
			Help:      "Failures reported by workers, by resulting state.",
		}, []string{"state"}),
		resultsDecided: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_decided_total",
			Help:      "Validator decisions, by resulting status.",
		}, []string{"status"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_recorded_total",
			Help:      "Conflicts recorded by the validator.",
		}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one loop iteration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component"}),
		workItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "work_items",
			Help:      "Current number of work items per state.",
		}, []string{"state"}),
		results: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "results",
			Help:      "Current number of results per status.",
		}, []string{"status"}),
		openConflicts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_conflicts",
			Help:      "Conflicts not yet acknowledged by an operator.",
		}),
	}

	reg.MustRegister(
		c.workItemsCreated, c.workItemsExpired, c.leasesAcquired, c.leasesLost,
		c.leasesReclaimed, c.failuresReported, c.resultsDecided, c.conflicts,
		c.tickDuration, c.workItems, c.results, c.openConflicts,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	} else {
		c.gatherer = prometheus.DefaultGatherer
	}
	return c
}

// Handler returns the /metrics HTTP handler.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) WorkItemsCreated(module string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.workItemsCreated.WithLabelValues(module).Add(float64(n))
}

func (c *Collector) WorkItemsExpired(n int64) {
	if c == nil || n == 0 {
		return
	}
	c.workItemsExpired.Add(float64(n))
}

func (c *Collector) LeaseAcquired(module string) {
	if c == nil {
		return
	}
	c.leasesAcquired.WithLabelValues(module).Inc()
}

// LeaseLost counts a refused renew, complete, submit or fail call.
func (c *Collector) LeaseLost(op string) {
	if c == nil {
		return
	}
	c.leasesLost.WithLabelValues(op).Inc()
}

func (c *Collector) LeaseReclaimed(state model.WorkItemState) {
	if c == nil {
		return
	}
	c.leasesReclaimed.WithLabelValues(string(state)).Inc()
}

func (c *Collector) FailureReported(state model.WorkItemState) {
	if c == nil {
		return
	}
	c.failuresReported.WithLabelValues(string(state)).Inc()
}

func (c *Collector) ResultDecided(status model.ResultStatus) {
	if c == nil {
		return
	}
	c.resultsDecided.WithLabelValues(string(status)).Inc()
}

func (c *Collector) ConflictRecorded() {
	if c == nil {
		return
	}
	c.conflicts.Inc()
}

// ObserveTick records how long one loop iteration of component took.
func (c *Collector) ObserveTick(component string, d time.Duration) {
	if c == nil {
		return
	}
	c.tickDuration.WithLabelValues(component).Observe(d.Seconds())
}

// UpdateStats refreshes the state gauges from a store snapshot.
func (c *Collector) UpdateStats(st *model.Stats) {
	if c == nil || st == nil {
		return
	}
	for state, n := range st.WorkItems {
		c.workItems.WithLabelValues(string(state)).Set(float64(n))
	}
	for status, n := range st.Results {
		c.results.WithLabelValues(string(status)).Set(float64(n))
	}
	c.openConflicts.Set(float64(st.OpenConflicts))
}
