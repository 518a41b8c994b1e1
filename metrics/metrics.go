// Package metrics exposes harvest counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the harvest collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	pages        *prometheus.CounterVec
	pageDuration prometheus.Histogram
	items        prometheus.Counter
	batches      *prometheus.CounterVec
	proxyFails   prometheus.Counter
	runs         *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		pages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_pages_total",
			Help: "Listing pages fetched, by outcome",
		}, []string{"outcome"}),
		pageDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvest_page_duration_seconds",
			Help:    "Time spent fetching, normalizing and ingesting one page",
			Buckets: prometheus.DefBuckets,
		}),
		items: f.NewCounter(prometheus.CounterOpts{
			Name: "harvest_items_total",
			Help: "Listings normalized",
		}),
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_batches_total",
			Help: "Batches handed to storage, by outcome",
		}, []string{"outcome"}),
		proxyFails: f.NewCounter(prometheus.CounterOpts{
			Name: "harvest_proxy_failures_total",
			Help: "Proxies demoted after a failed fetch or probe",
		}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_runs_total",
			Help: "Finished harvest runs, by final state",
		}, []string{"state"}),
	}
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func (m *Metrics) PageFetched(ok bool) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) ObservePage(d time.Duration) {
	if m == nil {
		return
	}
	m.pageDuration.Observe(d.Seconds())
}

func (m *Metrics) ItemsNormalized(n int) {
	if m == nil {
		return
	}
	m.items.Add(float64(n))
}

func (m *Metrics) BatchIngested(ok bool) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) ProxyFailed() {
	if m == nil {
		return
	}
	m.proxyFails.Inc()
}

func (m *Metrics) RunFinished(state string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(state).Inc()
}

// Handler serves the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
