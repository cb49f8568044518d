package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/couchcryptid/cep-locator/internal/domain"
)

const namespace = "cep_locator"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	// Lookup chain metrics.
	Lookups        *prometheus.CounterVec // labels: outcome={success,unsupported,denied,no_postal_code,not_found,error}
	LookupDuration prometheus.Histogram
	PublishErrors  prometheus.Counter

	// Upstream API metrics.
	UpstreamRequests *prometheus.CounterVec   // labels: service={nominatim,viacep}, outcome={success,error,empty}
	UpstreamDuration *prometheus.HistogramVec // labels: service={nominatim,viacep}
	GeocodeCache     *prometheus.CounterVec   // labels: result={hit,miss}

	// Offline cache shell metrics.
	ShellRequests  *prometheus.CounterVec // labels: result={hit,miss,fallback,bypass,error}
	ShellInstalled prometheus.Gauge
	CachesPruned   prometheus.Counter

	// Permission reports the current geolocation permission: 1 for the active
	// state label, 0 for the others.
	Permission *prometheus.GaugeVec // labels: state={granted,denied,prompt,unknown}
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.Lookups,
		m.LookupDuration,
		m.PublishErrors,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.GeocodeCache,
		m.ShellRequests,
		m.ShellInstalled,
		m.CachesPruned,
		m.Permission,
	)
	return m
}

// NewUnregisteredMetrics creates Metrics that no registry exposes, for
// short-lived processes that are never scraped.
func NewUnregisteredMetrics() *Metrics {
	return newMetrics()
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// build as many as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return NewUnregisteredMetrics()
}

// SetPermission flips the permission gauge to the given state.
func (m *Metrics) SetPermission(state domain.PermissionState) {
	for _, s := range []domain.PermissionState{
		domain.PermissionGranted,
		domain.PermissionDenied,
		domain.PermissionPrompt,
		domain.PermissionUnknown,
	} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.Permission.WithLabelValues(string(s)).Set(v)
	}
}

func newMetrics() *Metrics {
	return &Metrics{
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Address lookups by outcome.",
		}, []string{"outcome"}),
		LookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_duration_seconds",
			Help:      "Duration of a complete coordinates-to-address lookup.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Resolutions that could not be published.",
		}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream API requests by service and outcome.",
		}, []string{"service", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Upstream API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"service"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Reverse geocoding cache lookups by result.",
		}, []string{"result"}),
		ShellRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shell_requests_total",
			Help:      "Requests handled by the offline cache shell by result.",
		}, []string{"result"}),
		ShellInstalled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shell_installed",
			Help:      "1 once the offline cache shell has installed and activated.",
		}),
		CachesPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "caches_pruned_total",
			Help:      "Stale cache generations deleted on activation.",
		}),
		Permission: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geolocation_permission",
			Help:      "Current geolocation permission state.",
		}, []string{"state"}),
	}
}
