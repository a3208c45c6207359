package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Default histogram buckets for invocation duration (in milliseconds)
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// promCollectors holds the Prometheus side of Metrics.
type promCollectors struct {
	registry *prometheus.Registry

	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	requestsTotal      *prometheus.CounterVec

	poolInFlight        prometheus.Gauge
	poolQueued          prometheus.Gauge
	activeInvocations   prometheus.Gauge
	registeredFunctions prometheus.Gauge
}

func newPromCollectors(namespace string, buckets []float64) *promCollectors {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pc := &promCollectors{
		registry: registry,

		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of function invocations",
			},
			[]string{"function", "status"},
		),
		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_milliseconds",
				Help:      "Function invocation duration in milliseconds",
				Buckets:   buckets,
			},
			[]string{"function", "mode"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of host requests by kind and status",
			},
			[]string{"kind", "status"},
		),
		poolInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_pool_in_flight",
			Help:      "Blocking function bodies currently running on the sync pool",
		}),
		poolQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_pool_queued",
			Help:      "Blocking function bodies waiting for a sync pool worker",
		}),
		activeInvocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_invocations",
			Help:      "Invocations currently in progress",
		}),
		registeredFunctions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_functions",
			Help:      "Functions loaded into the worker",
		}),
	}

	registry.MustRegister(
		pc.invocationsTotal,
		pc.invocationDuration,
		pc.requestsTotal,
		pc.poolInFlight,
		pc.poolQueued,
		pc.activeInvocations,
		pc.registeredFunctions,
	)
	return pc
}

func (pc *promCollectors) recordInvocation(function string, mode string, d time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	pc.invocationsTotal.WithLabelValues(function, status).Inc()
	pc.invocationDuration.WithLabelValues(function, mode).Observe(float64(d.Microseconds()) / 1000)
}

// Handler returns an HTTP handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics disabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.prom.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.prom.registry
}
