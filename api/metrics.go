package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VanDung-dev/Sicomore-Engine/engine"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Fit metrics
	FitsTotal     prometheus.Counter
	FitsSucceeded prometheus.Counter
	FitsFailed    prometheus.Counter
	FitLatency    prometheus.Histogram

	// Level search metrics
	LevelsEvaluated prometheus.Counter

	// Request metrics
	RequestsTotal *prometheus.CounterVec
	RequestBytes  prometheus.Histogram

	// System metrics
	WorkerPoolActive  prometheus.Gauge
	WorkerPoolPending prometheus.Gauge
}

// NewMetrics creates metrics registered with the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith creates metrics registered with reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fits_total",
			Help:      "Total number of fit requests received",
		}),
		FitsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fits_succeeded_total",
			Help:      "Total number of fits that produced a result",
		}),
		FitsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fits_failed_total",
			Help:      "Total number of failed fits",
		}),
		FitLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fit_latency_seconds",
			Help:      "Fit latency in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		LevelsEvaluated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "levels_evaluated_total",
			Help:      "Total number of hierarchy levels cross-validated",
		}),

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total requests by transport and status",
		}, []string{"transport", "status"}),
		RequestBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_bytes",
			Help:      "Size of fit request payloads in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),

		WorkerPoolActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_active",
			Help:      "Number of active workers",
		}),
		WorkerPoolPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_pending",
			Help:      "Number of pending tasks in worker pool",
		}),
	}
}

// RecordFit records a fit outcome.
func (m *Metrics) RecordFit(success bool, duration time.Duration) {
	m.FitsTotal.Inc()
	m.FitLatency.Observe(duration.Seconds())
	if success {
		m.FitsSucceeded.Inc()
	} else {
		m.FitsFailed.Inc()
	}
}

// RecordRequest records a request served over a transport.
func (m *Metrics) RecordRequest(transport string, size int, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(transport, status).Inc()
	m.RequestBytes.Observe(float64(size))
}

// ObserveLevels counts cross-validated hierarchy levels.
func (m *Metrics) ObserveLevels(n int) {
	m.LevelsEvaluated.Add(float64(n))
}

// UpdateWorkerPool updates worker pool gauges.
func (m *Metrics) UpdateWorkerPool(stats engine.PoolStats) {
	m.WorkerPoolActive.Set(float64(stats.Active))
	m.WorkerPoolPending.Set(float64(stats.Pending))
}

// MetricsServer runs an HTTP server exposing /metrics and /health.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a metrics server on addr. /metrics serves gatherer
// (the default registry when nil); /health serves health as JSON when given.
func NewMetricsServer(addr string, gatherer prometheus.Gatherer, health func() HealthResponse) *MetricsServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if health == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
			return
		}
		status := health()
		w.Header().Set("Content-Type", "application/json")
		if !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's HTTP handler.
func (s *MetricsServer) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the metrics server (blocking).
func (s *MetricsServer) Start() error {
	return s.server.ListenAndServe()
}

// StartAsync starts the metrics server in a goroutine.
func (s *MetricsServer) StartAsync() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop stops the metrics server.
func (s *MetricsServer) Stop() error {
	return s.server.Close()
}
