package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for bootstrap runs. When metrics are
// disabled every method is a no-op, so callers never need to nil-check.
type Metrics struct {
	config MetricsConfig

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec

	unitsExecuted *prometheus.CounterVec
	unitDuration  prometheus.Histogram

	packagesInstalled *prometheus.CounterVec
	installAttempts   *prometheus.CounterVec
	installDuration   prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of bootstrap runs started",
			},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of bootstrap runs completed",
			},
			[]string{"status"},
		),
		unitsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_executed_total",
				Help:      "Total number of units of work executed",
			},
			[]string{"status"},
		),
		unitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_duration_seconds",
				Help:      "Duration of unit execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		packagesInstalled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packages_installed_total",
				Help:      "Total number of packages installed",
			},
			[]string{"source"},
		),
		installAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "install_attempts_total",
				Help:      "Total number of installer invocations",
			},
			[]string{"result"},
		),
		installDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "install_duration_seconds",
				Help:      "Duration of installer invocations in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.unitsExecuted,
		m.unitDuration,
		m.packagesInstalled,
		m.installAttempts,
		m.installDuration,
	)

	return m, nil
}

// RunStarted records a bootstrap run start.
func (m *Metrics) RunStarted() {
	if m.runsStarted != nil {
		m.runsStarted.Inc()
	}
}

// RunCompleted records a bootstrap run completion with its final status.
func (m *Metrics) RunCompleted(status string) {
	if m.runsCompleted != nil {
		m.runsCompleted.WithLabelValues(status).Inc()
	}
}

// UnitExecuted records a unit outcome and its duration in seconds.
func (m *Metrics) UnitExecuted(status string, seconds float64) {
	if m.unitsExecuted != nil {
		m.unitsExecuted.WithLabelValues(status).Inc()
		m.unitDuration.Observe(seconds)
	}
}

// PackageInstalled records one installed package by source (cache or remote).
func (m *Metrics) PackageInstalled(source string) {
	if m.packagesInstalled != nil {
		m.packagesInstalled.WithLabelValues(source).Inc()
	}
}

// InstallAttempt records one installer invocation and its duration.
func (m *Metrics) InstallAttempt(result string, seconds float64) {
	if m.installAttempts != nil {
		m.installAttempts.WithLabelValues(result).Inc()
		m.installDuration.Observe(seconds)
	}
}

// Handler returns the HTTP handler serving the metrics endpoint, or nil when
// metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP server in a goroutine. It is a no-op when
// metrics are disabled.
func (m *Metrics) Serve() {
	handler := m.Handler()
	if handler == nil {
		return
	}
	mux := http.NewServeMux()
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, handler)
	go func() {
		_ = http.ListenAndServe(m.config.ListenAddress, mux)
	}()
}
