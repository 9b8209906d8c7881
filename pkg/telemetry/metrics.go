package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Step outcomes recorded on steps_total.
const (
	StepOutcomeAdvanced = "advanced"
	StepOutcomeComplete = "complete"
	StepOutcomeError    = "error"
)

// Metrics provides Prometheus metrics for the run engine.
// A nil *Metrics or one built with metrics disabled records nothing.
type Metrics struct {
	config MetricsConfig

	runsInitialized *prometheus.CounterVec
	steps           *prometheus.CounterVec
	stepDuration    prometheus.Histogram
	slicesAppended  *prometheus.CounterVec
	sliceBytes      *prometheus.HistogramVec
	errorsByClass   *prometheus.CounterVec
	activeRuns      prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsInitialized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_initialized_total",
				Help:      "Total number of runs initialized",
			},
			[]string{"model"},
		),
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of step requests by outcome",
			},
			[]string{"outcome"},
		),
		stepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of a single step including persistence",
				Buckets:   buckets,
			},
		),
		slicesAppended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "slices_appended_total",
				Help:      "Total number of field slices committed",
			},
			[]string{"series"},
		),
		sliceBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "slice_bytes",
				Help:      "Compressed size of committed field slices",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
			},
			[]string{"series"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Runs with a step in progress",
			},
		),
	}

	registry.MustRegister(
		m.runsInitialized,
		m.steps,
		m.stepDuration,
		m.slicesAppended,
		m.sliceBytes,
		m.errorsByClass,
		m.activeRuns,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordRunInitialized counts a successful init.
func (m *Metrics) RecordRunInitialized(model string) {
	if !m.enabled() {
		return
	}
	m.runsInitialized.WithLabelValues(model).Inc()
}

// StepStarted marks a step as in progress.
func (m *Metrics) StepStarted() {
	if !m.enabled() {
		return
	}
	m.activeRuns.Inc()
}

// RecordStep records the outcome and duration of a step request.
func (m *Metrics) RecordStep(outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.activeRuns.Dec()
	m.steps.WithLabelValues(outcome).Inc()
	m.stepDuration.Observe(duration.Seconds())
}

// ObserveSlice records one committed slice and its compressed size.
func (m *Metrics) ObserveSlice(series string, compressedBytes int) {
	if !m.enabled() {
		return
	}
	m.slicesAppended.WithLabelValues(series).Inc()
	m.sliceBytes.WithLabelValues(series).Observe(float64(compressedBytes))
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Registry exposes the underlying registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is cancelled.
// An empty addr uses the configured listen address.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	if !m.enabled() {
		return nil
	}

	if addr == "" {
		addr = m.config.ListenAddress
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
