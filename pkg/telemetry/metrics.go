package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for xbzone.
type Metrics struct {
	config MetricsConfig

	// Placement metrics
	portGroupsSelected *prometheus.CounterVec
	portsSelected      prometheus.Histogram
	zoningAssignments  *prometheus.CounterVec
	zoningGaps         *prometheus.CounterVec

	// Step metrics
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	activeSteps  prometheus.Gauge

	// Lock metrics
	lockWait *prometheus.HistogramVec

	// Device metrics
	deviceCalls  *prometheus.CounterVec
	deviceErrors *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
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

		portGroupsSelected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "port_groups_selected_total",
				Help:      "Total number of port group selections by result",
			},
			[]string{"result"},
		),
		portsSelected: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ports_selected",
				Help:      "Number of storage ports in a selected port group",
				Buckets:   []float64{0, 2, 4, 8, 16, 32, 64},
			},
		),
		zoningAssignments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "zoning_assignments_total",
				Help:      "Total number of initiator to port assignments",
			},
			[]string{"director"},
		),
		zoningGaps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "zoning_gaps_total",
				Help:      "Total number of initiators left without a storage port",
			},
			[]string{"network"},
		),

		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of workflow steps by operation and final status",
			},
			[]string{"operation", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of workflow steps in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		activeSteps: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_steps",
				Help:      "Current number of executing workflow steps",
			},
		),

		lockWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting for step locks in seconds",
				Buckets:   buckets,
			},
			[]string{"class"},
		),

		deviceCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_calls_total",
				Help:      "Total number of device driver calls",
			},
			[]string{"operation"},
		),
		deviceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_errors_total",
				Help:      "Total number of failed device driver operations",
			},
			[]string{"operation"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.portGroupsSelected,
		m.portsSelected,
		m.zoningAssignments,
		m.zoningGaps,
		m.steps,
		m.stepDuration,
		m.activeSteps,
		m.lockWait,
		m.deviceCalls,
		m.deviceErrors,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Placement Metrics

// RecordPortGroupSelection records a selection outcome and the number of ports it produced.
func (m *Metrics) RecordPortGroupSelection(feasible bool, ports int) {
	if m == nil || m.portGroupsSelected == nil {
		return
	}
	result := "feasible"
	if !feasible {
		result = "infeasible"
	}
	m.portGroupsSelected.WithLabelValues(result).Inc()
	m.portsSelected.Observe(float64(ports))
}

// RecordZoningAssignment records one initiator zoned through director.
func (m *Metrics) RecordZoningAssignment(director string) {
	if m == nil || m.zoningAssignments == nil {
		return
	}
	m.zoningAssignments.WithLabelValues(director).Inc()
}

// RecordZoningGap records an initiator on network left without a port.
func (m *Metrics) RecordZoningGap(network string) {
	if m == nil || m.zoningGaps == nil {
		return
	}
	m.zoningGaps.WithLabelValues(network).Inc()
}

// Step Metrics

// RecordStepStarted tracks a step entering execution.
func (m *Metrics) RecordStepStarted() {
	if m == nil || m.activeSteps == nil {
		return
	}
	m.activeSteps.Inc()
}

// RecordStepCompleted records a step reaching a terminal status.
func (m *Metrics) RecordStepCompleted(operation, status string, duration time.Duration) {
	if m == nil || m.steps == nil {
		return
	}
	m.steps.WithLabelValues(operation, status).Inc()
	m.stepDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.activeSteps.Dec()
}

// Lock Metrics

// RecordLockWait records the time a step waited for its locks.
func (m *Metrics) RecordLockWait(class string, wait time.Duration) {
	if m == nil || m.lockWait == nil {
		return
	}
	m.lockWait.WithLabelValues(class).Observe(wait.Seconds())
}

// Device Metrics

// RecordDeviceCall records a device driver invocation.
func (m *Metrics) RecordDeviceCall(operation string) {
	if m == nil || m.deviceCalls == nil {
		return
	}
	m.deviceCalls.WithLabelValues(operation).Inc()
}

// RecordDeviceError records a device operation that reported failure.
func (m *Metrics) RecordDeviceError(operation string) {
	if m == nil || m.deviceErrors == nil {
		return
	}
	m.deviceErrors.WithLabelValues(operation).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry returns the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
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
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server stopped")
		}
	}()

	return nil
}
