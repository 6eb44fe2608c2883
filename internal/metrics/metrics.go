// Package metrics provides Prometheus metrics collection for the event fabric.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the event fabric.
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Event bus metrics
	BusPublishedTotal *prometheus.CounterVec
	BusFailedTotal    *prometheus.CounterVec
	BusDLQTotal       *prometheus.CounterVec
	BusDLQSize        prometheus.Gauge
	BusCircuitState   *prometheus.GaugeVec

	// Task manager metrics
	TasksSubmittedTotal  *prometheus.CounterVec
	TasksCompletedTotal  *prometheus.CounterVec
	TaskDuration         *prometheus.HistogramVec
	TasksInProgress      prometheus.Gauge

	// Webhook metrics
	WebhookDeliveriesTotal   *prometheus.CounterVec
	WebhookDeliveryDuration  *prometheus.HistogramVec

	// Rate limiter metrics
	RateLimitChecksTotal *prometheus.CounterVec

	// Alert engine metrics
	AlertsFiredTotal *prometheus.CounterVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		BusPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventbus_published_total",
				Help: "Total number of envelopes successfully published",
			},
			[]string{"backend", "topic"},
		),
		BusFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventbus_failed_total",
				Help: "Total number of envelopes that exhausted retries",
			},
			[]string{"backend", "topic"},
		),
		BusDLQTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventbus_dlq_added_total",
				Help: "Total number of envelopes pushed to the dead-letter queue",
			},
			[]string{"backend", "reason"},
		),
		BusDLQSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "eventbus_dlq_size",
				Help: "Current number of entries in the dead-letter queue",
			},
		),
		BusCircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "eventbus_circuit_state",
				Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"backend"},
		),

		TasksSubmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasks_submitted_total",
				Help: "Total number of tasks submitted",
			},
			[]string{"type"},
		),
		TasksCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasks_completed_total",
				Help: "Total number of tasks reaching a terminal state",
			},
			[]string{"type", "state"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "task_duration_seconds",
				Help:    "Task duration from start to terminal state",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		TasksInProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tasks_in_progress",
				Help: "Current number of running tasks",
			},
		),

		WebhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_deliveries_total",
				Help: "Total number of webhook delivery attempts",
			},
			[]string{"webhook_id", "status"},
		),
		WebhookDeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_delivery_duration_seconds",
				Help:    "Webhook delivery duration including retries",
				Buckets: []float64{.01, .05, .1, .5, 1, 2, 5, 10, 30},
			},
			[]string{"webhook_id"},
		),

		RateLimitChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_checks_total",
				Help: "Total number of rate limit checks",
			},
			[]string{"algorithm", "allowed"},
		),

		AlertsFiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerts_fired_total",
				Help: "Total number of alerts fired",
			},
			[]string{"rule", "severity"},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.BusPublishedTotal,
			m.BusFailedTotal,
			m.BusDLQTotal,
			m.BusDLQSize,
			m.BusCircuitState,
			m.TasksSubmittedTotal,
			m.TasksCompletedTotal,
			m.TaskDuration,
			m.TasksInProgress,
			m.WebhookDeliveriesTotal,
			m.WebhookDeliveryDuration,
			m.RateLimitChecksTotal,
			m.AlertsFiredTotal,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error.
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordBusPublish records a successful publish.
func (m *Metrics) RecordBusPublish(backend, topic string) {
	m.BusPublishedTotal.WithLabelValues(backend, topic).Inc()
}

// RecordBusFailure records an exhausted-retries publish failure.
func (m *Metrics) RecordBusFailure(backend, topic string) {
	m.BusFailedTotal.WithLabelValues(backend, topic).Inc()
}

// RecordBusDLQAdd records an entry pushed to the dead-letter queue.
func (m *Metrics) RecordBusDLQAdd(backend, reason string, size int) {
	m.BusDLQTotal.WithLabelValues(backend, reason).Inc()
	m.BusDLQSize.Set(float64(size))
}

// SetCircuitState records the current circuit breaker state (0/1/2).
func (m *Metrics) SetCircuitState(backend string, state int) {
	m.BusCircuitState.WithLabelValues(backend).Set(float64(state))
}

// RecordTaskSubmitted records a task submission.
func (m *Metrics) RecordTaskSubmitted(taskType string) {
	m.TasksSubmittedTotal.WithLabelValues(taskType).Inc()
}

// RecordTaskCompleted records a task reaching a terminal state.
func (m *Metrics) RecordTaskCompleted(taskType, state string, duration time.Duration) {
	m.TasksCompletedTotal.WithLabelValues(taskType, state).Inc()
	m.TaskDuration.WithLabelValues(taskType).Observe(duration.Seconds())
}

// SetTasksInProgress sets the current running-task gauge.
func (m *Metrics) SetTasksInProgress(count int) {
	m.TasksInProgress.Set(float64(count))
}

// RecordWebhookDelivery records a webhook delivery attempt outcome.
func (m *Metrics) RecordWebhookDelivery(webhookID, status string, duration time.Duration) {
	m.WebhookDeliveriesTotal.WithLabelValues(webhookID, status).Inc()
	m.WebhookDeliveryDuration.WithLabelValues(webhookID).Observe(duration.Seconds())
}

// RecordRateLimitCheck records a rate limit check outcome.
func (m *Metrics) RecordRateLimitCheck(algorithm string, allowed bool) {
	label := "true"
	if !allowed {
		label = "false"
	}
	m.RateLimitChecksTotal.WithLabelValues(algorithm, label).Inc()
}

// RecordAlertFired records an alert firing.
func (m *Metrics) RecordAlertFired(rule, severity string) {
	m.AlertsFiredTotal.WithLabelValues(rule, severity).Inc()
}

// UpdateUptime updates the service uptime gauge.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests gauge.
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests gauge.
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

func getEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if env == "" {
		return "development"
	}
	return env
}

// Enabled returns whether Prometheus metrics should be exposed.
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return getEnvironment() != "production"
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance, initializing it if necessary.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
