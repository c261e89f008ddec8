// Package metrics holds the Prometheus registry for the control plane.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all control-plane metrics.
type Registry struct {
	// Authentication
	AuthAttempts *prometheus.CounterVec

	// Rate limiting
	RateLimitRejections *prometheus.CounterVec

	// Privileged operations
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Violations        prometheus.Counter

	// API surface
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec

	// Host state
	Uptime         prometheus.Gauge
	CPUUsed        prometheus.Gauge
	CPUTemperature prometheus.Gauge
	MemoryUsed     prometheus.Gauge
	DiskUsed       prometheus.Gauge
	ModulesActive  prometheus.Gauge

	// Registry reloads
	RegistryReloads *prometheus.CounterVec

	// Audit trail
	AuditEvents *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "luigid_auth_attempts_total",
		Help: "Authentication attempts by outcome",
	}, []string{"outcome"})

	r.RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "luigid_ratelimit_rejections_total",
		Help: "Requests rejected by the rate limiter per tier",
	}, []string{"tier"})

	r.Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "luigid_operations_total",
		Help: "Privileged operations by kind, target and outcome",
	}, []string{"kind", "target", "outcome"})

	r.OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "luigid_operation_duration_seconds",
		Help:    "Privileged operation duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	r.Violations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "luigid_validation_violations_total",
		Help: "Requests rejected by input validation",
	})

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "luigid_api_requests_total",
		Help: "API requests by method, path and status",
	}, []string{"method", "path", "status"})

	r.APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "luigid_api_request_duration_seconds",
		Help:    "API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	r.Uptime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "luigid_uptime_seconds",
		Help: "Daemon uptime in seconds",
	})

	r.CPUUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "luigid_cpu_used_percent",
		Help: "Host CPU usage",
	})

	r.CPUTemperature = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "luigid_cpu_temperature_celsius",
		Help: "CPU temperature",
	})

	r.MemoryUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "luigid_memory_used_percent",
		Help: "Host memory usage",
	})

	r.DiskUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "luigid_disk_used_percent",
		Help: "Root filesystem usage",
	})

	r.ModulesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "luigid_modules_active",
		Help: "Number of modules currently active",
	})

	r.RegistryReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "luigid_registry_reloads_total",
		Help: "Module registry reloads by status",
	}, []string{"status"})

	r.AuditEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "luigid_audit_events_total",
		Help: "Audit events by type",
	}, []string{"event_type"})

	return r
}

// RecordAuthAttempt records an authentication attempt.
func (r *Registry) RecordAuthAttempt(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.AuthAttempts.WithLabelValues(outcome).Inc()
}

// RecordOperation records a privileged operation and its duration.
func (r *Registry) RecordOperation(kind, target string, success bool, seconds float64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.Operations.WithLabelValues(kind, target, outcome).Inc()
	r.OperationDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordAPIRequest records an API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, duration float64) {
	r.APIRequests.WithLabelValues(method, path, statusString(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(duration)
}

// RecordRateLimited records a rate-limit rejection.
func (r *Registry) RecordRateLimited(tier string) {
	r.RateLimitRejections.WithLabelValues(tier).Inc()
}

func statusString(status int) string {
	return fmt.Sprintf("%d", status)
}
