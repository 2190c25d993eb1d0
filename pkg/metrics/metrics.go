package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Guard metrics
	GuardRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailguard_requests_total",
		Help: "Total number of guarded operations grouped by operation and outcome",
	}, []string{"operation", "outcome"})
	GuardRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mailguard_request_duration_seconds",
		Help:    "Duration of guarded operations from receipt to response",
		Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30, 60, 120},
	}, []string{"operation"})

	// Rate limiter metrics
	RateLimitDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailguard_ratelimit_decisions_total",
		Help: "Total number of rate limit decisions grouped by class and result",
	}, []string{"class", "result"})
	RateLimitDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailguard_ratelimit_denials_total",
		Help: "Total number of rate limit denials grouped by class and reason",
	}, []string{"class", "reason"})

	// Lockout metrics
	LockoutsTriggered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mailguard_lockouts_triggered_total",
		Help: "Total number of targets locked out after repeated failures",
	})
	LockoutRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mailguard_lockout_rejections_total",
		Help: "Total number of operations rejected because the target was locked out",
	})

	// Mail metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailguard_mail_send_success_total",
		Help: "Total number of messages accepted by the relay",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailguard_mail_send_failure_total",
		Help: "Total number of messages that could not be delivered, by failure kind",
	}, []string{"host", "kind"})
	MailSendAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailguard_mail_send_attempts_total",
		Help: "Total number of relay session attempts by result",
	}, []string{"host", "result"})
	MailSendRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailguard_mail_send_retries_total",
		Help: "Total number of retries after a retryable transport failure",
	}, []string{"host"})

	// Audit metrics
	AuditRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailguard_audit_records_total",
		Help: "Total number of audit records written grouped by operation and outcome",
	}, []string{"operation", "outcome"})
	AuditSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailguard_audit_sink_errors_total",
		Help: "Total number of audit sink write errors",
	}, []string{"sink"})
	AuditSinkLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mailguard_audit_sink_latency_seconds",
		Help:    "Latency of audit sink writes",
		Buckets: prometheus.DefBuckets,
	}, []string{"sink"})
	AuditKafkaErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailguard_audit_kafka_errors_total",
		Help: "Total number of Kafka audit sink errors grouped by error class",
	}, []string{"error_type"})
	AuditCircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mailguard_audit_circuit_breaker_state",
		Help: "Circuit breaker state per audit sink (0=closed, 1=open, 2=half-open)",
	}, []string{"sink"})
	AuditCircuitBreakerRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailguard_audit_circuit_breaker_rejections_total",
		Help: "Total number of audit writes skipped because the sink circuit was open",
	}, []string{"sink"})

	// Store metrics
	ConfigStoreOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailguard_config_store_operations_total",
		Help: "Total number of configuration store operations grouped by backend, operation and result",
	}, []string{"backend", "operation", "result"})
)

func init() {
	prometheus.MustRegister(GuardRequests)
	prometheus.MustRegister(GuardRequestDuration)
	prometheus.MustRegister(RateLimitDecisions)
	prometheus.MustRegister(RateLimitDenials)
	prometheus.MustRegister(LockoutsTriggered)
	prometheus.MustRegister(LockoutRejections)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(MailSendAttempts)
	prometheus.MustRegister(MailSendRetries)
	prometheus.MustRegister(AuditRecords)
	prometheus.MustRegister(AuditSinkErrors)
	prometheus.MustRegister(AuditSinkLatency)
	prometheus.MustRegister(AuditKafkaErrors)
	prometheus.MustRegister(AuditCircuitBreakerState)
	prometheus.MustRegister(AuditCircuitBreakerRejections)
	prometheus.MustRegister(ConfigStoreOperations)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
