package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec
	solanaRPCRetries      *prometheus.CounterVec

	// Confirmation Metrics
	confirmationOutcomesTotal *prometheus.CounterVec
	confirmationAttempts      *prometheus.HistogramVec

	// Session Metrics
	sessionTransitionsTotal *prometheus.CounterVec
	sessionConnected        prometheus.Gauge
	balanceRefreshesTotal   *prometheus.CounterVec
	mintsTotal              *prometheus.CounterVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		// Confirmation Metrics
		confirmationOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_confirmation_outcomes_total",
				Help: "Submitted transactions by confirmation outcome (confirmed, failed, timed_out)",
			},
			[]string{"outcome"},
		),
		confirmationAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_confirmation_attempts",
				Help:    "Number of status polls needed before a confirmation outcome",
				Buckets: []float64{1, 2, 3, 5, 10, 20, 30},
			},
			[]string{"outcome"},
		),

		// Session Metrics
		sessionTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_session_transitions_total",
				Help: "Wallet session state transitions",
			},
			[]string{"from", "to"},
		),
		sessionConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wallet_session_connected",
				Help: "1 while a wallet session is connected, 0 otherwise",
			},
		),
		balanceRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_balance_refreshes_total",
				Help: "Balance refreshes by trigger and result (applied, stale, error)",
			},
			[]string{"trigger", "result"},
		),
		mintsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mint_payments_total",
				Help: "Mint payment attempts by result",
			},
			[]string{"result"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// Confirmation metric helpers

// RecordConfirmation records the outcome of one submit-confirm cycle.
func (m *Metrics) RecordConfirmation(outcome string, attempts int) {
	m.confirmationOutcomesTotal.WithLabelValues(outcome).Inc()
	m.confirmationAttempts.WithLabelValues(outcome).Observe(float64(attempts))
}

// Session metric helpers

// RecordSessionTransition records a session state change and keeps the connected gauge current.
func (m *Metrics) RecordSessionTransition(from, to string) {
	m.sessionTransitionsTotal.WithLabelValues(from, to).Inc()
	if to == "connected" {
		m.sessionConnected.Set(1)
	} else {
		m.sessionConnected.Set(0)
	}
}

// RecordBalanceRefresh records a balance refresh result.
func (m *Metrics) RecordBalanceRefresh(trigger, result string) {
	m.balanceRefreshesTotal.WithLabelValues(trigger, result).Inc()
}

// RecordMint records a mint payment attempt.
func (m *Metrics) RecordMint(result string) {
	m.mintsTotal.WithLabelValues(result).Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
