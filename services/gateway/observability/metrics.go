// Package observability provides Prometheus metrics for the gateway.
//
// Metrics are exposed via the /metrics endpoint and cover chat turn
// throughput, latency, token usage, degraded-mode activations, and errors by
// taxonomy code. All operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "chopsky"

const gatewaySubsystem = "gateway"

// ChatMetrics holds all Prometheus metrics for chat turn processing.
// Initialize once at startup via NewChatMetrics.
type ChatMetrics struct {
	// TurnsTotal counts chat turns by outcome.
	// Labels: status (success, mock, error)
	TurnsTotal *prometheus.CounterVec

	// TurnDurationSeconds measures end-to-end turn latency.
	// Labels: status (success, mock, error)
	TurnDurationSeconds *prometheus.HistogramVec

	// TokensTotal counts tokens processed by direction and model.
	// Labels: direction (input, output), model
	TokensTotal *prometheus.CounterVec

	// ErrorsTotal counts errors by taxonomy code.
	// Labels: error_code (validation, configuration, degraded_mode, upstream,
	// telemetry, internal)
	ErrorsTotal *prometheus.CounterVec

	// DegradedModeTotal counts requests served (or refused) without a usable
	// model credential.
	// Labels: outcome (mock_served, production_refused)
	DegradedModeTotal *prometheus.CounterVec

	// ActiveTurns tracks in-flight chat turns.
	ActiveTurns prometheus.Gauge
}

// NewChatMetrics creates and registers all gateway metrics on the default
// registry. Panics if called twice.
func NewChatMetrics() *ChatMetrics {
	return &ChatMetrics{
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "turns_total",
				Help:      "Total chat turns by outcome",
			},
			[]string{"status"},
		),

		TurnDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "turn_duration_seconds",
				Help:      "End-to-end chat turn latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"status"},
		),

		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "tokens_total",
				Help:      "Total tokens processed by direction and model",
			},
			[]string{"direction", "model"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "errors_total",
				Help:      "Total chat turn errors by taxonomy code",
			},
			[]string{"error_code"},
		),

		DegradedModeTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "degraded_mode_total",
				Help:      "Requests handled without a usable model credential",
			},
			[]string{"outcome"},
		),

		ActiveTurns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "active_turns",
				Help:      "Number of chat turns currently in flight",
			},
		),
	}
}

// ErrorCode categorizes an error for metrics labeling.
type ErrorCode string

const (
	ErrorCodeValidation    ErrorCode = "validation"
	ErrorCodeConfiguration ErrorCode = "configuration"
	ErrorCodeDegradedMode  ErrorCode = "degraded_mode"
	ErrorCodeUpstream      ErrorCode = "upstream"
	ErrorCodeTelemetry     ErrorCode = "telemetry"
	ErrorCodeInternal      ErrorCode = "internal"
)

// RecordTurn records a completed chat turn with its latency.
func (m *ChatMetrics) RecordTurn(status string, seconds float64) {
	m.TurnsTotal.WithLabelValues(status).Inc()
	m.TurnDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordError records an error by taxonomy code.
func (m *ChatMetrics) RecordError(code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(code)).Inc()
}

// RecordTokens records token usage for a turn.
func (m *ChatMetrics) RecordTokens(inputTokens, outputTokens int, model string) {
	m.TokensTotal.WithLabelValues("input", model).Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues("output", model).Add(float64(outputTokens))
}

// RecordDegradedMode records a degraded-mode activation.
func (m *ChatMetrics) RecordDegradedMode(outcome string) {
	m.DegradedModeTotal.WithLabelValues(outcome).Inc()
}

// TurnStarted increments the in-flight gauge.
func (m *ChatMetrics) TurnStarted() { m.ActiveTurns.Inc() }

// TurnEnded decrements the in-flight gauge.
func (m *ChatMetrics) TurnEnded() { m.ActiveTurns.Dec() }
