package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	RequestTotal        *prometheus.CounterVec
	StageDecisionTotal  *prometheus.CounterVec
	RateLimitTotal      *prometheus.CounterVec
	ExecutionDurationMs *prometheus.HistogramVec
	TokensTotal         *prometheus.CounterVec
	ProviderSpendUSD    *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_request_total",
			Help: "Total number of requests processed by the pipeline.",
		}, []string{"surface", "tier", "kind", "status"}),

		StageDecisionTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_stage_decision_total",
			Help: "Admission decisions per pipeline stage.",
		}, []string{"stage", "decision"}),

		RateLimitTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_rate_limit_total",
			Help: "Rate limit admissions and denials.",
		}, []string{"tier", "outcome"}),

		ExecutionDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_execution_duration_ms",
			Help:    "Supervised execution duration in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"kind", "outcome"}),

		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_tokens_total",
			Help: "Total tokens processed by providers.",
		}, []string{"provider", "direction"}),

		ProviderSpendUSD: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_provider_spend_usd_total",
			Help: "Accumulated provider spend in USD.",
		}, []string{"provider", "complexity"}),
	}
}

// RecordStageDecision counts one admission decision.
func (m *Metrics) RecordStageDecision(stage, decision string) {
	m.StageDecisionTotal.WithLabelValues(stage, decision).Inc()
}

// RecordRateLimit counts one rate-limit outcome.
func (m *Metrics) RecordRateLimit(tier, outcome string) {
	m.RateLimitTotal.WithLabelValues(tier, outcome).Inc()
}

// RecordRequest records metrics for a completed request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	m.RequestTotal.WithLabelValues(
		labels.Surface, labels.Tier, labels.Kind, labels.Status,
	).Inc()

	m.ExecutionDurationMs.WithLabelValues(
		labels.Kind, labels.Status,
	).Observe(labels.DurationMs)

	if labels.PromptTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Provider, "prompt").
			Add(float64(labels.PromptTokens))
	}
	if labels.CompletionTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Provider, "completion").
			Add(float64(labels.CompletionTokens))
	}
	if labels.CostUSD > 0 {
		m.ProviderSpendUSD.WithLabelValues(labels.Provider, labels.Complexity).
			Add(labels.CostUSD)
	}
}

// RequestLabels holds the label values for recording a request.
type RequestLabels struct {
	Surface          string
	Tier             string
	Kind             string
	Status           string
	Provider         string
	Complexity       string
	DurationMs       float64
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}
