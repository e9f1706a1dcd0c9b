package telemetry

import (
	"context"

	"github.com/af-corp/warden/internal/audit"
)

// DecisionSink counts pipeline decision events as Prometheus metrics. It
// rides the audit fan-out so every stage verdict increments
// warden_stage_decision_total, and rate-limit verdicts additionally feed
// warden_rate_limit_total with the requester's tier.
type DecisionSink struct {
	metrics *Metrics
}

var _ audit.Sink = (*DecisionSink)(nil)

func NewDecisionSink(m *Metrics) *DecisionSink {
	return &DecisionSink{metrics: m}
}

func (s *DecisionSink) Emit(ctx context.Context, e audit.Event) {
	s.metrics.RecordStageDecision(e.Stage, e.Decision)
	if e.Stage == "rate_limit" {
		s.metrics.RecordRateLimit(e.Tier, e.Decision)
	}
}
