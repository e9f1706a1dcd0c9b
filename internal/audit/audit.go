// Package audit records pipeline decisions. Events carry stage verdicts,
// matched rule categories, and reasons; never raw request text or argument
// values.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event is one pipeline decision.
type Event struct {
	Time      time.Time
	RequestID string
	UserID    string
	SurfaceID string
	// Tier is the requester's rate tier; it travels on the event for
	// metric labels and is not persisted.
	Tier     string
	Stage    string
	Decision string
	// Categories are matched rule names or pattern categories.
	Categories []string
	Reason     string
	Provider   string
	Score      float64
}

// Sink receives decision events. Emissions are best effort: a sink failure
// never affects the pipeline's verdict.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, e Event) {
	attrs := []any{
		"request_id", e.RequestID,
		"user_id", e.UserID,
		"surface_id", e.SurfaceID,
		"stage", e.Stage,
		"decision", e.Decision,
	}
	if len(e.Categories) > 0 {
		attrs = append(attrs, "categories", e.Categories)
	}
	if e.Reason != "" {
		attrs = append(attrs, "reason", e.Reason)
	}
	if e.Provider != "" {
		attrs = append(attrs, "provider", e.Provider)
	}
	if e.Score != 0 {
		attrs = append(attrs, "score", e.Score)
	}
	s.logger.InfoContext(ctx, "pipeline decision", attrs...)
}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(ctx context.Context, e Event) {}
