// Package pipeline chains the admission stages and executes admitted
// requests. Stage order is fixed: cheap synchronous checks run before
// anything that costs money or holds resources, and a rejection at any stage
// stops the request before the next stage is consulted.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/af-corp/warden/internal/audit"
	"github.com/af-corp/warden/internal/concurrency"
	"github.com/af-corp/warden/internal/dispatch"
	"github.com/af-corp/warden/internal/policy"
	"github.com/af-corp/warden/internal/ratelimit"
	"github.com/af-corp/warden/internal/sanitizer"
	"github.com/af-corp/warden/internal/supervisor"
	"github.com/af-corp/warden/internal/tools"
	"github.com/af-corp/warden/internal/types"
	"github.com/af-corp/warden/internal/vetting"
)

type Pipeline struct {
	sanitizer  *sanitizer.Sanitizer
	gate       *policy.Gate
	vetter     *vetting.Vetter
	limiter    *ratelimit.Limiter
	governor   *concurrency.Governor
	supervisor *supervisor.Supervisor
	dispatcher *dispatch.Dispatcher
	tools      *tools.Registry
	sink       audit.Sink
	logger     *slog.Logger
}

func New(
	san *sanitizer.Sanitizer,
	gate *policy.Gate,
	vetter *vetting.Vetter,
	limiter *ratelimit.Limiter,
	governor *concurrency.Governor,
	sup *supervisor.Supervisor,
	dispatcher *dispatch.Dispatcher,
	registry *tools.Registry,
	sink audit.Sink,
	logger *slog.Logger,
) *Pipeline {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		sanitizer:  san,
		gate:       gate,
		vetter:     vetter,
		limiter:    limiter,
		governor:   governor,
		supervisor: sup,
		dispatcher: dispatcher,
		tools:      registry,
		sink:       sink,
		logger:     logger,
	}
}

// Process runs one request through every admission stage and, if admitted,
// executes it under supervision. It returns exactly one outcome.
func (p *Pipeline) Process(ctx context.Context, req *types.Request) (*types.Response, error) {
	var warnings []string

	// Sanitizer: a block ends the request before any other stage runs.
	assessment := p.sanitizer.Assess(req)
	switch assessment.Verdict {
	case sanitizer.VerdictBlock:
		p.emit(ctx, req, "sanitizer", "block", assessment.Matched, "", assessment.Score)
		return nil, &SanitizerError{Score: assessment.Score, Categories: assessment.Matched}
	case sanitizer.VerdictWarn:
		// Warned requests proceed but the categories travel with the
		// response and the audit trail.
		p.emit(ctx, req, "sanitizer", "warn", assessment.Matched, "", assessment.Score)
		warnings = assessment.Matched
	}

	// Tool requests pass the policy gate and the vetter before anything is
	// committed.
	if req.WantsTool() {
		decision := p.gate.Authorize(ctx, req)
		p.emit(ctx, req, "policy", string(decision.Verdict), nil, decision.Reason, 0)
		if decision.Verdict == policy.VerdictDeny {
			return nil, &PolicyError{ToolName: req.ToolName, Reason: decision.Reason}
		}

		vetted := p.vetter.Vet(ctx, req)
		p.emit(ctx, req, "vetting", string(vetted.Verdict), nil, vetted.Reason, 0)
		if vetted.Verdict == vetting.VerdictDeny {
			return nil, &VettingError{ToolName: req.ToolName, Stage: string(vetted.Stage), Reason: vetted.Reason}
		}
	}

	// Per-user token bucket.
	acquired := p.limiter.TryAcquire(req.UserID, req.Tier)
	if !acquired.Admitted {
		p.emit(ctx, req, "rate_limit", "denied", nil, "", 0)
		return nil, &RateLimitError{RetryAfter: acquired.RetryAfter}
	}

	// Tool requests additionally hold a concurrency slot for the duration
	// of execution.
	var slot *concurrency.Slot
	if req.WantsTool() {
		s, active, max, ok := p.governor.TryAcquire(req.UserID)
		if !ok {
			p.emit(ctx, req, "concurrency", "rejected", nil, "", 0)
			return nil, &ConcurrencyError{Active: active, Max: max}
		}
		slot = s
	}

	outcome := p.supervisor.Run(ctx, req.ID, p.operation(req, warnings))

	// The slot is released before the caller observes the outcome, on
	// every path.
	slot.Release()

	switch {
	case outcome.TimedOut:
		p.emit(ctx, req, "execution", "timeout", nil, "", 0)
		return nil, &TimeoutError{Elapsed: outcome.Elapsed}
	case outcome.Err != nil:
		p.emit(ctx, req, "execution", "failed", nil, outcome.Err.Error(), 0)
		return nil, outcome.Err
	}

	resp := outcome.Response
	p.sink.Emit(ctx, audit.Event{
		Time:      time.Now(),
		RequestID: req.ID,
		UserID:    req.UserID,
		SurfaceID: req.SurfaceID,
		Stage:     "execution",
		Decision:  "completed",
		Provider:  resp.Provider,
	})
	return resp, nil
}

// operation builds the supervised unit of work: tool execution for tool
// requests, provider dispatch for plain generation.
func (p *Pipeline) operation(req *types.Request, warnings []string) supervisor.Operation {
	return func(ctx context.Context) (*types.Response, error) {
		if req.WantsTool() {
			executor, ok := p.tools.Get(req.ToolName)
			if !ok {
				return nil, fmt.Errorf("no executor registered for tool %q", req.ToolName)
			}
			result, err := executor.Execute(ctx, req.ToolArgs)
			if err != nil {
				return nil, fmt.Errorf("tool %s: %w", req.ToolName, err)
			}
			return &types.Response{
				RequestID: req.ID,
				Kind:      types.KindTool,
				Content:   result,
				ToolName:  req.ToolName,
				Warnings:  warnings,
			}, nil
		}

		decision, err := p.dispatcher.Decide(req)
		if err != nil {
			return nil, err
		}
		resp, err := p.dispatcher.Invoke(ctx, req, decision, []types.Message{
			{Role: "user", Content: req.Text},
		})
		if err != nil {
			return nil, err
		}
		resp.Warnings = warnings
		return resp, nil
	}
}

func (p *Pipeline) emit(ctx context.Context, req *types.Request, stage, decision string, categories []string, reason string, score float64) {
	p.sink.Emit(ctx, audit.Event{
		Time:       time.Now(),
		RequestID:  req.ID,
		UserID:     req.UserID,
		SurfaceID:  req.SurfaceID,
		Tier:       string(req.Tier),
		Stage:      stage,
		Decision:   decision,
		Categories: categories,
		Reason:     reason,
		Score:      score,
	})
}
