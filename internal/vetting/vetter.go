// Package vetting performs the two-stage intent check on tool invocations
// that already passed the policy gate.
package vetting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/af-corp/warden/internal/config"
	"github.com/af-corp/warden/internal/types"
)

// Stage identifies which vetting stage produced a result.
type Stage string

const (
	StageDeterministic Stage = "deterministic"
	StageSemantic      Stage = "semantic"
)

// Verdict is the vetting decision.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
)

// Result records the outcome of vetting one tool invocation.
type Result struct {
	RequestID string
	Stage     Stage
	Verdict   Verdict
	Reason    string
}

// Vetter runs the deterministic argument rules and, for tools configured as
// requiring semantic review, the semantic judge. A stage-one match denies
// immediately and skips the judge to bound cost and latency.
type Vetter struct {
	cfg   func() config.VettingConfig
	judge Judge

	mu    sync.RWMutex
	rules []Rule
}

// New builds a vetter. judge may be nil; tools configured for semantic
// review are then denied (fail-closed) unless flagged fail-open.
func New(cfg func() config.VettingConfig, judge Judge) (*Vetter, error) {
	v := &Vetter{cfg: cfg, judge: judge}
	if err := v.Reload(); err != nil {
		return nil, err
	}
	return v, nil
}

// Reload recompiles extra patterns from config.
func (v *Vetter) Reload() error {
	extras, err := CompileRules(v.cfg().ExtraPatterns)
	if err != nil {
		return err
	}
	rules := append(DefaultRules(), extras...)
	v.mu.Lock()
	v.rules = rules
	v.mu.Unlock()
	return nil
}

// Vet checks a tool invocation. Stage one scans every argument string
// against the danger rules; stage two consults the semantic judge with a
// bounded timeout. Judge errors and timeouts deny unless the tool is
// explicitly configured fail-open.
func (v *Vetter) Vet(ctx context.Context, req *types.Request) Result {
	res := Result{RequestID: req.ID, Stage: StageDeterministic, Verdict: VerdictAllow}

	v.mu.RLock()
	rules := v.rules
	v.mu.RUnlock()

	// Deterministic argument order keeps results reproducible.
	keys := make([]string, 0, len(req.ToolArgs))
	for k := range req.ToolArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, r := range rules {
			if r.Regex.MatchString(req.ToolArgs[k]) {
				res.Verdict = VerdictDeny
				// Name the rule and the argument, never the argument value.
				res.Reason = fmt.Sprintf("argument %q matched danger pattern %s", k, r.Name)
				return res
			}
		}
	}

	cfg := v.cfg()
	toolCfg := cfg.Tools[req.ToolName]
	if !toolCfg.SemanticReview {
		return res
	}

	res.Stage = StageSemantic
	if v.judge == nil {
		return v.judgeUnavailable(req, toolCfg, errors.New("no judge configured"))
	}

	judgeCtx, cancel := context.WithTimeout(ctx, cfg.SemanticTimeout)
	defer cancel()

	judgment, err := v.judge.Classify(judgeCtx, req.ToolName, req.ToolArgs, req.Text)
	if err != nil {
		return v.judgeUnavailable(req, toolCfg, err)
	}

	if !judgment.Allow {
		res.Verdict = VerdictDeny
		res.Reason = judgment.Rationale
		if res.Reason == "" {
			res.Reason = "denied by semantic review"
		}
		return res
	}
	res.Reason = judgment.Rationale
	return res
}

func (v *Vetter) judgeUnavailable(req *types.Request, toolCfg config.ToolVettingConfig, err error) Result {
	res := Result{RequestID: req.ID, Stage: StageSemantic}
	if toolCfg.FailOpen {
		slog.Warn("semantic judge unavailable, tool configured fail-open",
			"request_id", req.ID, "tool", req.ToolName, "error", err)
		res.Verdict = VerdictAllow
		res.Reason = "semantic review unavailable (fail-open)"
		return res
	}
	slog.Warn("semantic judge unavailable, denying",
		"request_id", req.ID, "tool", req.ToolName, "error", err)
	res.Verdict = VerdictDeny
	res.Reason = "semantic review unavailable"
	return res
}
