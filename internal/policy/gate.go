// Package policy implements the static tool authorization gate.
package policy

import (
	"context"
	"log/slog"
	"sync"

	"github.com/af-corp/warden/internal/config"
	"github.com/af-corp/warden/internal/types"
)

// Verdict is the gate decision for a tool.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
)

// Decision records why a tool was allowed or denied.
type Decision struct {
	ToolName    string
	Verdict     Verdict
	MatchedRule string
	Reason      string
}

// Gate authorizes named tools against a configured list. In blocklist mode
// listed tools are denied and unlisted tools allowed; in allowlist mode
// listed tools are allowed and unlisted tools denied. The unlisted default
// is explicit per mode so a config gap can never fail open silently.
type Gate struct {
	cfg func() config.PolicyConfig

	mu    sync.RWMutex
	mode  config.PolicyMode
	tools map[string]config.ToolRuleConfig
	rego  *RegoEvaluator
}

// NewGate builds a gate from the current config. The optional Rego
// evaluator adds conditional rules on top of the static table; pass nil to
// disable it.
func NewGate(cfg func() config.PolicyConfig, rego *RegoEvaluator) *Gate {
	g := &Gate{cfg: cfg, rego: rego}
	g.Reload()
	return g
}

// Reload rebuilds the lookup table from config. Called on hot reload.
func (g *Gate) Reload() {
	cfg := g.cfg()
	tools := make(map[string]config.ToolRuleConfig, len(cfg.Tools))
	for _, t := range cfg.Tools {
		tools[t.Name] = t
	}

	mode := cfg.Mode
	if mode != config.ModeAllowlist && mode != config.ModeBlocklist {
		// Unknown mode is a config gap: fall back to the restrictive mode.
		slog.Warn("unknown policy mode, defaulting to allowlist", "mode", string(mode))
		mode = config.ModeAllowlist
	}

	g.mu.Lock()
	g.mode = mode
	g.tools = tools
	g.mu.Unlock()
}

// Authorize decides whether the request's tool may be invoked. The decision
// is deterministic given (toolName, config): identical inputs always yield
// the same verdict.
func (g *Gate) Authorize(ctx context.Context, req *types.Request) Decision {
	g.mu.RLock()
	mode := g.mode
	rule, listed := g.tools[req.ToolName]
	g.mu.RUnlock()

	d := Decision{ToolName: req.ToolName}

	switch mode {
	case config.ModeBlocklist:
		if listed {
			d.Verdict = VerdictDeny
			d.MatchedRule = rule.Name
			d.Reason = rule.Reason
			if d.Reason == "" {
				d.Reason = "tool is blocklisted"
			}
			return d
		}
		d.Verdict = VerdictAllow
		d.MatchedRule = "default:blocklist"
	case config.ModeAllowlist:
		if !listed {
			d.Verdict = VerdictDeny
			d.MatchedRule = "default:allowlist"
			d.Reason = "tool is not in the allowlist"
			return d
		}
		d.Verdict = VerdictAllow
		d.MatchedRule = rule.Name
	}

	// Conditional rules apply only to statically allowed tools.
	if g.rego != nil && g.rego.Enabled() {
		allowed, reason, err := g.rego.EvaluateTool(ctx, req)
		if err != nil {
			slog.Error("rego evaluation failed, denying", "tool", req.ToolName, "error", err)
			return Decision{ToolName: req.ToolName, Verdict: VerdictDeny, MatchedRule: "rego:error", Reason: "policy evaluation failed"}
		}
		if !allowed {
			return Decision{ToolName: req.ToolName, Verdict: VerdictDeny, MatchedRule: "rego", Reason: reason}
		}
	}

	return d
}
