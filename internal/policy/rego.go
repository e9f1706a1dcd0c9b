package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/af-corp/warden/internal/config"
	"github.com/af-corp/warden/internal/types"
)

// RegoInput is the data sent to OPA for tool authorization.
type RegoInput struct {
	User    RegoUser `json:"user"`
	Request RegoReq  `json:"request"`
	Time    RegoTime `json:"time"`
}

type RegoUser struct {
	ID      string `json:"id"`
	Surface string `json:"surface"`
	Tier    string `json:"tier"`
}

type RegoReq struct {
	Tool string            `json:"tool"`
	Args map[string]string `json:"args"`
}

type RegoTime struct {
	Hour int    `json:"hour"`
	Day  string `json:"day"`
}

// RegoEvaluator evaluates conditional tool rules compiled from Rego modules.
type RegoEvaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      func() config.RegoConfig
}

// NewRegoEvaluator creates an evaluator. Call Load() to compile policies.
func NewRegoEvaluator(cfg func() config.RegoConfig) *RegoEvaluator {
	return &RegoEvaluator{cfg: cfg}
}

func (e *RegoEvaluator) Enabled() bool { return e.cfg().Enabled }

// Load compiles Rego modules from the bundle path.
func (e *RegoEvaluator) Load() error {
	cfg := e.cfg()
	modules, err := loadRegoFiles(cfg.BundlePath)
	if err != nil {
		return fmt.Errorf("load rego files: %w", err)
	}
	if len(modules) == 0 {
		slog.Warn("no rego files found", "path", cfg.BundlePath)
		return nil
	}
	return e.LoadFromModules(modules)
}

// LoadFromModules compiles policies from provided module sources (useful for testing).
func (e *RegoEvaluator) LoadFromModules(modules map[string]string) error {
	opts := []func(*rego.Rego){
		rego.Query("[data.warden.policy.allow, data.warden.policy.reason]"),
	}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()

	slog.Info("tool policies loaded", "modules", len(modules))
	return nil
}

// EvaluateTool runs the conditional rules for a tool request. Errors and
// timeouts surface to the caller, which fails closed.
func (e *RegoEvaluator) EvaluateTool(ctx context.Context, req *types.Request) (bool, string, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		return false, "no policies loaded", nil
	}

	cfg := e.cfg()
	timeout := cfg.EvaluationTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}

	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	now := time.Now().UTC()
	input := RegoInput{
		User:    RegoUser{ID: req.UserID, Surface: req.SurfaceID, Tier: string(req.Tier)},
		Request: RegoReq{Tool: req.ToolName, Args: req.ToolArgs},
		Time:    RegoTime{Hour: now.Hour(), Day: now.Weekday().String()},
	}

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		return false, "", fmt.Errorf("policy evaluation: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "no policy result", nil
	}

	arr, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok || len(arr) < 2 {
		return false, "unexpected policy result format", nil
	}

	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return allowed, reason, nil
}

// loadRegoFiles reads all .rego files from the given directory.
func loadRegoFiles(dir string) (map[string]string, error) {
	modules := make(map[string]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".rego" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		modules[entry.Name()] = string(data)
	}
	return modules, nil
}
