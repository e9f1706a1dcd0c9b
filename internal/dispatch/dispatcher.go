// Package dispatch classifies requests by complexity and routes them across
// the configured providers under cost, capability, and daily-budget
// constraints.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/af-corp/warden/internal/config"
	"github.com/af-corp/warden/internal/dispatch/providers"
	"github.com/af-corp/warden/internal/types"
)

// ErrBudgetExceeded reports that every provider capable of serving the
// request has exhausted its daily budget. The dispatcher never downgrades to
// an incapable provider.
var ErrBudgetExceeded = errors.New("all capable providers over daily budget")

// ErrNoProvider reports that no configured provider can serve the request's
// complexity class at all.
var ErrNoProvider = errors.New("no capable provider configured")

var errSaturated = errors.New("provider at max concurrent requests")

// ProviderError wraps a failure from a specific upstream provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RoutingDecision records which provider was chosen for a request and why.
type RoutingDecision struct {
	RequestID        string
	Complexity       types.Complexity
	Provider         string
	EstimatedCostUSD float64
}

type handle struct {
	name   string
	cfg    config.ProviderConfig
	client providers.Client
	sem    *semaphore.Weighted // nil when max_concurrent is unset
}

// pinEntry is a conversation's provider affinity with its last use, so stale
// conversations can be evicted.
type pinEntry struct {
	provider string
	seen     time.Time
}

const pinTTL = 24 * time.Hour

// Dispatcher selects a provider per request and invokes it, with at most one
// layer of fallback across the remaining candidates.
type Dispatcher struct {
	classifier *Classifier
	budget     *BudgetTracker
	health     *HealthTracker
	logger     *slog.Logger

	mu      sync.RWMutex
	handles []handle            // sorted by cost ascending
	pins    map[string]pinEntry // conversation ID -> provider affinity
	maxPins int
}

func NewDispatcher(classifier *Classifier, budget *BudgetTracker, health *HealthTracker, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		classifier: classifier,
		budget:     budget,
		health:     health,
		logger:     logger,
		pins:       make(map[string]pinEntry),
		maxPins:    10000,
	}
}

// Register adds a provider. Handles stay ordered by cost so candidate lists
// walk cheapest-first.
func (d *Dispatcher) Register(name string, cfg config.ProviderConfig, client providers.Client) {
	h := handle{name: name, cfg: cfg, client: client}
	if cfg.MaxConcurrent > 0 {
		h.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handles = append(d.handles, h)
	sort.SliceStable(d.handles, func(i, j int) bool {
		return d.handles[i].cfg.CostPerMTok < d.handles[j].cfg.CostPerMTok
	})
}

// BuildFromConfig constructs a dispatcher with a client per configured
// provider.
func BuildFromConfig(provCfg *config.ProvidersConfig, classifier *Classifier, budget *BudgetTracker, health *HealthTracker, logger *slog.Logger) (*Dispatcher, error) {
	d := NewDispatcher(classifier, budget, health, logger)
	for name, cfg := range provCfg.Providers {
		client, err := providers.NewClient(name, cfg)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		d.Register(name, cfg, client)
	}
	return d, nil
}

// capable reports whether the provider can serve the complexity class and
// hold the request's estimated prompt size.
func capable(cfg config.ProviderConfig, class types.Complexity, estTokens int) bool {
	if cfg.MaxContextTokens > 0 && estTokens > cfg.MaxContextTokens {
		return false
	}
	if class == types.ComplexityToolUse {
		return cfg.SupportsTools
	}
	return true
}

// candidates returns the eligible providers for the class in priority order:
// reasoning prefers the most capable provider, everything else the cheapest.
// Budget and circuit state are checked here so the caller only sees providers
// it may actually use.
func (d *Dispatcher) candidates(class types.Complexity, estTokens int) (eligible []handle, anyCapable bool) {
	d.mu.RLock()
	handles := make([]handle, len(d.handles))
	copy(handles, d.handles)
	d.mu.RUnlock()

	if class == types.ComplexityReasoning {
		sort.SliceStable(handles, func(i, j int) bool {
			return handles[i].cfg.Capability > handles[j].cfg.Capability
		})
	}

	for _, h := range handles {
		if !capable(h.cfg, class, estTokens) {
			continue
		}
		anyCapable = true
		if !d.budget.WithinBudget(h.name, h.cfg.DailyBudgetUSD) {
			continue
		}
		if !d.health.IsAvailable(h.name) {
			continue
		}
		eligible = append(eligible, h)
	}
	return eligible, anyCapable
}

// Decide classifies the request and picks a provider without invoking it.
func (d *Dispatcher) Decide(req *types.Request) (RoutingDecision, error) {
	class := d.classifier.Classify(req)

	eligible, anyCapable := d.candidates(class, estimateTokens(req))
	if len(eligible) == 0 {
		if anyCapable {
			return RoutingDecision{}, ErrBudgetExceeded
		}
		return RoutingDecision{}, ErrNoProvider
	}

	eligible = d.applyPin(req.ConversationID, eligible)

	chosen := eligible[0]
	return RoutingDecision{
		RequestID:        req.ID,
		Complexity:       class,
		Provider:         chosen.name,
		EstimatedCostUSD: estimateCost(chosen.cfg, req),
	}, nil
}

// applyPin moves a conversation's pinned provider to the front of the
// candidate list when it is still eligible. An exhausted or incapable pin is
// simply ignored; the pin is rewritten after the next successful invocation.
func (d *Dispatcher) applyPin(conversationID string, eligible []handle) []handle {
	if conversationID == "" || !d.classifier.cfg().Sticky {
		return eligible
	}
	d.mu.RLock()
	pinned, ok := d.pins[conversationID]
	d.mu.RUnlock()
	if !ok {
		return eligible
	}
	return promote(eligible, pinned.provider)
}

// promote moves the named provider to the front of the list when present.
func promote(eligible []handle, name string) []handle {
	for i, h := range eligible {
		if h.name == name {
			reordered := make([]handle, 0, len(eligible))
			reordered = append(reordered, h)
			reordered = append(reordered, eligible[:i]...)
			reordered = append(reordered, eligible[i+1:]...)
			return reordered
		}
	}
	return eligible
}

// Invoke executes a prior routing decision: the decided provider goes first,
// with at most one fallback from the still-eligible candidates. Eligibility
// is re-checked so a circuit that tripped or a budget that ran out since
// Decide is honored.
func (d *Dispatcher) Invoke(ctx context.Context, req *types.Request, decision RoutingDecision, messages []types.Message) (*types.Response, error) {
	eligible, anyCapable := d.candidates(decision.Complexity, estimateTokens(req))
	if len(eligible) == 0 {
		if anyCapable {
			return nil, ErrBudgetExceeded
		}
		return nil, ErrNoProvider
	}
	eligible = promote(eligible, decision.Provider)

	// Primary plus exactly one fallback.
	attempts := eligible
	if len(attempts) > 2 {
		attempts = attempts[:2]
	}

	var lastErr error
	for _, h := range attempts {
		if h.sem != nil {
			if !h.sem.TryAcquire(1) {
				lastErr = &ProviderError{Provider: h.name, Err: errSaturated}
				continue
			}
		}
		resp, err := h.client.Generate(ctx, &providers.GenerateRequest{Messages: messages})
		if h.sem != nil {
			h.sem.Release(1)
		}
		if err != nil {
			d.health.RecordFailure(h.name)
			lastErr = &ProviderError{Provider: h.name, Err: err}
			d.logger.Warn("provider invocation failed",
				"provider", h.name, "request_id", req.ID, "error", err)
			continue
		}
		d.health.RecordSuccess(h.name)
		d.budget.RecordSpend(ctx, h.name, resp.CostUSD)
		d.pin(req.ConversationID, h.name)

		return &types.Response{
			RequestID:        req.ID,
			Kind:             types.KindGeneration,
			Content:          resp.Content,
			Provider:         h.name,
			Complexity:       decision.Complexity,
			Usage:            resp.Usage,
			EstimatedCostUSD: resp.CostUSD,
		}, nil
	}
	return nil, lastErr
}

func (d *Dispatcher) pin(conversationID, provider string) {
	if conversationID == "" || !d.classifier.cfg().Sticky {
		return
	}
	now := time.Now()
	d.mu.Lock()
	if _, ok := d.pins[conversationID]; !ok && len(d.pins) >= d.maxPins {
		d.prunePins(now)
	}
	d.pins[conversationID] = pinEntry{provider: provider, seen: now}
	d.mu.Unlock()
}

// prunePins evicts stale conversation affinities, and when everything is
// fresh drops the oldest half rather than grow without bound. Must be called
// with the write lock held.
func (d *Dispatcher) prunePins(now time.Time) {
	for id, p := range d.pins {
		if now.Sub(p.seen) > pinTTL {
			delete(d.pins, id)
		}
	}
	if len(d.pins) < d.maxPins {
		return
	}
	type aged struct {
		id   string
		seen time.Time
	}
	entries := make([]aged, 0, len(d.pins))
	for id, p := range d.pins {
		entries = append(entries, aged{id, p.seen})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seen.Before(entries[j].seen)
	})
	for _, e := range entries[:len(entries)/2] {
		delete(d.pins, e.id)
	}
}

// estimateTokens sizes the prompt before invocation: four characters per
// token plus a nominal completion allowance.
func estimateTokens(req *types.Request) int {
	return len(req.Text)/4 + 500
}

func estimateCost(cfg config.ProviderConfig, req *types.Request) float64 {
	return float64(estimateTokens(req)) / 1_000_000 * cfg.CostPerMTok
}
