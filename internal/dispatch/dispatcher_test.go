package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/af-corp/warden/internal/config"
	"github.com/af-corp/warden/internal/dispatch/providers"
	"github.com/af-corp/warden/internal/types"
)

type stubClient struct {
	name  string
	resp  *providers.GenerateResponse
	err   error
	calls int
}

func (s *stubClient) Name() string { return s.name }

func (s *stubClient) Generate(ctx context.Context, req *providers.GenerateRequest) (*providers.GenerateResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.resp != nil {
		return s.resp, nil
	}
	return &providers.GenerateResponse{Content: s.name + " says hi", CostUSD: 0.01}, nil
}

// testDispatcher wires three providers: a cheap workhorse, a mid-tier model
// with tool support, and an expensive high-capability reasoner.
func testDispatcher(t *testing.T) (*Dispatcher, map[string]*stubClient) {
	t.Helper()

	classifier, err := NewClassifier(defaultRouting())
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}

	d := NewDispatcher(classifier, NewBudgetTracker(nil), NewHealthTracker(3, time.Minute), nil)

	clients := map[string]*stubClient{
		"cheap":    {name: "cheap"},
		"mid":      {name: "mid"},
		"frontier": {name: "frontier"},
	}
	d.Register("cheap", config.ProviderConfig{CostPerMTok: 0.5, Capability: 1, DailyBudgetUSD: 10}, clients["cheap"])
	d.Register("mid", config.ProviderConfig{CostPerMTok: 3.0, Capability: 2, SupportsTools: true, DailyBudgetUSD: 20}, clients["mid"])
	d.Register("frontier", config.ProviderConfig{CostPerMTok: 15.0, Capability: 3, SupportsTools: true, DailyBudgetUSD: 50}, clients["frontier"])
	return d, clients
}

// dispatch runs the two-step contract the pipeline uses: route, then execute
// the routing decision.
func dispatch(t *testing.T, d *Dispatcher, req *types.Request) (*types.Response, RoutingDecision, error) {
	t.Helper()
	dec, err := d.Decide(req)
	if err != nil {
		return nil, RoutingDecision{}, err
	}
	resp, err := d.Invoke(context.Background(), req, dec, []types.Message{{Role: "user", Content: req.Text}})
	return resp, dec, err
}

func TestDecide_TrivialRoutesToCheapest(t *testing.T) {
	d, _ := testDispatcher(t)

	dec, err := d.Decide(&types.Request{ID: "r1", Text: "hello!"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if dec.Complexity != types.ComplexityTrivial {
		t.Errorf("complexity = %s", dec.Complexity)
	}
	if dec.Provider != "cheap" {
		t.Errorf("provider = %s, want cheap", dec.Provider)
	}
}

func TestDecide_ReasoningRoutesToHighestCapability(t *testing.T) {
	d, _ := testDispatcher(t)

	dec, err := d.Decide(&types.Request{ID: "r1", Text: "analyze the trade-offs step by step"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if dec.Complexity != types.ComplexityReasoning {
		t.Errorf("complexity = %s", dec.Complexity)
	}
	if dec.Provider != "frontier" {
		t.Errorf("provider = %s, want frontier", dec.Provider)
	}
}

func TestDecide_ToolUseRequiresToolSupport(t *testing.T) {
	d, _ := testDispatcher(t)

	dec, err := d.Decide(&types.Request{ID: "r1", Text: "look this up", ToolName: "web_search"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	// The cheapest provider lacks tool support; the mid tier is the
	// cheapest that declares it.
	if dec.Provider != "mid" {
		t.Errorf("provider = %s, want mid", dec.Provider)
	}
}

func TestDecide_ContextLimitExcludesProvider(t *testing.T) {
	classifier, err := NewClassifier(defaultRouting())
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	d := NewDispatcher(classifier, NewBudgetTracker(nil), NewHealthTracker(3, time.Minute), nil)
	d.Register("tiny", config.ProviderConfig{CostPerMTok: 0.1, MaxContextTokens: 1000}, &stubClient{name: "tiny"})
	d.Register("big", config.ProviderConfig{CostPerMTok: 5.0, MaxContextTokens: 200000}, &stubClient{name: "big"})

	// ~25k estimated tokens: the cheaper provider cannot hold the prompt.
	long := make([]byte, 100_008)
	for i := range long {
		long[i] = 'w'
	}
	dec, err := d.Decide(&types.Request{ID: "r1", Text: "what is " + string(long)})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if dec.Provider != "big" {
		t.Errorf("provider = %s, want big (over tiny's context window)", dec.Provider)
	}

	// A short prompt routes back to the cheaper provider.
	dec, err = d.Decide(&types.Request{ID: "r2", Text: "hi"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if dec.Provider != "tiny" {
		t.Errorf("provider = %s, want tiny", dec.Provider)
	}
}

func TestDecide_OverEveryContextIsNoProvider(t *testing.T) {
	classifier, err := NewClassifier(defaultRouting())
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	d := NewDispatcher(classifier, NewBudgetTracker(nil), NewHealthTracker(3, time.Minute), nil)
	d.Register("tiny", config.ProviderConfig{CostPerMTok: 0.1, MaxContextTokens: 1000}, &stubClient{name: "tiny"})

	long := make([]byte, 100_000)
	for i := range long {
		long[i] = 'w'
	}
	_, err = d.Decide(&types.Request{ID: "r1", Text: string(long)})
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("err = %v, want ErrNoProvider", err)
	}
}

func TestDecide_BudgetExhaustionFallsBack(t *testing.T) {
	d, _ := testDispatcher(t)

	// Exhaust the frontier provider's budget.
	d.budget.RecordSpend(context.Background(), "frontier", 50)

	dec, err := d.Decide(&types.Request{ID: "r1", Text: "analyze the trade-offs step by step"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if dec.Provider != "mid" {
		t.Errorf("provider = %s, want next-most-capable mid", dec.Provider)
	}
}

func TestDecide_AllCapableExhaustedIsBudgetError(t *testing.T) {
	d, _ := testDispatcher(t)
	ctx := context.Background()

	d.budget.RecordSpend(ctx, "mid", 20)
	d.budget.RecordSpend(ctx, "frontier", 50)

	// Tool-use can only go to mid or frontier; both are exhausted. The
	// cheap provider must never be silently downgraded to.
	_, err := d.Decide(&types.Request{ID: "r1", ToolName: "web_search"})
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}
}

func TestDecide_NoCapableProvider(t *testing.T) {
	classifier, _ := NewClassifier(defaultRouting())
	d := NewDispatcher(classifier, NewBudgetTracker(nil), NewHealthTracker(3, time.Minute), nil)
	d.Register("cheap", config.ProviderConfig{CostPerMTok: 0.5}, &stubClient{name: "cheap"})

	_, err := d.Decide(&types.Request{ID: "r1", ToolName: "web_search"})
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("err = %v, want ErrNoProvider", err)
	}
}

func TestInvoke_RecordsSpendAndPins(t *testing.T) {
	d, clients := testDispatcher(t)
	clients["cheap"].resp = &providers.GenerateResponse{Content: "hi", CostUSD: 0.02}

	req := &types.Request{ID: "r1", Text: "hello!", ConversationID: "c1"}
	resp, dec, err := dispatch(t, d, req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.Provider != "cheap" || dec.Provider != "cheap" {
		t.Errorf("provider = %s/%s", resp.Provider, dec.Provider)
	}
	if resp.Complexity != types.ComplexityTrivial {
		t.Errorf("response complexity = %s, want trivial", resp.Complexity)
	}
	if got := d.budget.Spent("cheap"); got != 0.02 {
		t.Errorf("recorded spend = %v", got)
	}

	// A later turn in the same conversation sticks to the pinned provider
	// even if another provider would tie on cost ordering.
	_, dec2, err := dispatch(t, d, req)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if dec2.Provider != "cheap" {
		t.Errorf("pinned provider = %s, want cheap", dec2.Provider)
	}
}

func TestInvoke_UsesTheGivenDecision(t *testing.T) {
	d, clients := testDispatcher(t)

	// The decision carries the provider; Invoke must execute it rather than
	// re-select, so an audited route is the route taken.
	req := &types.Request{ID: "r1", Text: "hello!"}
	resp, err := d.Invoke(context.Background(), req,
		RoutingDecision{RequestID: "r1", Complexity: types.ComplexityTrivial, Provider: "mid"}, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.Provider != "mid" {
		t.Errorf("provider = %s, want decided mid", resp.Provider)
	}
	if clients["cheap"].calls != 0 {
		t.Error("cheapest provider must not be re-selected over the decision")
	}
}

func TestInvoke_StickyPinIgnoredWhenIncapable(t *testing.T) {
	d, _ := testDispatcher(t)

	// Pin the conversation to the cheap provider.
	plain := &types.Request{ID: "r1", Text: "hello!", ConversationID: "c1"}
	if _, _, err := dispatch(t, d, plain); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	// A tool call appears mid-conversation; the pin cannot serve it.
	tool := &types.Request{ID: "r2", ToolName: "web_search", ConversationID: "c1"}
	dec, err := d.Decide(tool)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if dec.Provider != "mid" {
		t.Errorf("provider = %s, want mid", dec.Provider)
	}
}

func TestPin_DisabledWhenStickyOff(t *testing.T) {
	classifier, err := NewClassifier(func() config.RoutingConfig {
		routing := config.DefaultConfig().Routing
		routing.Sticky = false
		return routing
	})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	d := NewDispatcher(classifier, NewBudgetTracker(nil), NewHealthTracker(3, time.Minute), nil)
	d.Register("cheap", config.ProviderConfig{CostPerMTok: 0.5}, &stubClient{name: "cheap"})

	req := &types.Request{ID: "r1", Text: "hello!", ConversationID: "c1"}
	if _, _, err := dispatch(t, d, req); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	d.mu.RLock()
	n := len(d.pins)
	d.mu.RUnlock()
	if n != 0 {
		t.Errorf("pins recorded with sticky routing disabled: %d", n)
	}
}

func TestPin_EvictionBoundsMap(t *testing.T) {
	d, _ := testDispatcher(t)
	d.maxPins = 4

	for i := 0; i < 20; i++ {
		req := &types.Request{
			ID:             fmt.Sprintf("r%d", i),
			Text:           "hello!",
			ConversationID: fmt.Sprintf("c%d", i),
		}
		if _, _, err := dispatch(t, d, req); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	d.mu.RLock()
	n := len(d.pins)
	d.mu.RUnlock()
	if n > d.maxPins {
		t.Errorf("pin map grew to %d entries, cap is %d", n, d.maxPins)
	}
}

func TestInvoke_SingleFallbackOnProviderError(t *testing.T) {
	d, clients := testDispatcher(t)
	clients["cheap"].err = errors.New("upstream 503")

	resp, _, err := dispatch(t, d, &types.Request{ID: "r1", Text: "hello!"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp == nil {
		t.Fatal("expected a response via fallback")
	}
	if resp.Provider != "mid" {
		t.Errorf("fallback provider = %s, want mid", resp.Provider)
	}
	if clients["frontier"].calls != 0 {
		t.Error("fallback must stop after one extra attempt")
	}
}

func TestInvoke_FallbackFailureSurfacesProviderError(t *testing.T) {
	d, clients := testDispatcher(t)
	clients["cheap"].err = errors.New("upstream 503")
	clients["mid"].err = errors.New("upstream 502")

	_, _, err := dispatch(t, d, &types.Request{ID: "r1", Text: "hello!"})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if pe.Provider != "mid" {
		t.Errorf("failing provider = %s, want last attempted", pe.Provider)
	}
	if clients["frontier"].calls != 0 {
		t.Error("only one layer of fallback is allowed")
	}
}

// blockingClient parks in Generate until released, so tests can hold a
// provider's concurrency slot.
type blockingClient struct {
	name    string
	started chan struct{}
	release chan struct{}
}

func (b *blockingClient) Name() string { return b.name }

func (b *blockingClient) Generate(ctx context.Context, req *providers.GenerateRequest) (*providers.GenerateResponse, error) {
	b.started <- struct{}{}
	<-b.release
	return &providers.GenerateResponse{Content: "done"}, nil
}

func TestInvoke_SaturatedProviderFallsBack(t *testing.T) {
	classifier, err := NewClassifier(defaultRouting())
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	d := NewDispatcher(classifier, NewBudgetTracker(nil), NewHealthTracker(3, time.Minute), nil)

	blocked := &blockingClient{name: "small", started: make(chan struct{}), release: make(chan struct{})}
	spare := &stubClient{name: "spare"}
	d.Register("small", config.ProviderConfig{CostPerMTok: 0.5, MaxConcurrent: 1}, blocked)
	d.Register("spare", config.ProviderConfig{CostPerMTok: 5.0}, spare)

	// Occupy small's single slot.
	firstDone := make(chan error, 1)
	go func() {
		_, err := d.Invoke(context.Background(), &types.Request{ID: "r1", Text: "hello!"},
			RoutingDecision{Provider: "small", Complexity: types.ComplexityTrivial}, nil)
		firstDone <- err
	}()
	<-blocked.started

	// The second request cannot enter small and must fall back.
	resp, err := d.Invoke(context.Background(), &types.Request{ID: "r2", Text: "hello!"},
		RoutingDecision{Provider: "small", Complexity: types.ComplexityTrivial}, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.Provider != "spare" {
		t.Errorf("provider = %s, want spare fallback", resp.Provider)
	}

	close(blocked.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("held invocation: %v", err)
	}
}
