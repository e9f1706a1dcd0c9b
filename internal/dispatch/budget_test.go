package dispatch

import (
	"context"
	"testing"
)

func TestBudget_SpendAccumulates(t *testing.T) {
	b := NewBudgetTracker(nil)
	ctx := context.Background()

	b.RecordSpend(ctx, "cheap", 0.25)
	b.RecordSpend(ctx, "cheap", 0.50)

	if got := b.Spent("cheap"); got != 0.75 {
		t.Errorf("spent = %v, want 0.75", got)
	}
	if got := b.Spent("other"); got != 0 {
		t.Errorf("other provider spend = %v, want 0", got)
	}
}

func TestBudget_NegativeSpendIgnored(t *testing.T) {
	b := NewBudgetTracker(nil)
	ctx := context.Background()

	b.RecordSpend(ctx, "cheap", 1.0)
	b.RecordSpend(ctx, "cheap", -5.0)

	// Spend within a day only grows.
	if got := b.Spent("cheap"); got != 1.0 {
		t.Errorf("spent = %v, want 1.0", got)
	}
}

func TestBudget_WithinBudget(t *testing.T) {
	b := NewBudgetTracker(nil)
	ctx := context.Background()

	if !b.WithinBudget("cheap", 2.0) {
		t.Error("fresh provider should be within budget")
	}

	b.RecordSpend(ctx, "cheap", 2.0)
	if b.WithinBudget("cheap", 2.0) {
		t.Error("provider at its limit should be over budget")
	}

	// Zero limit means unlimited.
	if !b.WithinBudget("cheap", 0) {
		t.Error("zero limit should mean unlimited")
	}
}

func TestBudget_DayRollover(t *testing.T) {
	b := NewBudgetTracker(nil)
	b.RecordSpend(context.Background(), "cheap", 5.0)

	// Force the tracker's notion of the current day backwards; the next
	// observation rolls counters over.
	b.mu.Lock()
	b.day = "2000-01-01"
	b.mu.Unlock()

	if got := b.Spent("cheap"); got != 0 {
		t.Errorf("spend after day rollover = %v, want 0", got)
	}
	if !b.WithinBudget("cheap", 1.0) {
		t.Error("budget should reset at the day boundary")
	}
}
