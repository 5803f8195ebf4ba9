package sandbox

import (
	"testing"
	"time"
)

func TestBudgetExhaustedByTokens(t *testing.T) {
	b := NewBudget(BudgetLimits{MaxTokens: 100})
	b.RecordStep(60, 60, 0)

	dim, exhausted := b.Exhausted()
	if !exhausted || dim != BudgetTokens {
		t.Errorf("expected tokens budget exhausted, got dim=%s exhausted=%v", dim, exhausted)
	}
}

func TestBudgetExhaustedBySteps(t *testing.T) {
	b := NewBudget(BudgetLimits{MaxSteps: 2})
	b.RecordStep(1, 1, 0)
	b.RecordStep(1, 1, 0)
	b.RecordStep(1, 1, 0)

	dim, exhausted := b.Exhausted()
	if !exhausted || dim != BudgetSteps {
		t.Errorf("expected steps budget exhausted, got dim=%s exhausted=%v", dim, exhausted)
	}
}

func TestBudgetExhaustedByUSD(t *testing.T) {
	b := NewBudget(BudgetLimits{MaxUSD: 1.0})
	b.RecordStep(1, 1, 1.5)

	dim, exhausted := b.Exhausted()
	if !exhausted || dim != BudgetUSD {
		t.Errorf("expected usd budget exhausted, got dim=%s exhausted=%v", dim, exhausted)
	}
}

func TestBudgetNotExhaustedWithinLimits(t *testing.T) {
	b := NewBudget(BudgetLimits{MaxTokens: 1000, MaxSteps: 10, MaxUSD: 5, MaxWallClock: time.Hour})
	b.RecordStep(10, 10, 0.01)

	if _, exhausted := b.Exhausted(); exhausted {
		t.Error("expected budget to not be exhausted")
	}
}

func TestBudgetStatusSnapshot(t *testing.T) {
	b := NewBudget(BudgetLimits{MaxTokens: 1000})
	b.RecordStep(10, 20, 0.05)

	status := b.Status()
	if status.Tokens != 30 {
		t.Errorf("expected 30 tokens, got %d", status.Tokens)
	}
	if status.Steps != 1 {
		t.Errorf("expected 1 step, got %d", status.Steps)
	}
}
