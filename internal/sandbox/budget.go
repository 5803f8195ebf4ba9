package sandbox

import (
	"sync"
	"time"
)

// BudgetDimension names one resource tracked by a Budget.
type BudgetDimension string

const (
	BudgetTokens    BudgetDimension = "tokens"
	BudgetSteps     BudgetDimension = "steps"
	BudgetWallClock BudgetDimension = "wall_clock"
	BudgetUSD       BudgetDimension = "usd"
)

// BudgetLimits bounds one session's resource consumption.
type BudgetLimits struct {
	MaxTokens    int64
	MaxSteps     int64
	MaxWallClock time.Duration
	MaxUSD       float64
}

// Budget accumulates a session's resource consumption against BudgetLimits
// and reports which dimension, if any, has been exhausted.
type Budget struct {
	limits BudgetLimits
	start  time.Time

	mu     sync.Mutex
	tokens int64
	steps  int64
	usd    float64
}

// NewBudget starts a Budget tracker with the given limits, counting wall
// clock from the moment of construction.
func NewBudget(limits BudgetLimits) *Budget {
	return &Budget{limits: limits, start: time.Now()}
}

// RecordStep accounts for one agent step: inputTokens+outputTokens,
// estimated cost in USD, and one step counted.
func (b *Budget) RecordStep(inputTokens, outputTokens int64, costUSD float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens += inputTokens + outputTokens
	b.steps++
	b.usd += costUSD
}

// Exhausted reports the first budget dimension that has exceeded its
// limit, or ("", false) if the session is still within budget. When any
// dimension exceeds its limit, the agent loop's stop condition returns
// true.
func (b *Budget) Exhausted() (BudgetDimension, bool) {
	b.mu.Lock()
	tokens, steps, usd := b.tokens, b.steps, b.usd
	b.mu.Unlock()

	switch {
	case b.limits.MaxTokens > 0 && tokens > b.limits.MaxTokens:
		return BudgetTokens, true
	case b.limits.MaxSteps > 0 && steps > b.limits.MaxSteps:
		return BudgetSteps, true
	case b.limits.MaxUSD > 0 && usd > b.limits.MaxUSD:
		return BudgetUSD, true
	case b.limits.MaxWallClock > 0 && time.Since(b.start) > b.limits.MaxWallClock:
		return BudgetWallClock, true
	default:
		return "", false
	}
}

// Status is a point-in-time snapshot of a Budget's consumption, suitable
// for get_budget_status().
type Status struct {
	Tokens    int64         `json:"tokens"`
	Steps     int64         `json:"steps"`
	WallClock time.Duration `json:"wallClock"`
	USD       float64       `json:"usd"`
	Limits    BudgetLimits  `json:"limits"`
}

// Status returns the current consumption snapshot.
func (b *Budget) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Tokens:    b.tokens,
		Steps:     b.steps,
		WallClock: time.Since(b.start),
		USD:       b.usd,
		Limits:    b.limits,
	}
}
