package sandbox

import (
	"context"
	"fmt"
)

// Planner proposes the next code cell for a turn. Implementations wrap an
// LLM provider; the loop below owns everything else — execution,
// classification, budgeting — so a planner stays a thin adapter.
type Planner interface {
	// NextCell inspects the turn so far and either proposes another cell
	// or ends the turn with done=true and a final summary for the user.
	NextCell(ctx context.Context, turn *Turn) (cell Cell, done bool, summary string, err error)
}

// Turn is the transcript one TurnLoop accumulates: the user's text and
// every executed step with its outcome.
type Turn struct {
	UserText string
	Steps    []Step
}

// Step is one executed cell and what it produced.
type Step struct {
	Cell           Cell
	Outcome        string
	Classification LoopClassification
	LoopWarning    bool
}

// BudgetExhaustedError ends a turn when any budget dimension trips; the
// session layer surfaces it as the turn's terminal result.
type BudgetExhaustedError struct {
	Dimension BudgetDimension
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("sandbox: budget exhausted: %s", e.Dimension)
}

// LoopBlockedError ends a turn when the stagnation streak passes the
// detector's hard-block threshold.
type LoopBlockedError struct {
	Classification LoopClassification
	Streak         int
}

func (e *LoopBlockedError) Error() string {
	return fmt.Sprintf("sandbox: agent loop blocked after repeated %s steps", e.Classification)
}

// TurnLoop drives one agent turn: plan a cell, run it through the
// interpreter with the tool bridge attached, classify the (code, outcome)
// pair, account the step against the budget, and repeat until the planner
// finishes or a stop condition fires.
type TurnLoop struct {
	Interp  *Interpreter
	Planner Planner
	Budget  *Budget
	Loops   *LoopDetector

	// MaxSteps is a backstop independent of the budget's step dimension.
	// Zero means 50.
	MaxSteps int
}

// Run executes one turn and returns the planner's final summary.
func (l *TurnLoop) Run(ctx context.Context, userText string, tools ToolCaller) (string, error) {
	maxSteps := l.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 50
	}

	turn := &Turn{UserText: userText}
	for step := 0; step < maxSteps; step++ {
		if l.Budget != nil {
			if dim, exhausted := l.Budget.Exhausted(); exhausted {
				return "", &BudgetExhaustedError{Dimension: dim}
			}
		}

		cell, done, summary, err := l.Planner.NextCell(ctx, turn)
		if err != nil {
			return "", fmt.Errorf("sandbox: planning step %d: %w", step, err)
		}
		if done {
			return summary, nil
		}

		result, err := l.Interp.Run(ctx, cell, tools)
		if err != nil {
			return "", fmt.Errorf("sandbox: running step %d: %w", step, err)
		}
		outcome := result.Outcome()

		record := Step{Cell: cell, Outcome: outcome}
		if l.Loops != nil {
			classification, warn, block := l.Loops.Observe(cell.Source, outcome)
			record.Classification = classification
			record.LoopWarning = warn
			if block {
				return "", &LoopBlockedError{Classification: classification, Streak: l.Loops.BlockThreshold}
			}
		}
		turn.Steps = append(turn.Steps, record)

		if l.Budget != nil {
			l.Budget.RecordStep(0, 0, 0)
		}
	}
	return "", fmt.Errorf("sandbox: turn exceeded %d steps", maxSteps)
}
