package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptedPlanner replays a fixed sequence of cells and then finishes.
type scriptedPlanner struct {
	cells   []Cell
	summary string
	idx     int
	seen    []*Turn
}

func (p *scriptedPlanner) NextCell(ctx context.Context, turn *Turn) (Cell, bool, string, error) {
	snapshot := *turn
	p.seen = append(p.seen, &snapshot)
	if p.idx >= len(p.cells) {
		return Cell{}, true, p.summary, nil
	}
	cell := p.cells[p.idx]
	p.idx++
	return cell, false, "", nil
}

func echoRunner(t *testing.T) Runner {
	return runnerFunc(func(ctx context.Context, cell Cell, workspace string) (*RunResult, error) {
		return &RunResult{Stdout: "ran: " + cell.Source}, nil
	})
}

func newTestLoop(t *testing.T, planner Planner, budget *Budget, loops *LoopDetector) *TurnLoop {
	t.Helper()
	in, err := NewInterpreter(Config{SandboxDir: t.TempDir()}, echoRunner(t), nil)
	if err != nil {
		t.Fatalf("NewInterpreter: %v", err)
	}
	t.Cleanup(func() { in.Close() })
	return &TurnLoop{Interp: in, Planner: planner, Budget: budget, Loops: loops}
}

func TestTurnLoopRunsCellsAndReturnsSummary(t *testing.T) {
	planner := &scriptedPlanner{
		cells: []Cell{
			{Language: "python", Source: "print(1)"},
			{Language: "python", Source: "print(2)"},
		},
		summary: "both cells ran",
	}
	loop := newTestLoop(t, planner, nil, nil)

	reply, err := loop.Run(context.Background(), "count to two", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply != "both cells ran" {
		t.Fatalf("got %q", reply)
	}

	// The planner's final invocation sees both executed steps.
	final := planner.seen[len(planner.seen)-1]
	if len(final.Steps) != 2 {
		t.Fatalf("got %d steps", len(final.Steps))
	}
	if final.Steps[0].Outcome == "" || final.Steps[1].Outcome == "" {
		t.Fatal("step outcomes missing")
	}
	if final.UserText != "count to two" {
		t.Fatalf("got user text %q", final.UserText)
	}
}

func TestTurnLoopStopsOnExhaustedBudget(t *testing.T) {
	planner := &scriptedPlanner{
		cells: []Cell{
			{Language: "bash", Source: "true"},
			{Language: "bash", Source: "true"},
			{Language: "bash", Source: "never reached"},
		},
	}
	budget := NewBudget(BudgetLimits{MaxSteps: 1})
	loop := newTestLoop(t, planner, budget, nil)

	_, err := loop.Run(context.Background(), "spin", nil)
	var exhausted *BudgetExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("got %v, want BudgetExhaustedError", err)
	}
	if exhausted.Dimension != BudgetSteps {
		t.Fatalf("got dimension %q", exhausted.Dimension)
	}
}

func TestTurnLoopBlocksOnStagnation(t *testing.T) {
	same := Cell{Language: "bash", Source: "echo again"}
	planner := &scriptedPlanner{cells: []Cell{same, same, same, same, same}}
	loop := newTestLoop(t, planner, nil, NewLoopDetector(2, 3))

	_, err := loop.Run(context.Background(), "loop forever", nil)
	var blocked *LoopBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("got %v, want LoopBlockedError", err)
	}
	if blocked.Classification != ClassificationFullStagnation {
		t.Fatalf("got classification %q", blocked.Classification)
	}
}

func TestTurnLoopWarnsBeforeBlocking(t *testing.T) {
	same := Cell{Language: "bash", Source: "echo again"}
	planner := &scriptedPlanner{cells: []Cell{same, same, same}, summary: "gave up"}
	loop := newTestLoop(t, planner, nil, NewLoopDetector(2, 0))

	if _, err := loop.Run(context.Background(), "try twice", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	final := planner.seen[len(planner.seen)-1]
	var warned bool
	for _, step := range final.Steps {
		if step.LoopWarning {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected a loop warning on the stagnation streak")
	}
}

func TestTurnLoopWallClockBudget(t *testing.T) {
	planner := &scriptedPlanner{cells: []Cell{{Language: "bash", Source: "true"}}}
	budget := NewBudget(BudgetLimits{MaxWallClock: time.Nanosecond})
	loop := newTestLoop(t, planner, budget, nil)

	time.Sleep(time.Millisecond)
	_, err := loop.Run(context.Background(), "too late", nil)
	var exhausted *BudgetExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("got %v", err)
	}
	if exhausted.Dimension != BudgetWallClock {
		t.Fatalf("got dimension %q", exhausted.Dimension)
	}
}
