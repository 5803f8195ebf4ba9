package sessionmgr

import (
	"context"
	"errors"

	"github.com/ironcurtain/ironcurtain/internal/mediator"
	"github.com/ironcurtain/ironcurtain/internal/sandbox"
)

// CodeTurnRunner is the built-in agent: it drives the sandboxed code
// interpreter against a session's mediated tool surface. Provider
// selection lives in the Planner implementation the caller supplies; the
// runner owns everything session-scoped — bridging tool calls through
// the mediator, the session's loop detector, and its resource budget.
type CodeTurnRunner struct {
	Interp  *sandbox.Interpreter
	Planner sandbox.Planner
	MaxSteps int
}

// RunTurn satisfies TurnRunner: one user message becomes one interpreter
// turn whose bridged tool calls all pass through s's mediator.
func (r *CodeTurnRunner) RunTurn(ctx context.Context, s *Session, userText string) (string, error) {
	loop := &sandbox.TurnLoop{
		Interp:   r.Interp,
		Planner:  r.Planner,
		Budget:   s.budget,
		Loops:    s.loopDet,
		MaxSteps: r.MaxSteps,
	}

	reply, err := loop.Run(ctx, userText, r.toolCaller(s))

	var exhausted *sandbox.BudgetExhaustedError
	if errors.As(err, &exhausted) {
		s.diag.Record(DiagnosticEvent{Kind: "budget_exhausted", Detail: string(exhausted.Dimension)})
		return "", err
	}
	var blocked *sandbox.LoopBlockedError
	if errors.As(err, &blocked) {
		s.diag.Record(DiagnosticEvent{Kind: "loop_blocked", Detail: string(blocked.Classification)})
		return "", err
	}
	return reply, err
}

// toolCaller adapts the session's mediated call surface to the shape the
// sandbox bridge expects.
func (r *CodeTurnRunner) toolCaller(s *Session) sandbox.ToolCaller {
	return func(ctx context.Context, tool string, args map[string]any) (sandbox.ToolResult, error) {
		out, err := s.CallTool(ctx, mediator.CallInput{
			ToolName:    tool,
			Arguments:   args,
			UserMessage: s.LastUserMessage(),
		})
		if err != nil {
			return sandbox.ToolResult{}, err
		}
		if out.Result.Status != "success" {
			msg := out.Result.Error
			if msg == "" {
				msg = out.Result.Status
			}
			return sandbox.ToolResult{Content: msg, IsError: true}, nil
		}
		return sandbox.ToolResult{Content: stringify(out.Result.Content)}, nil
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	// Content relayed from downstream servers is already JSON-shaped;
	// render anything else the same way the wire layer does.
	return mediator.StringifyContent(v)
}
