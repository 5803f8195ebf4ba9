// Package policy implements the two-phase evaluator: non-overridable
// structural invariants first, then compiled per-(argument, role) rule
// matching with strictest-wins tie-breaking.
package policy

import (
	"github.com/ironcurtain/ironcurtain/internal/roles"
	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// ArgRoleValue is one (argument, role) pair the evaluator reasons about,
// with its normalized value already computed by the caller (the mediator,
// via internal/roles). RawValue is the unnormalized argument value, kept
// for non-path roles.
type ArgRoleValue struct {
	Arg             string
	Role            models.ArgumentRole
	RawValue        any
	NormalizedValue string
	NormalizeErr    error
}

// EvaluateInput is everything the evaluator needs for one tool call.
type EvaluateInput struct {
	ServerName string
	ToolName   string
	KnownTool  bool
	Annotation models.ToolAnnotation
	ArgValues  []ArgRoleValue
	SandboxDir string
}

// Evaluate runs both evaluation phases and returns the decision, the
// deciding rule name, and the reason.
func (p *Policy) Evaluate(in EvaluateInput) models.PolicyEvaluation {
	if eval, ok := p.phase1(in); ok {
		return eval
	}
	return p.phase2(in)
}

// phase1 implements the non-overridable structural invariants. Constraints
// fire in order; the first match decides.
func (p *Policy) phase1(in EvaluateInput) (models.PolicyEvaluation, bool) {
	// 1. Unknown tool.
	if !in.KnownTool {
		return models.PolicyEvaluation{
			Decision: models.DecisionDeny,
			Rule:     "structural-unknown-tool",
			Reason:   "tool " + in.ServerName + "." + in.ToolName + " has no annotation",
		}, true
	}

	// A normalization failure on a path-role argument cannot be safely
	// reasoned about by the protected-path check below, so it is escalated
	// immediately rather than silently skipped.
	for _, av := range in.ArgValues {
		if av.Role.IsPathRole() && av.NormalizeErr != nil {
			return models.PolicyEvaluation{
				Decision: models.DecisionEscalate,
				Rule:     "path-normalization-failed",
				Reason:   "argument " + av.Arg + ": " + av.NormalizeErr.Error(),
			}, true
		}
	}

	// 2. Protected paths: matched after normalization, no substring matching.
	for _, av := range in.ArgValues {
		if !av.Role.IsPathRole() {
			continue
		}
		for _, protected := range p.ProtectedPaths {
			if roles.Containment(av.NormalizedValue, protected) {
				return models.PolicyEvaluation{
					Decision: models.DecisionDeny,
					Rule:     "structural-protected-path",
					Reason:   "argument " + av.Arg + " (" + av.NormalizedValue + ") is under protected path " + protected,
				}, true
			}
		}
	}

	// 3. Side-effect-free tools are always allowed.
	if !in.Annotation.SideEffects {
		return models.PolicyEvaluation{
			Decision: models.DecisionAllow,
			Rule:     "structural-side-effect-free",
			Reason:   "tool declares sideEffects=false",
		}, true
	}

	// 4. Sandbox shortcut: only read-path/write-path args, all inside the
	// session sandbox. Delete roles are never auto-allowed here.
	if in.SandboxDir != "" && sandboxShortcutApplies(in) {
		return models.PolicyEvaluation{
			Decision: models.DecisionAllow,
			Rule:     "structural-sandbox-allow",
			Reason:   "all path arguments are within the session sandbox",
		}, true
	}

	return models.PolicyEvaluation{}, false
}

func sandboxShortcutApplies(in EvaluateInput) bool {
	sawPathArg := false
	for _, av := range in.ArgValues {
		switch av.Role {
		case models.RoleDeletePath:
			return false
		case models.RoleReadPath, models.RoleWritePath:
			sawPathArg = true
			if !roles.Containment(av.NormalizedValue, in.SandboxDir) {
				return false
			}
		}
	}
	return sawPathArg
}

// phase2 walks the compiled rule list once per (argument, role) pair and
// combines the resulting decisions with strictest-wins tie-breaking
// (deny > escalate > allow). A pair with no matching rule decides
// default-deny for that pair.
func (p *Policy) phase2(in EvaluateInput) models.PolicyEvaluation {
	var best *models.PolicyEvaluation

	consider := func(eval models.PolicyEvaluation) {
		if best == nil || rank(eval.Decision) > rank(best.Decision) {
			e := eval
			best = &e
		}
	}

	evaluated := false
	for _, av := range in.ArgValues {
		if av.Role == models.RoleNone {
			continue
		}
		evaluated = true
		consider(p.matchRule(in, av))
	}

	if !evaluated {
		return models.PolicyEvaluation{
			Decision: models.DecisionDeny,
			Rule:     "default-deny",
			Reason:   "no role-bearing argument matched any rule",
		}
	}
	return *best
}

func rank(d models.Decision) int {
	switch d {
	case models.DecisionDeny:
		return 3
	case models.DecisionEscalate:
		return 2
	case models.DecisionAllow:
		return 1
	default:
		return 0
	}
}

func (p *Policy) matchRule(in EvaluateInput, av ArgRoleValue) models.PolicyEvaluation {
	for _, rule := range p.Rules {
		if ruleMatches(rule, in, av) {
			return models.PolicyEvaluation{
				Decision: rule.Then.Decision,
				Rule:     rule.Name,
				Reason:   rule.Reason,
			}
		}
	}
	return models.PolicyEvaluation{
		Decision: models.DecisionDeny,
		Rule:     "default-deny",
		Reason:   "argument " + av.Arg + " (role " + string(av.Role) + ") matched no rule",
	}
}

func ruleMatches(rule models.CompiledRule, in EvaluateInput, av ArgRoleValue) bool {
	cond := rule.If

	if len(cond.Roles) > 0 && !containsRole(cond.Roles, av.Role) {
		return false
	}
	if len(cond.Server) > 0 && !containsString(cond.Server, in.ServerName) {
		return false
	}
	if len(cond.Tool) > 0 && !containsString(cond.Tool, in.ToolName) {
		return false
	}
	if cond.SideEffects != nil && *cond.SideEffects != in.Annotation.SideEffects {
		return false
	}
	if cond.Paths != nil {
		if len(cond.Paths.Roles) > 0 && !containsRole(cond.Paths.Roles, av.Role) {
			return false
		}
		if !av.Role.IsPathRole() {
			return false
		}
		if !roles.Containment(av.NormalizedValue, cond.Paths.Within) {
			return false
		}
	}
	return true
}

func containsRole(list []models.ArgumentRole, r models.ArgumentRole) bool {
	for _, v := range list {
		if v == r {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
