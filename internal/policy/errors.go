package policy

import "errors"

// Configuration errors: these are fatal at
// mediator start, never surfaced per-call.
var (
	ErrUnknownRole        = errors.New("policy: rule references unknown role")
	ErrRelativeWithin     = errors.New("policy: paths.within must be an absolute path")
	ErrDuplicateRuleName  = errors.New("policy: duplicate rule name")
	ErrStructuralRuleName = errors.New("policy: rule name collides with a reserved structural rule name")
	ErrAmbiguousTool      = errors.New("policy: tool name is ambiguous across servers")
	ErrAnnotationNotFound = errors.New("policy: no annotation for tool")
)

// Structural rule names are reserved: a compiled rule
// must never declare one of these names, since that would let the
// overridable rule set masquerade as a non-overridable structural
// invariant.
var reservedRuleNames = map[string]bool{
	"structural-unknown-tool":    true,
	"structural-protected-path":  true,
	"structural-side-effect-free": true,
	"structural-sandbox-allow":   true,
	"default-deny":               true,
}
