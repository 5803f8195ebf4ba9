package policy

import (
	"testing"

	"github.com/ironcurtain/ironcurtain/pkg/models"
)

func mustBool(b bool) *bool { return &b }

func TestEvaluateUnknownToolDenies(t *testing.T) {
	p := &Policy{}
	got := p.Evaluate(EvaluateInput{ServerName: "fs", ToolName: "frobnicate", KnownTool: false})
	if got.Decision != models.DecisionDeny || got.Rule != "structural-unknown-tool" {
		t.Fatalf("got %+v", got)
	}
}

func TestEvaluateProtectedPathAlwaysDenies(t *testing.T) {
	// A protected path denies regardless of any rule granting allow.
	p := &Policy{
		ProtectedPaths: []string{"/etc"},
		Rules: []models.CompiledRule{
			{Name: "allow-everything", If: models.RuleCondition{}, Then: models.RuleOutcome{Decision: models.DecisionAllow}},
		},
	}
	in := EvaluateInput{
		ServerName: "fs", ToolName: "read_file", KnownTool: true,
		Annotation: models.ToolAnnotation{SideEffects: true, Args: map[string][]models.ArgumentRole{"path": {models.RoleReadPath}}},
		ArgValues: []ArgRoleValue{
			{Arg: "path", Role: models.RoleReadPath, NormalizedValue: "/etc/passwd"},
		},
	}
	got := p.Evaluate(in)
	if got.Decision != models.DecisionDeny || got.Rule != "structural-protected-path" {
		t.Fatalf("got %+v, want structural-protected-path deny", got)
	}
}

func TestEvaluateSideEffectFreeAlwaysAllows(t *testing.T) {
	p := &Policy{}
	in := EvaluateInput{
		ServerName: "fs", ToolName: "list_dir", KnownTool: true,
		Annotation: models.ToolAnnotation{SideEffects: false},
	}
	got := p.Evaluate(in)
	if got.Decision != models.DecisionAllow || got.Rule != "structural-side-effect-free" {
		t.Fatalf("got %+v", got)
	}
}

func TestEvaluateSandboxShortcutAllowsReadWriteInsideSandbox(t *testing.T) {
	p := &Policy{}
	in := EvaluateInput{
		ServerName: "fs", ToolName: "write_file", KnownTool: true,
		SandboxDir: "/home/alice/.ironcurtain/sessions/S/sandbox",
		Annotation: models.ToolAnnotation{SideEffects: true, Args: map[string][]models.ArgumentRole{"path": {models.RoleWritePath}}},
		ArgValues: []ArgRoleValue{
			{Arg: "path", Role: models.RoleWritePath, NormalizedValue: "/home/alice/.ironcurtain/sessions/S/sandbox/new.txt"},
		},
	}
	got := p.Evaluate(in)
	if got.Decision != models.DecisionAllow || got.Rule != "structural-sandbox-allow" {
		t.Fatalf("got %+v", got)
	}
}

func TestEvaluateSandboxShortcutNeverAppliesToDeleteRole(t *testing.T) {
	p := &Policy{}
	in := EvaluateInput{
		ServerName: "fs", ToolName: "delete_file", KnownTool: true,
		SandboxDir: "/sandbox",
		Annotation: models.ToolAnnotation{SideEffects: true, Args: map[string][]models.ArgumentRole{"path": {models.RoleDeletePath}}},
		ArgValues: []ArgRoleValue{
			{Arg: "path", Role: models.RoleDeletePath, NormalizedValue: "/sandbox/file.txt"},
		},
	}
	got := p.Evaluate(in)
	if got.Rule == "structural-sandbox-allow" {
		t.Fatalf("delete role must never hit the sandbox shortcut, got %+v", got)
	}
}

func TestEvaluateDefaultDenyWhenNoRuleMatches(t *testing.T) {
	p := &Policy{}
	in := EvaluateInput{
		ServerName: "fs", ToolName: "read_file", KnownTool: true,
		Annotation: models.ToolAnnotation{SideEffects: true, Args: map[string][]models.ArgumentRole{"path": {models.RoleReadPath}}},
		ArgValues: []ArgRoleValue{
			{Arg: "path", Role: models.RoleReadPath, NormalizedValue: "/etc/hostname"},
		},
	}
	got := p.Evaluate(in)
	if got.Decision != models.DecisionDeny || got.Rule != "default-deny" {
		t.Fatalf("got %+v", got)
	}
}

func TestEvaluateMoveFileDeleteRoleOnSourceDenies(t *testing.T) {
	// Scenario 5: move_file(source=outside, destination=inside sandbox) — the
	// source argument's delete-path role must deny the whole call even
	// though the destination lies inside the sandbox.
	p := &Policy{
		Rules: []models.CompiledRule{
			{
				Name: "deny-delete-outside-permitted-areas",
				If: models.RuleCondition{
					Roles: []models.ArgumentRole{models.RoleDeletePath},
					Paths: &models.PathConstraint{Roles: []models.ArgumentRole{models.RoleDeletePath}, Within: "/home/alice"},
				},
				Then: models.RuleOutcome{Decision: models.DecisionAllow},
			},
		},
	}
	in := EvaluateInput{
		ServerName: "fs", ToolName: "move_file", KnownTool: true,
		SandboxDir: "/home/alice/sandbox",
		Annotation: models.ToolAnnotation{SideEffects: true, Args: map[string][]models.ArgumentRole{
			"source":      {models.RoleReadPath, models.RoleDeletePath},
			"destination": {models.RoleWritePath},
		}},
		ArgValues: []ArgRoleValue{
			{Arg: "source", Role: models.RoleReadPath, NormalizedValue: "/tmp/outside/a"},
			{Arg: "source", Role: models.RoleDeletePath, NormalizedValue: "/tmp/outside/a"},
			{Arg: "destination", Role: models.RoleWritePath, NormalizedValue: "/home/alice/sandbox/b"},
		},
	}
	got := p.Evaluate(in)
	if got.Decision != models.DecisionDeny {
		t.Fatalf("got %+v, want overall deny (strictest wins across argument/role pairs)", got)
	}
}

func TestEvaluateStrictestWinsAcrossArgRolePairs(t *testing.T) {
	p := &Policy{
		Rules: []models.CompiledRule{
			{Name: "allow-reads", If: models.RuleCondition{Roles: []models.ArgumentRole{models.RoleReadPath}}, Then: models.RuleOutcome{Decision: models.DecisionAllow}},
			{Name: "escalate-writes", If: models.RuleCondition{Roles: []models.ArgumentRole{models.RoleWritePath}}, Then: models.RuleOutcome{Decision: models.DecisionEscalate}},
		},
	}
	in := EvaluateInput{
		ServerName: "fs", ToolName: "copy_file", KnownTool: true,
		Annotation: models.ToolAnnotation{SideEffects: true, Args: map[string][]models.ArgumentRole{
			"source":      {models.RoleReadPath},
			"destination": {models.RoleWritePath},
		}},
		ArgValues: []ArgRoleValue{
			{Arg: "source", Role: models.RoleReadPath, NormalizedValue: "/a"},
			{Arg: "destination", Role: models.RoleWritePath, NormalizedValue: "/b"},
		},
	}
	got := p.Evaluate(in)
	if got.Decision != models.DecisionEscalate {
		t.Fatalf("got %+v, want escalate (stricter than allow)", got)
	}
}

func TestEvaluateNormalizationFailureEscalates(t *testing.T) {
	p := &Policy{}
	in := EvaluateInput{
		ServerName: "fs", ToolName: "read_file", KnownTool: true,
		Annotation: models.ToolAnnotation{SideEffects: true, Args: map[string][]models.ArgumentRole{"path": {models.RoleReadPath}}},
		ArgValues: []ArgRoleValue{
			{Arg: "path", Role: models.RoleReadPath, NormalizeErr: errUnresolvableHome},
		},
	}
	got := p.Evaluate(in)
	if got.Decision != models.DecisionEscalate || got.Rule != "path-normalization-failed" {
		t.Fatalf("got %+v", got)
	}
}

var errUnresolvableHome = &normErr{"cannot resolve home directory"}

type normErr struct{ msg string }

func (e *normErr) Error() string { return e.msg }
