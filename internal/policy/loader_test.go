package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/ironcurtain/ironcurtain/pkg/models"
)

func validPolicyFile() models.CompiledPolicyFile {
	return models.CompiledPolicyFile{
		GeneratedAt:      time.Now(),
		ConstitutionHash: "abc123",
		InputHash:        "def456",
		ProtectedPaths:   []string{"/etc"},
		Rules: []models.CompiledRule{
			{
				Name: "allow-sandbox-writes",
				If:   models.RuleCondition{Roles: []models.ArgumentRole{models.RoleWritePath}},
				Then: models.RuleOutcome{Decision: models.DecisionAllow},
			},
		},
	}
}

func validAnnotationsFile() models.ToolAnnotationsFile {
	return models.ToolAnnotationsFile{
		GeneratedAt: time.Now(),
		Servers: map[string]models.ServerAnnotationBundle{
			"fs": {
				InputHash: "x",
				Tools: []models.ToolAnnotation{
					{ServerName: "fs", ToolName: "write_file", SideEffects: true, Args: map[string][]models.ArgumentRole{"path": {models.RoleWritePath}}},
				},
			},
		},
	}
}

func TestFromFilesAcceptsValidArtifacts(t *testing.T) {
	p, err := FromFiles(validPolicyFile(), validAnnotationsFile())
	if err != nil {
		t.Fatalf("FromFiles: %v", err)
	}
	if _, ok := p.Lookup("fs", "write_file"); !ok {
		t.Fatalf("expected annotation lookup to succeed")
	}
}

func TestFromFilesRejectsUnknownRole(t *testing.T) {
	pf := validPolicyFile()
	pf.Rules[0].If.Roles = []models.ArgumentRole{"not-a-real-role"}
	_, err := FromFiles(pf, validAnnotationsFile())
	if !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("got %v, want ErrUnknownRole", err)
	}
}

func TestFromFilesRejectsRelativeWithin(t *testing.T) {
	pf := validPolicyFile()
	pf.Rules[0].If.Paths = &models.PathConstraint{Within: "relative/path"}
	_, err := FromFiles(pf, validAnnotationsFile())
	if !errors.Is(err, ErrRelativeWithin) {
		t.Fatalf("got %v, want ErrRelativeWithin", err)
	}
}

func TestFromFilesRejectsReservedRuleName(t *testing.T) {
	pf := validPolicyFile()
	pf.Rules[0].Name = "structural-protected-path"
	_, err := FromFiles(pf, validAnnotationsFile())
	if !errors.Is(err, ErrStructuralRuleName) {
		t.Fatalf("got %v, want ErrStructuralRuleName", err)
	}
}

func TestFromFilesRejectsDuplicateRuleNames(t *testing.T) {
	pf := validPolicyFile()
	pf.Rules = append(pf.Rules, pf.Rules[0])
	_, err := FromFiles(pf, validAnnotationsFile())
	if !errors.Is(err, ErrDuplicateRuleName) {
		t.Fatalf("got %v, want ErrDuplicateRuleName", err)
	}
}
