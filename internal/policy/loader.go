package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ironcurtain/ironcurtain/internal/roles"
	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// Policy is the immutable, loaded-once policy snapshot the mediator
// evaluates every tool call against. Compiled policy and annotations are
// loaded once at mediator start and are immutable for that lifetime;
// nothing in the process reloads or mutates a Policy after Load returns.
type Policy struct {
	Rules          []models.CompiledRule
	ProtectedPaths []string
	Annotations    map[toolKey]models.ToolAnnotation
	GeneratedAt    string
	ConstitutionHash string
	InputHash        string
}

type toolKey struct {
	server string
	tool   string
}

// LoadPolicyFile reads and validates compiled-policy.json at path.
func LoadPolicyFile(path string) (models.CompiledPolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.CompiledPolicyFile{}, fmt.Errorf("policy: read %s: %w", path, err)
	}
	if err := validateAgainstSchema(compiledPolicySchemaJSON, data); err != nil {
		return models.CompiledPolicyFile{}, err
	}
	var file models.CompiledPolicyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return models.CompiledPolicyFile{}, fmt.Errorf("policy: unmarshal %s: %w", path, err)
	}
	return file, nil
}

// LoadAnnotationsFile reads and validates tool-annotations.json at path.
func LoadAnnotationsFile(path string) (models.ToolAnnotationsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.ToolAnnotationsFile{}, fmt.Errorf("policy: read %s: %w", path, err)
	}
	if err := validateAgainstSchema(toolAnnotationsSchemaJSON, data); err != nil {
		return models.ToolAnnotationsFile{}, err
	}
	var file models.ToolAnnotationsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return models.ToolAnnotationsFile{}, fmt.Errorf("policy: unmarshal %s: %w", path, err)
	}
	return file, nil
}

// Load reads, schema-validates, and cross-validates compiled-policy.json
// and tool-annotations.json, returning an immutable Policy or a
// configuration error. All of the following are fatal at load time, never
// per-call:
//   - a rule references an unknown role
//   - a rule's paths.within is not absolute
//   - two rules share a name
//   - a rule's name collides with a reserved structural rule name
//   - an annotation references an unknown role
func Load(policyPath, annotationsPath string) (*Policy, error) {
	policyFile, err := LoadPolicyFile(policyPath)
	if err != nil {
		return nil, err
	}
	annotationsFile, err := LoadAnnotationsFile(annotationsPath)
	if err != nil {
		return nil, err
	}
	return FromFiles(policyFile, annotationsFile)
}

// FromFiles builds and validates a Policy from already-parsed artifacts.
func FromFiles(policyFile models.CompiledPolicyFile, annotationsFile models.ToolAnnotationsFile) (*Policy, error) {
	seenNames := make(map[string]bool, len(policyFile.Rules))
	for _, rule := range policyFile.Rules {
		if reservedRuleNames[rule.Name] {
			return nil, fmt.Errorf("%w: %q", ErrStructuralRuleName, rule.Name)
		}
		if seenNames[rule.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateRuleName, rule.Name)
		}
		seenNames[rule.Name] = true

		for _, r := range rule.If.Roles {
			if _, err := roles.Lookup(r); err != nil {
				return nil, fmt.Errorf("rule %q: %w: %w", rule.Name, ErrUnknownRole, err)
			}
		}
		if rule.If.Paths != nil {
			for _, r := range rule.If.Paths.Roles {
				if _, err := roles.Lookup(r); err != nil {
					return nil, fmt.Errorf("rule %q paths.roles: %w: %w", rule.Name, ErrUnknownRole, err)
				}
			}
			if !filepath.IsAbs(rule.If.Paths.Within) {
				return nil, fmt.Errorf("rule %q: %w: %q", rule.Name, ErrRelativeWithin, rule.If.Paths.Within)
			}
		}
		switch rule.Then.Decision {
		case models.DecisionAllow, models.DecisionDeny, models.DecisionEscalate:
		default:
			return nil, fmt.Errorf("rule %q: invalid decision %q", rule.Name, rule.Then.Decision)
		}
	}

	for _, p := range policyFile.ProtectedPaths {
		if !filepath.IsAbs(p) {
			return nil, fmt.Errorf("protectedPaths: %w: %q", ErrRelativeWithin, p)
		}
	}

	annotations := make(map[toolKey]models.ToolAnnotation)
	for serverName, bundle := range annotationsFile.Servers {
		for _, ann := range bundle.Tools {
			for argName, argRoles := range ann.Args {
				for _, r := range argRoles {
					if _, err := roles.Lookup(r); err != nil {
						return nil, fmt.Errorf("annotation %s.%s arg %q: %w", serverName, ann.ToolName, argName, err)
					}
				}
			}
			key := toolKey{server: serverName, tool: ann.ToolName}
			if _, exists := annotations[key]; exists {
				return nil, fmt.Errorf("%w: %s.%s", ErrAmbiguousTool, serverName, ann.ToolName)
			}
			annotations[key] = ann
		}
	}

	return &Policy{
		Rules:            policyFile.Rules,
		ProtectedPaths:   policyFile.ProtectedPaths,
		Annotations:      annotations,
		GeneratedAt:      policyFile.GeneratedAt.String(),
		ConstitutionHash: policyFile.ConstitutionHash,
		InputHash:        policyFile.InputHash,
	}, nil
}

// Lookup finds the annotation for (serverName, toolName). When tool names
// collide across servers the mediator is expected to have already
// disambiguated by prefixing; Lookup itself only ever keys on
// the exact (server, tool) pair.
func (p *Policy) Lookup(serverName, toolName string) (models.ToolAnnotation, bool) {
	ann, ok := p.Annotations[toolKey{server: serverName, tool: toolName}]
	return ann, ok
}
