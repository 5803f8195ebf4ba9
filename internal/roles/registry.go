// Package roles implements the closed argument-role registry, path
// normalization, and containment checks.
package roles

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// ErrUnknownRole is returned when an annotation references a role not
// present in the registry.
var ErrUnknownRole = errors.New("roles: unknown role")

// Definition pairs a role with its normalize function and metadata.
type Definition struct {
	models.RoleDefinition
	Normalize func(home, value string) (string, error)
}

// registry is closed at compile time: adding a role requires one entry
// here and, where relevant, updates to rule matching in internal/policy.
var registry = map[models.ArgumentRole]Definition{
	models.RoleReadPath: {
		RoleDefinition: models.RoleDefinition{
			Role:                 models.RoleReadPath,
			Description:          "a filesystem path the tool will read from",
			IsResourceIdentifier: true,
		},
		Normalize: NormalizePath,
	},
	models.RoleWritePath: {
		RoleDefinition: models.RoleDefinition{
			Role:                 models.RoleWritePath,
			Description:          "a filesystem path the tool will write to",
			IsResourceIdentifier: true,
		},
		Normalize: NormalizePath,
	},
	models.RoleDeletePath: {
		RoleDefinition: models.RoleDefinition{
			Role:                 models.RoleDeletePath,
			Description:          "a filesystem path the tool will delete",
			IsResourceIdentifier: true,
		},
		Normalize: NormalizePath,
	},
	models.RoleGithubOwner: {
		RoleDefinition: models.RoleDefinition{
			Role:                 models.RoleGithubOwner,
			Description:          "a GitHub organization or user login",
			IsResourceIdentifier: true,
		},
		Normalize: func(_, value string) (string, error) {
			return strings.ToLower(strings.TrimSpace(value)), nil
		},
	},
	models.RoleNone: {
		RoleDefinition: models.RoleDefinition{
			Role:                 models.RoleNone,
			Description:          "no special handling",
			IsResourceIdentifier: false,
		},
		Normalize: func(_, value string) (string, error) {
			return value, nil
		},
	},
}

// Lookup returns the definition for role, or ErrUnknownRole.
func Lookup(role models.ArgumentRole) (Definition, error) {
	def, ok := registry[role]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return def, nil
}

// Normalize applies the role's normalize function to value.
func Normalize(role models.ArgumentRole, home, value string) (string, error) {
	def, err := Lookup(role)
	if err != nil {
		return "", err
	}
	return def.Normalize(home, value)
}

// NormalizePath expands a leading ~ (or ~/...) to home, then resolves the
// result to an absolute, symlink-followed path. Symlinks are followed on
// every existing ancestor; non-existent trailing components are retained
// verbatim. Trailing slashes are stripped except for the root. Parent
// traversals (..) are collapsed. Normalization is idempotent.
func NormalizePath(home, value string) (string, error) {
	if value == "" {
		return "", errors.New("roles: empty path")
	}

	expanded, err := expandHome(home, value)
	if err != nil {
		return "", err
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("roles: resolve absolute path: %w", err)
	}
	abs = filepath.Clean(abs)

	resolved, err := resolveSymlinksPartial(abs)
	if err != nil {
		return "", err
	}

	if len(resolved) > 1 {
		resolved = strings.TrimRight(resolved, string(filepath.Separator))
		if resolved == "" {
			resolved = string(filepath.Separator)
		}
	}
	return resolved, nil
}

func expandHome(home, value string) (string, error) {
	if value == "~" {
		return effectiveHome(home)
	}
	if strings.HasPrefix(value, "~/") {
		base, err := effectiveHome(home)
		if err != nil {
			return "", err
		}
		return filepath.Join(base, value[2:]), nil
	}
	return value, nil
}

func effectiveHome(home string) (string, error) {
	if home != "" {
		return home, nil
	}
	if v := os.Getenv("HOME"); v != "" {
		return v, nil
	}
	u, err := user.Current()
	if err != nil || u.HomeDir == "" {
		return "", fmt.Errorf("roles: cannot resolve home directory: %w", err)
	}
	return u.HomeDir, nil
}

// resolveSymlinksPartial resolves symlinks on every existing ancestor of
// path, leaving any trailing non-existent components untouched.
func resolveSymlinksPartial(path string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved, nil
	}

	parent := filepath.Dir(path)
	if parent == path {
		return path, nil
	}
	resolvedParent, err := resolveSymlinksPartial(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(path)), nil
}

// Containment reports whether normalized child equals within or lies below
// it in the path hierarchy. Both arguments must already be normalized
// (absolute, cleaned). Matching is separator-aligned: "/a/b" is contained
// in "/a", but "/ab" is not.
func Containment(child, within string) bool {
	child = filepath.Clean(child)
	within = filepath.Clean(within)
	if child == within {
		return true
	}
	prefix := within
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(child, prefix)
}
