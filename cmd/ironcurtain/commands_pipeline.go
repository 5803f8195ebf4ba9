package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ironcurtain/ironcurtain/internal/config"
	"github.com/ironcurtain/ironcurtain/internal/downstream"
	"github.com/ironcurtain/ironcurtain/internal/policy"
	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// buildAnnotateToolsCmd creates "annotate-tools": spawns every configured
// downstream server just long enough to list its tools, then writes
// tool-annotations.json with a heuristic best-guess role annotation per
// argument. A real deployment is expected to review and correct the
// output by hand; the offline model-driven annotation pipeline lives
// outside this binary.
func buildAnnotateToolsCmd() *cobra.Command {
	var configPath, outPath string

	cmd := &cobra.Command{
		Use:   "annotate-tools",
		Short: "Regenerate tool-annotations.json from the live downstream servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				return newUserError("loading config: %w", err)
			}
			path := outPath
			if path == "" {
				path = cfg.AnnotationsPath
			}
			if path == "" {
				path = filepath.Join(cfg.Home, "tool-annotations.json")
			}
			return runAnnotateTools(cmd.Context(), cfg, path)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to user config (YAML or JSON)")
	cmd.Flags().StringVar(&outPath, "out", "", "where to write tool-annotations.json (default: config's annotationsPath)")
	return cmd
}

func runAnnotateTools(ctx context.Context, cfg config.Config, path string) error {
	logger := slog.Default().With("component", "cmd.annotate-tools")

	mgr, err := downstream.New(logger, cfg.Home, cfg.DownstreamServers, filepath.Join(cfg.Home, "sandbox"))
	if err != nil {
		return fmt.Errorf("annotate-tools: building downstream manager: %w", err)
	}
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("annotate-tools: starting downstream servers: %w", err)
	}
	defer mgr.Stop()

	file := models.ToolAnnotationsFile{Servers: map[string]models.ServerAnnotationBundle{}}
	for serverName, tools := range mgr.ListTools() {
		bundle := models.ServerAnnotationBundle{InputHash: hashTools(tools)}
		for _, t := range tools {
			bundle.Tools = append(bundle.Tools, heuristicAnnotation(serverName, t))
		}
		sort.Slice(bundle.Tools, func(i, j int) bool { return bundle.Tools[i].ToolName < bundle.Tools[j].ToolName })
		file.Servers[serverName] = bundle
	}

	return writeGeneratedArtifact(path, file)
}

// heuristicAnnotation guesses side-effect and argument-role flags from
// naming conventions, the same vocabulary asRole looks for. It errs
// toward flagging side effects: an
// under-annotated tool is escalated by the structural invariants anyway,
// while an over-permissive one is not.
func heuristicAnnotation(serverName string, tool *downstream.Tool) models.ToolAnnotation {
	lowerName := strings.ToLower(tool.Name)
	sideEffects := true
	for _, readOnly := range []string{"get", "list", "read", "search", "query", "describe", "show"} {
		if strings.HasPrefix(lowerName, readOnly) {
			sideEffects = false
			break
		}
	}

	args := map[string][]models.ArgumentRole{}
	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if json.Unmarshal(tool.InputSchema, &schema) == nil {
		for name := range schema.Properties {
			args[name] = asRole(name)
		}
	}

	return models.ToolAnnotation{
		ServerName:  serverName,
		ToolName:    tool.Name,
		Comment:     "heuristically generated; review before enforcing",
		SideEffects: sideEffects,
		Args:        args,
	}
}

func hashTools(tools []*downstream.Tool) string {
	data, _ := json.Marshal(tools)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func asRole(argName string) []models.ArgumentRole {
	lower := strings.ToLower(argName)
	switch {
	case strings.Contains(lower, "delete") || strings.Contains(lower, "remove"):
		return []models.ArgumentRole{models.RoleDeletePath}
	case strings.Contains(lower, "write") || strings.Contains(lower, "dest") || strings.Contains(lower, "target"):
		return []models.ArgumentRole{models.RoleWritePath}
	case strings.Contains(lower, "path") || strings.Contains(lower, "file") || strings.Contains(lower, "dir"):
		return []models.ArgumentRole{models.RoleReadPath}
	case strings.Contains(lower, "owner") || strings.Contains(lower, "org"):
		return []models.ArgumentRole{models.RoleGithubOwner}
	default:
		return []models.ArgumentRole{models.RoleNone}
	}
}

// buildCompilePolicyCmd creates "compile-policy": validates a hand- or
// model-authored rules document against compiled-policy.json's structural
// constraints (role names known, absolute `within` paths, unique rule
// names, no rule shadowing a structural invariant) and stamps it with
// content hashes before writing it out.
func buildCompilePolicyCmd() *cobra.Command {
	var configPath, rulesPath, outPath, constitutionPath string

	cmd := &cobra.Command{
		Use:   "compile-policy",
		Short: "Validate and stamp a compiled-policy.json from a rules document",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				return newUserError("loading config: %w", err)
			}
			path := outPath
			if path == "" {
				path = cfg.PolicyPath
			}
			if path == "" {
				path = filepath.Join(cfg.Home, "compiled-policy.json")
			}
			if rulesPath == "" {
				return newUserError("compile-policy: --rules is required")
			}
			return runCompilePolicy(rulesPath, constitutionPath, path)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to user config (YAML or JSON)")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "path to a draft rules JSON array ([]models.CompiledRule)")
	cmd.Flags().StringVar(&constitutionPath, "constitution", "", "path to the natural-language constitution this was compiled from")
	cmd.Flags().StringVar(&outPath, "out", "", "where to write compiled-policy.json (default: config's policyPath)")
	return cmd
}

func runCompilePolicy(rulesPath, constitutionPath, outPath string) error {
	raw, err := os.ReadFile(rulesPath)
	if err != nil {
		return newUserError("compile-policy: reading %s: %w", rulesPath, err)
	}
	var rules []models.CompiledRule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return newUserError("compile-policy: parsing %s: %w", rulesPath, err)
	}

	file := models.CompiledPolicyFile{Rules: rules, InputHash: sha256Hex(raw)}
	if constitutionPath != "" {
		constitution, err := os.ReadFile(constitutionPath)
		if err != nil {
			return newUserError("compile-policy: reading %s: %w", constitutionPath, err)
		}
		file.ConstitutionHash = sha256Hex(constitution)
	}

	// FromFiles runs the same structural validation the mediator applies
	// at load time (unique names, known roles, absolute within-paths, no
	// rule masquerading as a structural invariant): failing here instead
	// of at session start catches a bad compile before it ships.
	if _, err := policy.FromFiles(file, models.ToolAnnotationsFile{}); err != nil {
		return newUserError("compile-policy: %w", err)
	}

	return writeGeneratedArtifact(outPath, file)
}

// buildRefreshListsCmd creates "refresh-lists": a thin wrapper that
// replaces the protected-paths list of an existing compiled-policy.json
// (and restamps generatedAt) without touching its rules, for
// deployments that rotate protected directories on a schedule but don't
// want to rerun the full constitution compile.
func buildRefreshListsCmd() *cobra.Command {
	var configPath, policyPath string
	var protectedPaths []string

	cmd := &cobra.Command{
		Use:   "refresh-lists",
		Short: "Update compiled-policy.json's protected-paths list in place",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				return newUserError("loading config: %w", err)
			}
			path := policyPath
			if path == "" {
				path = cfg.PolicyPath
			}
			if path == "" {
				return newUserError("refresh-lists: no compiled-policy.json path configured")
			}
			return runRefreshLists(path, protectedPaths)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to user config (YAML or JSON)")
	cmd.Flags().StringVar(&policyPath, "policy", "", "path to compiled-policy.json (default: config's policyPath)")
	cmd.Flags().StringSliceVar(&protectedPaths, "protected", nil, "absolute protected-path entries to install (replaces the current list)")
	return cmd
}

func runRefreshLists(path string, protectedPaths []string) error {
	file, err := policy.LoadPolicyFile(path)
	if err != nil {
		return newUserError("refresh-lists: loading %s: %w", path, err)
	}
	for _, p := range protectedPaths {
		if !filepath.IsAbs(p) {
			return newUserError("refresh-lists: protected path %q must be absolute", p)
		}
	}
	if protectedPaths != nil {
		file.ProtectedPaths = protectedPaths
	}
	return writeGeneratedArtifact(path, file)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeGeneratedArtifact stamps generatedAt and writes v as indented JSON,
// matching the {generatedAt, ...} envelope shared by both generated
// artifacts.
func writeGeneratedArtifact(path string, v any) error {
	switch t := v.(type) {
	case models.ToolAnnotationsFile:
		t.GeneratedAt = time.Now()
		v = t
	case models.CompiledPolicyFile:
		t.GeneratedAt = time.Now()
		v = t
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Println("wrote", path)
	return nil
}
