// Package sandbox implements the built-in agent core:
// a code interpreter whose cells run inside an OS-isolated runtime with no
// direct I/O capability. The only capability a cell sees is the tool
// bridge — a local socket whose host side packages each request as a
// mediated tools/call and returns the (possibly truncated) result
// synchronously. The package also carries the side observers the agent
// loop needs: loop/stagnation classification and the resource budget.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ToolResult is the outcome of one code-interpreter tool call, shaped for
// the mediator/sandbox agent core.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolCaller runs one mediated tool call on behalf of sandboxed code. The
// session layer backs this with its mediator, so every bridged call goes
// through policy evaluation like any other.
type ToolCaller func(ctx context.Context, tool string, args map[string]any) (ToolResult, error)

// Cell is one unit of agent-authored code the interpreter runs.
type Cell struct {
	Language string            `json:"language"` // python, nodejs, go, bash
	Source   string            `json:"source"`
	Stdin    string            `json:"stdin,omitempty"`
	Files    map[string]string `json:"files,omitempty"` // filename -> content
	Timeout  int               `json:"timeout,omitempty"`
}

// RunResult is what running one Cell produced.
type RunResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	TimedOut bool   `json:"timedOut,omitempty"`
	Err      string `json:"error,omitempty"`
}

// Outcome renders the result as the single string the loop detector
// hashes and the planner reads back.
func (r *RunResult) Outcome() string {
	var sb strings.Builder
	if r.Err != "" {
		sb.WriteString("error: ")
		sb.WriteString(r.Err)
		sb.WriteString("\n")
	}
	if r.TimedOut {
		sb.WriteString("execution timed out\n")
	}
	if r.Stdout != "" {
		sb.WriteString(r.Stdout)
		if !strings.HasSuffix(r.Stdout, "\n") {
			sb.WriteString("\n")
		}
	}
	if r.Stderr != "" {
		sb.WriteString("stderr:\n")
		sb.WriteString(r.Stderr)
		if !strings.HasSuffix(r.Stderr, "\n") {
			sb.WriteString("\n")
		}
	}
	fmt.Fprintf(&sb, "exit code: %d", r.ExitCode)
	return sb.String()
}

// Config bounds one Interpreter.
type Config struct {
	// SandboxDir is the session's writable sandbox directory; every
	// cell's scratch workspace is created beneath it.
	SandboxDir string

	// CellTimeout bounds one cell's runtime. Zero means 30s; the cap is
	// 300s regardless.
	CellTimeout time.Duration

	// ResultLimit is the byte size past which bridged tool results are
	// middle-truncated before re-entering the isolate. Zero means 64 KiB.
	ResultLimit int

	// CPUMillis and MemoryMB are per-cell resource limits. Zero means
	// 1000 millicores / 512 MB.
	CPUMillis int
	MemoryMB  int

	// Workspace selects how the scratch workspace is mounted.
	Workspace WorkspaceAccessMode
}

// WorkspaceAccessMode controls how the cell's workspace is mounted in the
// isolate.
type WorkspaceAccessMode string

const (
	// WorkspaceNone is accepted as a mode, but the container runner
	// mounts the workspace read-only for it, exactly as for
	// WorkspaceReadOnly; no copy-in without a mount is performed.
	WorkspaceNone WorkspaceAccessMode = "none"

	// WorkspaceReadOnly mounts the workspace read-only (default).
	WorkspaceReadOnly WorkspaceAccessMode = "ro"

	// WorkspaceReadWrite mounts the workspace writable.
	WorkspaceReadWrite WorkspaceAccessMode = "rw"
)

// ParseWorkspaceAccess converts a config string to a workspace access mode.
func ParseWorkspaceAccess(raw string) WorkspaceAccessMode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "rw", "readwrite", "read-write", "write":
		return WorkspaceReadWrite
	case "none", "disabled":
		return WorkspaceNone
	default:
		return WorkspaceReadOnly
	}
}

// Interpreter runs Cells through a Runner with a tool bridge attached.
type Interpreter struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

// NewInterpreter builds an Interpreter around runner. A nil runner
// selects the container runner.
func NewInterpreter(cfg Config, runner Runner, logger *slog.Logger) (*Interpreter, error) {
	if cfg.SandboxDir == "" {
		return nil, errors.New("sandbox: SandboxDir is required")
	}
	if cfg.CellTimeout <= 0 {
		cfg.CellTimeout = 30 * time.Second
	}
	if cfg.CellTimeout > 300*time.Second {
		cfg.CellTimeout = 300 * time.Second
	}
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = 64 * 1024
	}
	if cfg.CPUMillis <= 0 {
		cfg.CPUMillis = 1000
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = 512
	}
	if cfg.Workspace == "" {
		cfg.Workspace = WorkspaceReadOnly
	}
	if runner == nil {
		runner = NewContainerRunner(ContainerRunnerConfig{
			CPUMillis: cfg.CPUMillis,
			MemoryMB:  cfg.MemoryMB,
			Workspace: cfg.Workspace,
		})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{cfg: cfg, runner: runner, logger: logger.With("component", "sandbox")}, nil
}

// Run executes one cell: a scratch workspace is prepared under the
// session sandbox, the tool bridge is brought up beside it, and the
// runner executes the cell with both attached. Cancellation propagates
// into the isolate via the runner's context.
func (in *Interpreter) Run(ctx context.Context, cell Cell, tools ToolCaller) (*RunResult, error) {
	if !validLanguage(cell.Language) {
		return nil, fmt.Errorf("sandbox: unsupported language %q", cell.Language)
	}

	timeout := in.cfg.CellTimeout
	if cell.Timeout > 0 {
		timeout = time.Duration(cell.Timeout) * time.Second
		if timeout > 300*time.Second {
			timeout = 300 * time.Second
		}
	}

	workspace, err := prepareWorkspace(in.cfg.SandboxDir, cell)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workspace)

	var bridge *Bridge
	if tools != nil {
		bridge, err = StartBridge(filepath.Join(workspace, bridgeSocketName), tools, in.cfg.ResultLimit, in.logger)
		if err != nil {
			return nil, err
		}
		defer bridge.Close()
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := in.runner.Run(runCtx, cell, workspace)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return &RunResult{TimedOut: true, Err: "execution timed out"}, nil
		}
		return nil, err
	}
	return result, nil
}

// Close releases the runner's resources.
func (in *Interpreter) Close() error {
	return in.runner.Close()
}

// prepareWorkspace creates the cell's scratch directory with its source
// and any auxiliary files. Filenames are flattened to their base name so
// a cell cannot escape its workspace.
func prepareWorkspace(sandboxDir string, cell Cell) (string, error) {
	if err := os.MkdirAll(sandboxDir, 0o700); err != nil {
		return "", fmt.Errorf("sandbox: creating sandbox dir: %w", err)
	}
	workspace, err := os.MkdirTemp(sandboxDir, "cell-*")
	if err != nil {
		return "", fmt.Errorf("sandbox: creating workspace: %w", err)
	}

	write := func(name, content string) error {
		return os.WriteFile(filepath.Join(workspace, name), []byte(content), 0o644)
	}

	if err := write(mainFilename(cell.Language), cell.Source); err != nil {
		os.RemoveAll(workspace)
		return "", fmt.Errorf("sandbox: writing cell source: %w", err)
	}
	for name, content := range cell.Files {
		if err := write(filepath.Base(name), content); err != nil {
			os.RemoveAll(workspace)
			return "", fmt.Errorf("sandbox: writing %s: %w", name, err)
		}
	}
	return workspace, nil
}

func mainFilename(language string) string {
	switch language {
	case "python":
		return "main.py"
	case "nodejs":
		return "main.js"
	case "go":
		return "main.go"
	default:
		return "main.sh"
	}
}

func validLanguage(language string) bool {
	switch language {
	case "python", "nodejs", "go", "bash":
		return true
	}
	return false
}
