package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeRunner records what it was asked to run and returns a canned
// result, standing in for the container engine.
type fakeRunner struct {
	lastCell      Cell
	lastWorkspace string
	result        *RunResult
	err           error
	block         bool
}

func (f *fakeRunner) Run(ctx context.Context, cell Cell, workspace string) (*RunResult, error) {
	f.lastCell = cell
	f.lastWorkspace = workspace
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeRunner) Close() error { return nil }

func newTestInterpreter(t *testing.T, runner Runner) *Interpreter {
	t.Helper()
	in, err := NewInterpreter(Config{SandboxDir: t.TempDir()}, runner, nil)
	if err != nil {
		t.Fatalf("NewInterpreter: %v", err)
	}
	t.Cleanup(func() { in.Close() })
	return in
}

func TestRunRejectsUnknownLanguage(t *testing.T) {
	in := newTestInterpreter(t, &fakeRunner{})
	_, err := in.Run(context.Background(), Cell{Language: "cobol", Source: "x"}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported language")
	}
}

func TestRunPreparesWorkspace(t *testing.T) {
	in := newTestInterpreter(t, &fakeRunner{})

	var seenSource, seenData string
	// Capture workspace contents from inside the runner, before the
	// interpreter removes the scratch dir.
	checker := runnerFunc(func(ctx context.Context, cell Cell, workspace string) (*RunResult, error) {
		src, err := os.ReadFile(filepath.Join(workspace, "main.py"))
		if err != nil {
			t.Errorf("reading main.py: %v", err)
		}
		seenSource = string(src)
		data, err := os.ReadFile(filepath.Join(workspace, "data.json"))
		if err != nil {
			t.Errorf("reading data.json: %v", err)
		}
		seenData = string(data)
		return &RunResult{Stdout: "ok"}, nil
	})
	in.runner = checker

	result, err := in.Run(context.Background(), Cell{
		Language: "python",
		Source:   "print('hi')",
		Files:    map[string]string{"../evil/data.json": `{"k":1}`},
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Stdout != "ok" {
		t.Fatalf("got stdout %q", result.Stdout)
	}
	if seenSource != "print('hi')" {
		t.Fatalf("got source %q", seenSource)
	}
	// The traversal-shaped filename lands flattened inside the workspace.
	if seenData != `{"k":1}` {
		t.Fatalf("got data %q", seenData)
	}
}

// runnerFunc adapts a func to Runner for test fixtures.
type runnerFunc func(ctx context.Context, cell Cell, workspace string) (*RunResult, error)

func (f runnerFunc) Run(ctx context.Context, cell Cell, workspace string) (*RunResult, error) {
	return f(ctx, cell, workspace)
}
func (f runnerFunc) Close() error { return nil }

func TestRunRemovesWorkspace(t *testing.T) {
	var workspace string
	in := newTestInterpreter(t, runnerFunc(func(ctx context.Context, cell Cell, ws string) (*RunResult, error) {
		workspace = ws
		return &RunResult{}, nil
	}))

	if _, err := in.Run(context.Background(), Cell{Language: "bash", Source: "true"}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(workspace); !os.IsNotExist(err) {
		t.Fatalf("workspace %s should be removed, stat err = %v", workspace, err)
	}
}

func TestRunDeadlineBecomesTimeoutResult(t *testing.T) {
	in := newTestInterpreter(t, &fakeRunner{block: true})
	in.cfg.CellTimeout = 20 * time.Millisecond

	result, err := in.Run(context.Background(), Cell{Language: "bash", Source: "sleep 60"}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.TimedOut {
		t.Fatalf("got %+v, want TimedOut", result)
	}
}

func TestOutcomeRendering(t *testing.T) {
	r := &RunResult{Stdout: "value=3", Stderr: "warning: x", ExitCode: 1}
	out := r.Outcome()
	for _, want := range []string{"value=3", "stderr:", "warning: x", "exit code: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("outcome %q missing %q", out, want)
		}
	}
}

func TestParseWorkspaceAccess(t *testing.T) {
	cases := map[string]WorkspaceAccessMode{
		"rw":       WorkspaceReadWrite,
		"write":    WorkspaceReadWrite,
		"none":     WorkspaceNone,
		"disabled": WorkspaceNone,
		"ro":       WorkspaceReadOnly,
		"":         WorkspaceReadOnly,
		"bogus":    WorkspaceReadOnly,
	}
	for in, want := range cases {
		if got := ParseWorkspaceAccess(in); got != want {
			t.Errorf("ParseWorkspaceAccess(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMainFilename(t *testing.T) {
	cases := map[string]string{
		"python": "main.py",
		"nodejs": "main.js",
		"go":     "main.go",
		"bash":   "main.sh",
	}
	for lang, want := range cases {
		if got := mainFilename(lang); got != want {
			t.Errorf("mainFilename(%q) = %q, want %q", lang, got, want)
		}
	}
}
