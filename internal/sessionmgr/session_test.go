package sessionmgr_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ironcurtain/ironcurtain/internal/sandbox"
	"github.com/ironcurtain/ironcurtain/internal/sessionmgr"
)

func TestNewLayoutRejectsTraversalIDs(t *testing.T) {
	bad := []string{"../evil", "a/b", "", "x y", "s\x00n", "../../etc"}
	for _, id := range bad {
		if _, err := sessionmgr.NewLayout("/home/alice/.ironcurtain", id); !errors.Is(err, sessionmgr.ErrInvalidSessionID) {
			t.Errorf("NewLayout(%q) = %v, want ErrInvalidSessionID", id, err)
		}
	}

	layout, err := sessionmgr.NewLayout("/home/alice/.ironcurtain", "session_A-1")
	if err != nil {
		t.Fatalf("valid id rejected: %v", err)
	}
	if layout.Root != "/home/alice/.ironcurtain/sessions/session_A-1" {
		t.Fatalf("got root %q", layout.Root)
	}
	if !strings.HasPrefix(layout.Sandbox, layout.Root) {
		t.Fatalf("sandbox %q outside root", layout.Sandbox)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := startScenarioSession(t, nil)

	if got := s.Status(); got != sessionmgr.StatusReady {
		t.Fatalf("got status %v after start", got)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := s.Status(); got != sessionmgr.StatusClosed {
		t.Fatalf("got status %v after close", got)
	}
	// Idempotent.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := s.SendMessage(context.Background(), doneRunner{}, "hi"); !errors.Is(err, sessionmgr.ErrSessionClosed) {
		t.Fatalf("SendMessage after close = %v, want ErrSessionClosed", err)
	}
}

// doneRunner finishes a turn without touching the interpreter.
type doneRunner struct{}

func (doneRunner) RunTurn(ctx context.Context, s *sessionmgr.Session, text string) (string, error) {
	return "echo: " + text, nil
}

func TestSendMessageRecordsHistoryAndUserContext(t *testing.T) {
	s := startScenarioSession(t, nil)

	reply, err := s.SendMessage(context.Background(), doneRunner{}, "list my files")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply != "echo: list my files" {
		t.Fatalf("got reply %q", reply)
	}

	history := s.GetHistory()
	if len(history) != 2 {
		t.Fatalf("got %d history entries", len(history))
	}
	if got := s.LastUserMessage(); got != "list my files" {
		t.Fatalf("LastUserMessage = %q", got)
	}
}

// TestCodeTurnRunnerFinishesTurn drives one real interpreter turn whose planner finishes
// on the first call, exercising the code-runner wiring end to end without
// a container engine.
func TestCodeTurnRunnerFinishesTurn(t *testing.T) {
	s := startScenarioSession(t, nil)

	interp, err := sandbox.NewInterpreter(
		sandbox.Config{SandboxDir: filepath.Join(s.Layout.Sandbox)},
		stubRunner{},
		nil,
	)
	if err != nil {
		t.Fatalf("NewInterpreter: %v", err)
	}
	defer interp.Close()

	runner := &sessionmgr.CodeTurnRunner{
		Interp:  interp,
		Planner: finishPlanner{summary: "nothing to do"},
	}
	reply, err := s.SendMessage(context.Background(), runner, "noop")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply != "nothing to do" {
		t.Fatalf("got reply %q", reply)
	}
}

type stubRunner struct{}

func (stubRunner) Run(ctx context.Context, cell sandbox.Cell, workspace string) (*sandbox.RunResult, error) {
	return &sandbox.RunResult{Stdout: "ok"}, nil
}
func (stubRunner) Close() error { return nil }

type finishPlanner struct{ summary string }

func (p finishPlanner) NextCell(ctx context.Context, turn *sandbox.Turn) (sandbox.Cell, bool, string, error) {
	return sandbox.Cell{}, true, p.summary, nil
}

func TestCloseLeavesTreeTeardownRemovesIt(t *testing.T) {
	s := startScenarioSession(t, nil)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// A plain close keeps the tree on disk for forensic inspection.
	if _, err := os.Stat(s.Layout.Root); err != nil {
		t.Fatalf("session root missing after Close: %v", err)
	}

	if err := s.Teardown(); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if _, err := os.Stat(s.Layout.Root); !os.IsNotExist(err) {
		t.Fatalf("session root still present after Teardown, stat err = %v", err)
	}
}

func TestPackageTeardownValidatesAndRemoves(t *testing.T) {
	s := startScenarioSession(t, nil)
	home := filepath.Dir(filepath.Dir(s.Layout.Root))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := sessionmgr.Teardown(home, "../escape"); !errors.Is(err, sessionmgr.ErrInvalidSessionID) {
		t.Fatalf("traversal id: got %v, want ErrInvalidSessionID", err)
	}
	if err := sessionmgr.Teardown(home, "no-such-session"); err == nil {
		t.Fatal("expected error for a session that does not exist")
	}

	if err := sessionmgr.Teardown(home, s.ID); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if _, err := os.Stat(s.Layout.Root); !os.IsNotExist(err) {
		t.Fatalf("session root still present, stat err = %v", err)
	}
}

func TestDiagnosticEventsPersistToSessionLog(t *testing.T) {
	s := startScenarioSession(t, nil)

	if _, err := s.SendMessage(context.Background(), doneRunner{}, "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events, err := sessionmgr.ReadDiagnosticFile(s.Layout.SessionLog, 0)
	if err != nil {
		t.Fatalf("ReadDiagnosticFile: %v", err)
	}
	kinds := map[string]bool{}
	for _, e := range events {
		kinds[e.Kind] = true
	}
	for _, want := range []string{"session_started", "message_received", "session_closed"} {
		if !kinds[want] {
			t.Errorf("session.log missing %q event; got %v", want, kinds)
		}
	}

	tail, err := sessionmgr.ReadDiagnosticFile(s.Layout.SessionLog, 1)
	if err != nil {
		t.Fatalf("ReadDiagnosticFile tail: %v", err)
	}
	if len(tail) != 1 || tail[0].Kind != "session_closed" {
		t.Fatalf("got tail %v, want the single final event", tail)
	}
}
