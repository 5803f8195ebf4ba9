// Package sessionmgr owns the session directory tree and lifecycle: it
// creates the on-disk layout under a session's home, wires the mediation
// pipeline together for that one session, and exposes an opaque Session
// handle to callers (the CLI, a container-agent bridge, or a future RPC
// surface).
package sessionmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ironcurtain/ironcurtain/internal/audit"
	"github.com/ironcurtain/ironcurtain/internal/autoapprove"
	"github.com/ironcurtain/ironcurtain/internal/config"
	"github.com/ironcurtain/ironcurtain/internal/downstream"
	"github.com/ironcurtain/ironcurtain/internal/escalation"
	"github.com/ironcurtain/ironcurtain/internal/mediator"
	"github.com/ironcurtain/ironcurtain/internal/observability"
	"github.com/ironcurtain/ironcurtain/internal/policy"
	"github.com/ironcurtain/ironcurtain/internal/sandbox"
	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// sessionIDPattern is the only shape a session ID may take. Validated
// before any path join to rule out traversal.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrInvalidSessionID is returned when a caller-supplied session ID
// doesn't match sessionIDPattern.
var ErrInvalidSessionID = errors.New("sessionmgr: invalid session id")

// ErrSessionClosed is returned by Session operations after Close.
var ErrSessionClosed = errors.New("sessionmgr: session closed")

// Status is a Session's place in its lifecycle state machine:
// initializing -> ready -> processing -> ready | closed.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady         Status = "ready"
	StatusProcessing    Status = "processing"
	StatusClosed        Status = "closed"
)

// Layout is the directory tree one session owns, rooted at
// <home>/sessions/<sessionId>.
type Layout struct {
	Root        string
	Sandbox     string
	Escalations string
	Sockets     string
	AuditLog    string
	SessionLog  string
	Interactions string
}

// NewLayout validates sessionID and computes its directory tree under
// home without touching the filesystem.
func NewLayout(home, sessionID string) (Layout, error) {
	if !sessionIDPattern.MatchString(sessionID) {
		return Layout{}, fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	root := filepath.Join(home, "sessions", sessionID)
	return Layout{
		Root:        root,
		Sandbox:     filepath.Join(root, "sandbox"),
		Escalations: filepath.Join(root, "escalations"),
		Sockets:     filepath.Join(root, "sockets"),
		AuditLog:    filepath.Join(root, "audit.jsonl"),
		SessionLog:  filepath.Join(root, "session.log"),
		Interactions: filepath.Join(root, "interactions.jsonl"),
	}, nil
}

func (l Layout) mkdirs() error {
	for _, dir := range []string{l.Root, l.Sandbox, l.Escalations, l.Sockets} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("sessionmgr: creating %s: %w", dir, err)
		}
	}
	return nil
}

// Session is the opaque handle a caller drives a mediated agent session
// through.
type Session struct {
	ID     string
	Layout Layout

	cfg       config.Config
	logger    *slog.Logger
	mediator  *mediator.Mediator
	downstream *downstream.Manager
	auditLog  *audit.Log
	auditIdx  *audit.Index
	listener  *escalation.Listener
	requester *escalation.Requester
	budget    *sandbox.Budget
	loopDet   *sandbox.LoopDetector
	diag      *DiagnosticLog
	sessionLog *os.File
	interactions *interactionLog

	stopListener context.CancelFunc

	mu     sync.Mutex
	status Status
}

// Dependencies are the shared, process-wide resources a Session borrows
// rather than constructing itself.
type Dependencies struct {
	Policy   *policy.Policy
	Approver *autoapprove.Approver
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// NewSession creates a session's directory tree, starts its downstream tool
// manager, escalation listener, and mediator with session-specific paths,
// and returns a ready handle.
func NewSession(ctx context.Context, cfg config.Config, sessionID string, deps Dependencies) (*Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	layout, err := NewLayout(cfg.Home, sessionID)
	if err != nil {
		return nil, err
	}
	if err := layout.mkdirs(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sessionmgr", "session", sessionID)

	auditLog, err := audit.Open(layout.AuditLog)
	if err != nil {
		return nil, fmt.Errorf("sessionmgr: opening audit log: %w", err)
	}
	auditIdx, err := audit.OpenIndex(filepath.Join(layout.Root, "audit-index.sqlite"))
	if err != nil {
		auditLog.Close()
		return nil, fmt.Errorf("sessionmgr: opening audit index: %w", err)
	}

	dsManager, err := downstream.New(logger, cfg.Home, cfg.DownstreamServers, layout.Sandbox)
	if err != nil {
		auditIdx.Close()
		auditLog.Close()
		return nil, fmt.Errorf("sessionmgr: starting downstream manager: %w", err)
	}
	if err := dsManager.Start(ctx); err != nil {
		auditIdx.Close()
		auditLog.Close()
		return nil, fmt.Errorf("sessionmgr: downstream manager start: %w", err)
	}

	listener, err := escalation.NewListener(layout.Escalations)
	if err != nil {
		dsManager.Stop()
		auditIdx.Close()
		auditLog.Close()
		return nil, fmt.Errorf("sessionmgr: starting escalation listener: %w", err)
	}
	// The listener's watch loop outlives the constructor's ctx; it stops
	// on Close.
	listenerCtx, stopListener := context.WithCancel(context.Background())
	go listener.Run(listenerCtx)
	requester := escalation.NewRequester(layout.Escalations)

	med := mediator.New(
		mediator.Config{
			SessionID:            sessionID,
			SandboxDir:           layout.Sandbox,
			HomeDir:              cfg.Home,
			EscalationTimeout:    cfg.EscalationTimeout,
			DownstreamCallBudget: 60 * time.Second,
		},
		deps.Policy,
		dsManager,
		auditLog,
		auditIdx,
		deps.Approver,
		logger,
		mediator.Deps{Metrics: deps.Metrics},
	)
	med.SetRequester(requester)

	budget := sandbox.NewBudget(sandbox.BudgetLimits{
		MaxTokens:    cfg.ResourceBudget.MaxInputTokens + cfg.ResourceBudget.MaxOutputTokens,
		MaxSteps:     int64(cfg.ResourceBudget.MaxSteps),
		MaxWallClock: cfg.ResourceBudget.MaxWallClock,
		MaxUSD:       cfg.ResourceBudget.MaxUSD,
	})

	interactions, err := openInteractionLog(layout.Interactions)
	if err != nil {
		listener.Close()
		dsManager.Stop()
		auditIdx.Close()
		auditLog.Close()
		return nil, fmt.Errorf("sessionmgr: opening interaction log: %w", err)
	}

	diag := NewDiagnosticLog(256)
	sessionLog, err := os.OpenFile(layout.SessionLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		logger.Warn("sessionmgr: opening session log", "error", err)
	} else {
		diag.SetSink(sessionLog)
	}

	s := &Session{
		ID:           sessionID,
		Layout:       layout,
		cfg:          cfg,
		logger:       logger,
		mediator:     med,
		downstream:   dsManager,
		auditLog:     auditLog,
		auditIdx:     auditIdx,
		listener:     listener,
		requester:    requester,
		budget:       budget,
		loopDet:      sandbox.NewLoopDetector(3, 6),
		diag:         diag,
		sessionLog:   sessionLog,
		interactions: interactions,
		stopListener: stopListener,
		status:       StatusReady,
	}

	if deps.Metrics != nil {
		deps.Metrics.SessionStarted()
	}
	s.diag.Record(DiagnosticEvent{Kind: "session_started", Detail: sessionID})
	return s, nil
}

// statusGuard transitions status if the session isn't closed, returning
// ErrSessionClosed otherwise.
func (s *Session) statusGuard(next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusClosed {
		return ErrSessionClosed
	}
	s.status = next
	return nil
}

// SendMessage delivers one turn's user text to the session, records it in
// the interaction log, and returns the interpreter's reply. The actual
// LLM/interpreter turn is
// driven by the caller-supplied TurnRunner since provider selection is a
// process-level concern, not a session-manager one.
func (s *Session) SendMessage(ctx context.Context, runner TurnRunner, text string) (string, error) {
	if err := s.statusGuard(StatusProcessing); err != nil {
		return "", err
	}
	defer s.statusGuard(StatusReady)

	s.interactions.append(interactionEntry{Role: "user", Text: text, At: time.Now()})
	s.diag.Record(DiagnosticEvent{Kind: "message_received", Detail: text})
	if err := escalation.WriteUserContext(s.Layout.Escalations, text); err != nil {
		s.logger.Warn("sessionmgr: writing user context", "error", err)
	}

	reply, err := runner.RunTurn(ctx, s, text)
	if err != nil {
		s.diag.Record(DiagnosticEvent{Kind: "turn_error", Detail: err.Error()})
		return "", err
	}

	s.interactions.append(interactionEntry{Role: "assistant", Text: reply, At: time.Now()})
	s.diag.Record(DiagnosticEvent{Kind: "message_sent", Detail: reply})
	return reply, nil
}

// CallTool runs one tool call through the session's mediator, for use by
// a TurnRunner's interpreter loop.
func (s *Session) CallTool(ctx context.Context, in mediator.CallInput) (mediator.CallOutput, error) {
	out, err := s.mediator.Call(ctx, in)
	if err == nil {
		s.diag.Record(DiagnosticEvent{Kind: "policy_decision", Detail: string(out.Decision.Decision) + ":" + in.ToolName})
	}
	return out, err
}

// LastUserMessage returns the most recent human turn text recorded for
// this session, for use as a mediator.Server's userMessage callback: the
// auto-approver consults the session's user-context.json, never raw tool
// arguments.
func (s *Session) LastUserMessage() string {
	return escalation.ReadUserContext(s.Layout.Escalations)
}

// ListTools exposes the mediator's aggregated tool list.
func (s *Session) ListTools() []mediator.AggregatedTool {
	return s.mediator.ListTools()
}

// Call satisfies mediator.CallLister so a Session can back a mediator.Server
// directly: every call still goes through CallTool,
// so it's recorded in the session's diagnostic log like any other path.
func (s *Session) Call(ctx context.Context, in mediator.CallInput) (mediator.CallOutput, error) {
	return s.CallTool(ctx, in)
}

// GetPendingEscalation returns the oldest pending escalation request, if
// any.
func (s *Session) GetPendingEscalation() (models.EscalationRequest, bool) {
	pending := s.listener.Pending()
	if len(pending) == 0 {
		return models.EscalationRequest{}, false
	}
	return pending[0], true
}

// ResolveEscalation records a human decision for escalationID.
func (s *Session) ResolveEscalation(escalationID string, approved bool, widenRoots bool) error {
	decision := models.EscalationDenied
	if approved {
		decision = models.EscalationApproved
	}
	outcome, err := s.listener.Decide(escalationID, decision, widenRoots)
	if err != nil {
		return err
	}
	s.diag.Record(DiagnosticEvent{Kind: "escalation_resolved", Detail: escalationID + ":" + string(outcome)})
	return nil
}

// GetDiagnosticLog returns the session's ring buffer of diagnostic
// events.
func (s *Session) GetDiagnosticLog() []DiagnosticEvent {
	return s.diag.Events()
}

// GetHistory returns every recorded user/assistant interaction.
func (s *Session) GetHistory() []interactionEntry {
	return s.interactions.all()
}

// GetBudgetStatus returns the session's current resource consumption.
func (s *Session) GetBudgetStatus() sandbox.Status {
	return s.budget.Status()
}

// Status returns the session's current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Close stops the session's background watchers and subprocesses,
// flushes the audit log, and marks the session closed. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusClosed
	s.mu.Unlock()

	var errs []error
	s.stopListener()
	if err := s.listener.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.downstream.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.auditIdx.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.auditLog.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.interactions.close(); err != nil {
		errs = append(errs, err)
	}
	s.diag.Record(DiagnosticEvent{Kind: "session_closed", Detail: s.ID})
	if s.sessionLog != nil {
		s.diag.SetSink(nil)
		if err := s.sessionLog.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Teardown closes the session and recursively deletes its directory
// tree. Only this explicit path removes the tree: a crash or a plain
// Close leaves it on disk for forensic inspection.
func (s *Session) Teardown() error {
	closeErr := s.Close()
	if err := os.RemoveAll(s.Layout.Root); err != nil {
		return errors.Join(closeErr, fmt.Errorf("sessionmgr: removing %s: %w", s.Layout.Root, err))
	}
	return closeErr
}

// TurnRunner drives one interpreter turn against a Session's mediator.
// Implementations own LLM provider selection, loop detection wiring, and
// truncation of oversized tool results; sessionmgr only supplies the
// mediated tool-call surface and the session's shared Budget/LoopDetector.
type TurnRunner interface {
	RunTurn(ctx context.Context, s *Session, userText string) (string, error)
}
