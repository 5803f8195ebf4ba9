package sessionmgr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ironcurtain/ironcurtain/internal/config"
	"github.com/ironcurtain/ironcurtain/internal/escalation"
)

// Manager owns every live Session in one process and runs the background
// sweep the session registry model implies: expiring escalation requests
// pending past their deadline, pruning dead entries from the PTY session
// registry, and rotating each session's logs.
type Manager struct {
	cfg      config.Config
	deps     Dependencies
	registry *escalation.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	cron *cron.Cron
}

// NewManager constructs a Manager rooted at cfg.Home. deps.Policy and
// deps.Approver are shared across every session the Manager creates.
func NewManager(cfg config.Config, deps Dependencies) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		registry: escalation.NewRegistry(filepath.Join(cfg.Home, "pty-registry")),
		logger:   logger.With("component", "sessionmgr.manager"),
		sessions: make(map[string]*Session),
	}
}

// StartSession creates and registers a new session under this Manager.
// An empty sessionID generates a fresh one.
func (m *Manager) StartSession(ctx context.Context, sessionID string) (*Session, error) {
	s, err := NewSession(ctx, m.cfg, sessionID, m.deps)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return s, nil
}

// Session returns a previously started session by ID.
func (m *Manager) Session(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// CloseSession closes and unregisters a session.
func (m *Manager) CloseSession(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("sessionmgr: unknown session %q", sessionID)
	}
	return s.Close()
}

// TeardownSession explicitly tears a session down, deleting its
// directory tree. A session live in this process is closed first; an ID
// that only exists on disk (a previous process's session) is removed by
// path.
func (m *Manager) TeardownSession(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		return s.Teardown()
	}
	return Teardown(m.cfg.Home, sessionID)
}

// Sessions lists the IDs of every session currently registered.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// StartSweep schedules the background maintenance cron, running until
// ctx is cancelled. schedule is a standard 5-field cron expression;
// "*/5 * * * *" (every 5 minutes) is a reasonable default.
func (m *Manager) StartSweep(ctx context.Context, schedule string) error {
	m.cron = cron.New()
	_, err := m.cron.AddFunc(schedule, func() { m.sweep() })
	if err != nil {
		return fmt.Errorf("sessionmgr: scheduling sweep: %w", err)
	}
	m.cron.Start()

	go func() {
		<-ctx.Done()
		m.cron.Stop()
	}()
	return nil
}

// sweep answers escalation requests pending past the escalation timeout
// with an "expired" decision, prunes dead PTY registry entries, and
// renames session.log files grown past a size threshold to session.log.1.
func (m *Manager) sweep() {
	m.pruneStaleEscalations()

	if _, err := m.registry.List(); err != nil {
		m.logger.Error("sessionmgr: pruning session registry", "error", err)
	}

	m.rotateSessionLogs()
}

func (m *Manager) pruneStaleEscalations() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	deadline := m.cfg.EscalationTimeout
	if deadline <= 0 {
		deadline = 2 * time.Minute
	}

	for _, s := range sessions {
		for _, req := range s.listener.Pending() {
			if time.Since(req.CreatedAt) <= deadline {
				continue
			}
			if _, err := s.listener.Decide(req.EscalationID, "expired", false); err != nil {
				m.logger.Error("sessionmgr: expiring stale escalation", "session", s.ID, "escalation", req.EscalationID, "error", err)
				continue
			}
			s.diag.Record(DiagnosticEvent{Kind: "escalation_expired", Detail: req.EscalationID})
		}
	}
}

// sessionLogRotateThreshold is the size, in bytes, past which a
// session's session.log is rotated to session.log.1 during a sweep.
const sessionLogRotateThreshold = 10 * 1024 * 1024

func (m *Manager) rotateSessionLogs() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		info, err := os.Stat(s.Layout.SessionLog)
		if err != nil {
			continue
		}
		if info.Size() < sessionLogRotateThreshold {
			continue
		}
		rotated := s.Layout.SessionLog + ".1"
		if err := os.Rename(s.Layout.SessionLog, rotated); err != nil {
			m.logger.Error("sessionmgr: rotating session log", "session", s.ID, "error", err)
		}
	}
}

// Registry exposes the PTY session registry for the escalation-listener
// dashboard.
func (m *Manager) Registry() *escalation.Registry { return m.registry }

// Teardown removes a session's directory tree by ID for sessions not
// live in any Manager, e.g. from the session CLI. The ID is validated
// before any path join, so a hostile ID cannot escape the sessions
// tree.
func Teardown(home, sessionID string) error {
	layout, err := NewLayout(home, sessionID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(layout.Root); err != nil {
		return fmt.Errorf("sessionmgr: session %q: %w", sessionID, err)
	}
	return os.RemoveAll(layout.Root)
}

// SessionInfo describes one on-disk session directory.
type SessionInfo struct {
	ID         string
	Root       string
	ModifiedAt time.Time
}

// ListSessionDirs enumerates every session directory under home,
// regardless of which process (if any) owns it.
func ListSessionDirs(home string) ([]SessionInfo, error) {
	entries, err := os.ReadDir(filepath.Join(home, "sessions"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessionmgr: listing sessions: %w", err)
	}
	var out []SessionInfo
	for _, e := range entries {
		if !e.IsDir() || !sessionIDPattern.MatchString(e.Name()) {
			continue
		}
		info := SessionInfo{ID: e.Name(), Root: filepath.Join(home, "sessions", e.Name())}
		if fi, err := e.Info(); err == nil {
			info.ModifiedAt = fi.ModTime()
		}
		out = append(out, info)
	}
	return out, nil
}
