package escalation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// Registry is the shared directory where PTY/interactive sessions
// register themselves. Many writers share
// this directory, but each writes a distinct filename, so no
// coordination is needed.
type Registry struct {
	Dir string
}

// NewRegistry returns a Registry rooted at dir.
func NewRegistry(dir string) *Registry { return &Registry{Dir: dir} }

// Register writes session-<id>.json, marking a session alive.
func (r *Registry) Register(reg models.PtySessionRegistration) error {
	path := filepath.Join(r.Dir, "session-"+reg.SessionID+".json")
	return writeJSONAtomic(path, reg)
}

// Unregister removes a session's registration file, e.g. on clean exit.
func (r *Registry) Unregister(sessionID string) error {
	path := filepath.Join(r.Dir, "session-"+sessionID+".json")
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List returns all registrations, pruning entries whose pid no longer
// responds to a zero-signal liveness probe. Absence of a live pid means
// stale and collected.
func (r *Registry) List() ([]models.PtySessionRegistration, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("escalation: list registry: %w", err)
	}

	var out []models.PtySessionRegistration
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "session-") {
			continue
		}
		path := filepath.Join(r.Dir, e.Name())
		var reg models.PtySessionRegistration
		if err := readJSON(path, &reg); err != nil {
			continue
		}
		if !processAlive(reg.PID) {
			os.Remove(path)
			continue
		}
		out = append(out, reg)
	}
	return out, nil
}

// processAlive reports whether pid identifies a live process, using a
// zero-signal liveness probe (signal 0 delivers no signal but still
// fails with ESRCH if the process is gone).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
