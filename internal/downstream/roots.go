package downstream

import (
	"sync"

	"github.com/ironcurtain/ironcurtain/internal/roles"
)

// RootSet tracks the filesystem roots a session's downstream servers are
// permitted to touch. It starts with the session sandbox only; directories
// named in policy rules via paths.within are not added at connection
// time. Additional roots are addable at runtime — e.g. after a human approves an out-of-sandbox
// read, the containing directory is registered so the next call succeeds
// at the server-enforced boundary.
type RootSet struct {
	mu    sync.RWMutex
	roots []string
}

// NewRootSet seeds the set with the session sandbox directory.
func NewRootSet(sandboxDir string) *RootSet {
	rs := &RootSet{}
	if sandboxDir != "" {
		rs.roots = []string{sandboxDir}
	}
	return rs
}

// Add registers dir as an additional permitted root, if not already
// covered by an existing one.
func (rs *RootSet) Add(dir string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, r := range rs.roots {
		if roles.Containment(dir, r) {
			return
		}
	}
	rs.roots = append(rs.roots, dir)
}

// Allows reports whether path is contained within any registered root.
func (rs *RootSet) Allows(path string) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	for _, r := range rs.roots {
		if roles.Containment(path, r) {
			return true
		}
	}
	return false
}

// List returns a snapshot of the currently registered roots.
func (rs *RootSet) List() []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]string, len(rs.roots))
	copy(out, rs.roots)
	return out
}
