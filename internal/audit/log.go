// Package audit implements the mediator's append-only audit log: one
// JSONL record per mediated tool call, flushed and fsynced before the
// caller's decision is returned, plus a pure-Go sqlite query index for
// filtered reads without re-parsing the JSONL file.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// Log is an append-only JSONL writer. One Log owns exactly one open file
// descriptor for the lifetime of a mediator session; it is the sole writer
// of that file.
type Log struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Open opens (or creates) the audit log at path in append-only mode. The
// file is never read by the mediator; external tailers may watch it. On
// rotation (performed externally, e.g. logrotate), a new Log should be
// opened lazily on next Append failure or process restart — this package
// does not rotate the file itself.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	return &Log{path: path, f: f}, nil
}

// Append writes entry as one JSONL record, flushing and fsyncing the file
// before returning, honoring the invariant "Audit entries are appended and
// fsynced before the decision is returned to the agent". A write or fsync
// failure must cancel the tool call rather than let a decision go
// unrecorded.
func (l *Log) Append(entry models.AuditEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.f.Write(line); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("audit: fsync entry: %w", err)
	}
	return nil
}

// Path returns the underlying file path.
func (l *Log) Path() string { return l.path }

// Close closes the underlying file descriptor.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
