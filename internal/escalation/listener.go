package escalation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// Listener is the approver-side half of the escalation protocol. It
// watches a session's escalation directory for new request files, exposes
// them for a human to decide on, and writes response files atomically.
type Listener struct {
	dir     string
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]models.EscalationRequest

	requests chan models.EscalationRequest
}

// NewListener starts watching dir for request-*.json files.
func NewListener(dir string) (*Listener, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("escalation: new watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("escalation: watch %s: %w", dir, err)
	}

	l := &Listener{
		dir:      dir,
		watcher:  watcher,
		pending:  make(map[string]models.EscalationRequest),
		requests: make(chan models.EscalationRequest, 64),
	}
	l.scanExisting()
	return l, nil
}

// Requests returns a channel of newly observed escalation requests. The
// channel is closed when Close is called.
func (l *Listener) Requests() <-chan models.EscalationRequest { return l.requests }

// Run processes filesystem events until ctx is cancelled or Close is
// called. Listener errors are isolated: a failure here never affects the
// mediator's own request/response loop.
func (l *Listener) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
				continue
			}
			l.tryLoad(ev.Name)
		case <-l.watcher.Errors:
			// isolated: watcher errors are dropped, never fatal
			continue
		}
	}
}

func (l *Listener) scanExisting() {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			l.tryLoad(filepath.Join(l.dir, e.Name()))
		}
	}
}

func (l *Listener) tryLoad(path string) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, "request-") || !strings.HasSuffix(name, ".json") {
		return
	}
	var req models.EscalationRequest
	if err := readJSON(path, &req); err != nil {
		return // partial write mid-rename; a later event will retry
	}
	l.mu.Lock()
	_, seen := l.pending[req.EscalationID]
	l.pending[req.EscalationID] = req
	l.mu.Unlock()
	if !seen {
		select {
		case l.requests <- req:
		default:
		}
	}
}

// Pending returns the currently known, undecided escalation requests.
func (l *Listener) Pending() []models.EscalationRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.EscalationRequest, 0, len(l.pending))
	for _, r := range l.pending {
		out = append(out, r)
	}
	return out
}

// Decide writes a response file for escalationID. It must check that the
// request file still exists immediately before writing: if it has already
// vanished (the requester gave up and reclaimed it as a timeout), the
// decision is declared "expired" and not written: an approver racing a
// requester timeout must never be recorded as a live decision.
func (l *Listener) Decide(escalationID string, decision models.EscalationDecision, widenRoots bool) (models.EscalationDecision, error) {
	reqPath := filepath.Join(l.dir, "request-"+escalationID+".json")
	if _, err := os.Stat(reqPath); err != nil {
		l.forget(escalationID)
		return models.EscalationExpired, nil
	}

	resp := models.EscalationResponse{Decision: decision, WidenRoots: widenRoots, RespondedAt: timeNow()}
	respPath := filepath.Join(l.dir, "response-"+escalationID+".json")
	if err := writeJSONAtomic(respPath, resp); err != nil {
		return "", fmt.Errorf("escalation: write response: %w", err)
	}

	// Re-check existence after the write: if the requester's timeout raced
	// ahead and removed the request file between our Stat and our write,
	// this decision is stale and must be reported as expired rather than
	// live, even though the bytes are now on disk.
	if _, err := os.Stat(reqPath); err != nil {
		os.Remove(respPath)
		l.forget(escalationID)
		return models.EscalationExpired, nil
	}

	l.forget(escalationID)
	return decision, nil
}

func (l *Listener) forget(escalationID string) {
	l.mu.Lock()
	delete(l.pending, escalationID)
	l.mu.Unlock()
}

// Close stops watching and releases the underlying file descriptor.
func (l *Listener) Close() error {
	err := l.watcher.Close()
	close(l.requests)
	return err
}
