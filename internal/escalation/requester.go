package escalation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// ErrTimeout is returned when no response file appeared before the
// deadline. The caller must treat this the same as a deny.
var ErrTimeout = errors.New("escalation: timed out waiting for human decision")

// DefaultPollInterval is the interval at which the requester polls for a
// response file ("at interval T (default 250 ms)").
const DefaultPollInterval = 250 * time.Millisecond

// Requester is the mediator-side half of the escalation protocol: it
// writes request files and blocks waiting for a matching response.
type Requester struct {
	Dir          string
	PollInterval time.Duration
}

// NewRequester returns a Requester rooted at dir (a session's escalation
// directory).
func NewRequester(dir string) *Requester {
	return &Requester{Dir: dir, PollInterval: DefaultPollInterval}
}

// Request submits one escalation and blocks until a response file appears,
// the context is cancelled, or timeout elapses. On timeout the request
// file is removed and ErrTimeout is returned — the caller must record this
// as a deny.
func (r *Requester) Request(ctx context.Context, req models.EscalationRequest, timeout time.Duration) (models.EscalationResponse, error) {
	if req.EscalationID == "" {
		req.EscalationID = uuid.NewString()
	}
	req.CreatedAt = timeNow()

	reqPath := r.requestPath(req.EscalationID)
	respPath := r.responsePath(req.EscalationID)

	if err := writeJSONAtomic(reqPath, req); err != nil {
		return models.EscalationResponse{}, fmt.Errorf("escalation: write request: %w", err)
	}

	deadline := timeNow().Add(timeout)
	interval := r.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if resp, ok := r.tryRead(respPath); ok {
			os.Remove(reqPath)
			os.Remove(respPath)
			return resp, nil
		}
		if timeNow().After(deadline) {
			os.Remove(reqPath)
			return models.EscalationResponse{Decision: models.EscalationTimeout}, ErrTimeout
		}
		select {
		case <-ctx.Done():
			os.Remove(reqPath)
			return models.EscalationResponse{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Requester) tryRead(path string) (models.EscalationResponse, bool) {
	var resp models.EscalationResponse
	if err := readJSON(path, &resp); err != nil {
		return models.EscalationResponse{}, false
	}
	return resp, true
}

func (r *Requester) requestPath(id string) string {
	return filepath.Join(r.Dir, "request-"+id+".json")
}

func (r *Requester) responsePath(id string) string {
	return filepath.Join(r.Dir, "response-"+id+".json")
}

// timeNow is a seam so tests can control the clock; production code calls
// time.Now directly via this indirection.
var timeNow = time.Now
