package escalation

import (
	"path/filepath"
	"time"
)

// userContext is the contents of user-context.json: the most recent
// human input, shared across whatever concurrently-running front ends
// (PTY, CLI, the built-in agent's own turn loop) feed this session, for
// the auto-approver to consult.
type userContext struct {
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WriteUserContext atomically records the latest human turn text in dir's
// user-context.json ("one user-context.json holding the most
// recent human input for the auto-approver", written with the same atomic
// rename, same as request/response files).
func WriteUserContext(dir, text string) error {
	return writeJSONAtomic(filepath.Join(dir, "user-context.json"), userContext{Text: text, UpdatedAt: time.Now()})
}

// ReadUserContext returns the most recently recorded human input for dir,
// or "" if none has been written yet.
func ReadUserContext(dir string) string {
	var uc userContext
	if err := readJSON(filepath.Join(dir, "user-context.json"), &uc); err != nil {
		return ""
	}
	return uc.Text
}
