package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// Index is a sqlite-backed secondary index over the durable JSONL audit
// log, supporting filtered reads (Query/QueryRedactions) without
// re-parsing the whole JSONL file on every call. The log itself remains
// the source of truth; Index is rebuildable from it at any time.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if absent) the sqlite index database at path.
// Use ":memory:" for an ephemeral index, e.g. in tests.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &Index{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	request_id    TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	server_name   TEXT NOT NULL,
	tool_name     TEXT NOT NULL,
	decision      TEXT NOT NULL,
	rule          TEXT NOT NULL,
	status        TEXT NOT NULL,
	duration_ms   INTEGER NOT NULL,
	timestamp     TEXT NOT NULL,
	arguments_json TEXT NOT NULL,
	had_redaction  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_entries(session_id);
CREATE INDEX IF NOT EXISTS idx_audit_tool ON audit_entries(tool_name);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_entries(timestamp);
`

// Record indexes one already-redacted audit entry. sessionID identifies
// the owning session (not part of AuditEntry itself, since the JSONL file
// is per-session); hadRedaction reports whether Record's caller detected
// any redaction markers in entry.Arguments, for QueryRedactions.
func (idx *Index) Record(ctx context.Context, sessionID string, entry models.AuditEntry, hadRedaction bool) error {
	argsJSON, err := json.Marshal(entry.Arguments)
	if err != nil {
		return fmt.Errorf("audit: marshal arguments for index: %w", err)
	}
	_, err = idx.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO audit_entries
			(request_id, session_id, server_name, tool_name, decision, rule, status, duration_ms, timestamp, arguments_json, had_redaction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, sessionID, entry.ServerName, entry.ToolName,
		string(entry.PolicyDecision.Decision), entry.PolicyDecision.Rule,
		entry.Result.Status, entry.DurationMs, entry.Timestamp.Format(time.RFC3339Nano),
		string(argsJSON), boolToInt(hadRedaction),
	)
	if err != nil {
		return fmt.Errorf("audit: index entry: %w", err)
	}
	return nil
}

// IndexedEntry is one row returned by Query/QueryRedactions.
type IndexedEntry struct {
	RequestID  string
	SessionID  string
	ServerName string
	ToolName   string
	Decision   models.Decision
	Rule       string
	Status     string
	DurationMs int64
	Timestamp  time.Time
}

// Query returns indexed entries matching filter, most recent first.
func (idx *Index) Query(ctx context.Context, filter models.AuditFilter) ([]IndexedEntry, error) {
	return idx.query(ctx, filter, false)
}

// QueryRedactions returns indexed entries matching filter whose arguments
// contained at least one redacted credential/PII marker.
func (idx *Index) QueryRedactions(ctx context.Context, filter models.AuditFilter) ([]IndexedEntry, error) {
	return idx.query(ctx, filter, true)
}

func (idx *Index) query(ctx context.Context, filter models.AuditFilter, redactedOnly bool) ([]IndexedEntry, error) {
	q := `SELECT request_id, session_id, server_name, tool_name, decision, rule, status, duration_ms, timestamp FROM audit_entries WHERE 1=1`
	var args []any
	if filter.SessionID != "" {
		q += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.ToolName != "" {
		q += " AND tool_name = ?"
		args = append(args, filter.ToolName)
	}
	if filter.Since != nil {
		q += " AND timestamp >= ?"
		args = append(args, filter.Since.Format(time.RFC3339Nano))
	}
	if redactedOnly {
		q += " AND had_redaction = 1"
	}
	q += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := idx.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query index: %w", err)
	}
	defer rows.Close()

	var out []IndexedEntry
	for rows.Next() {
		var e IndexedEntry
		var decision, ts string
		if err := rows.Scan(&e.RequestID, &e.SessionID, &e.ServerName, &e.ToolName, &decision, &e.Rule, &e.Status, &e.DurationMs, &ts); err != nil {
			return nil, fmt.Errorf("audit: scan index row: %w", err)
		}
		e.Decision = models.Decision(decision)
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = parsed
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (idx *Index) Close() error { return idx.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
