package audit

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// TestQueryBuildsExpectedSQL exercises the query-builder against a mocked
// sql.DB, verifying the WHERE clause shape without touching a real
// database file.
func TestQueryBuildsExpectedSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	idx := &Index{db: db}

	rows := sqlmock.NewRows([]string{"request_id", "session_id", "server_name", "tool_name", "decision", "rule", "status", "duration_ms", "timestamp"}).
		AddRow("r1", "s1", "fs", "read_file", "allow", "structural-sandbox-allow", "success", int64(12), "2026-01-01T00:00:00Z")

	mock.ExpectQuery(`SELECT .* FROM audit_entries WHERE 1=1 AND session_id = \? ORDER BY timestamp DESC`).
		WithArgs("s1").
		WillReturnRows(rows)

	got, err := idx.query(context.Background(), models.AuditFilter{SessionID: "s1"}, false)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].RequestID != "r1" {
		t.Fatalf("got %+v, want one row for r1", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}
