package mediator

import (
	"path/filepath"
	"strings"

	"github.com/ironcurtain/ironcurtain/internal/downstream"
	"github.com/ironcurtain/ironcurtain/internal/redact"
)

// redactedArgs scrubs credentials/PII out of a tool call's arguments
// before they reach the audit log or the auto-approver.
func redactedArgs(args map[string]any) map[string]any {
	return redact.Arguments(args)
}

// argsHadRedaction reports whether redaction actually changed anything,
// used to populate the audit index's hadRedaction column.
func argsHadRedaction(redacted map[string]any) bool {
	var found func(v any) bool
	found = func(v any) bool {
		switch t := v.(type) {
		case string:
			return strings.Contains(t, "«redacted:")
		case map[string]any:
			for _, e := range t {
				if found(e) {
					return true
				}
			}
		case []any:
			for _, e := range t {
				if found(e) {
					return true
				}
			}
		}
		return false
	}
	return found(redacted)
}

// parentDir returns the directory a normalized path lives in, for widening
// the downstream root set to the containing directory rather than the
// single file the escalation named.
func parentDir(normalized string) string {
	return filepath.Dir(normalized)
}

// firstText extracts the first text content block from a downstream
// result, for surfacing a human-readable error message.
func firstText(result *downstream.ToolResult) string {
	return downstream.FirstText(result)
}
