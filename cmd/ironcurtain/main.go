// Package main is the CLI entry point for the IronCurtain trusted
// mediation process: it fronts a set of downstream tool servers as one
// aggregated tool server, enforces a compiled policy against every call,
// and escalates to a human over file-based IPC when the policy can't
// decide on its own.
//
// # Basic usage
//
//	ironcurtain start --config ironcurtain.yaml
//	ironcurtain config
//	ironcurtain session list
//	ironcurtain escalation-listener
//
// # Environment variables
//
// IRONCURTAIN_HOME, ALLOWED_DIRECTORY, AUDIT_LOG_PATH, ESCALATION_DIR,
// ESCALATION_TIMEOUT_SECONDS, SANDBOX_POLICY, AUTO_APPROVE_ENABLED,
// AUTO_APPROVE_MODEL_ID, ANTHROPIC_API_KEY, OPENAI_API_KEY,
// GOOGLE_API_KEY.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ironcurtain/ironcurtain/internal/observability"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	observability.SetDefault(observability.LogConfig{Level: os.Getenv("IRONCURTAIN_LOG_LEVEL")})

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to the CLI exit codes: 0 success (never
// reached here), 1 user error or unmet preflight, 2 unexpected internal
// error.
func exitCodeFor(err error) int {
	var ue *userError
	if asUserError(err, &ue) {
		return 1
	}
	return 2
}

// userError marks a failure as an operator-facing configuration or
// preflight problem rather than an internal bug (exit code 1 vs
// 2).
type userError struct{ err error }

func (e *userError) Error() string { return e.err.Error() }
func (e *userError) Unwrap() error  { return e.err }

func newUserError(format string, args ...any) error {
	return &userError{err: fmt.Errorf(format, args...)}
}

func asUserError(err error, target **userError) bool {
	for err != nil {
		if ue, ok := err.(*userError); ok {
			*target = ue
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ironcurtain",
		Short:        "IronCurtain mediates every tool call an LLM agent issues against an operator-declared safety envelope",
		Version:      fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(
		buildStartCmd(),
		buildConfigCmd(),
		buildSessionCmd(),
		buildEscalationListenerCmd(),
		buildAnnotateToolsCmd(),
		buildCompilePolicyCmd(),
		buildRefreshListsCmd(),
	)
	return root
}
