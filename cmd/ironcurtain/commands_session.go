package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ironcurtain/ironcurtain/internal/sessionmgr"
)

// buildSessionCmd creates the "session" command group: operator-facing
// lifecycle operations over the on-disk session tree. "teardown" is the
// one and only path that deletes a session's directory — a crash or a
// plain process exit always leaves the tree intact for forensic
// inspection.
func buildSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage session directories",
	}
	cmd.AddCommand(
		buildSessionListCmd(),
		buildSessionDiagnosticsCmd(),
		buildSessionTeardownCmd(),
	)
	return cmd
}

func buildSessionListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every session directory under the IronCurtain home",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				return newUserError("loading config: %w", err)
			}
			sessions, err := sessionmgr.ListSessionDirs(cfg.Home)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tLAST ACTIVITY\tPATH")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.ModifiedAt.Format("2006-01-02 15:04:05"), s.Root)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to user config (YAML or JSON)")
	return cmd
}

func buildSessionDiagnosticsCmd() *cobra.Command {
	var configPath string
	var tail int

	cmd := &cobra.Command{
		Use:   "diagnostics <session-id>",
		Short: "Show a session's diagnostic event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				return newUserError("loading config: %w", err)
			}
			layout, err := sessionmgr.NewLayout(cfg.Home, args[0])
			if err != nil {
				return newUserError("session diagnostics: %w", err)
			}
			events, err := sessionmgr.ReadDiagnosticFile(layout.SessionLog, tail)
			if os.IsNotExist(err) {
				return newUserError("session diagnostics: session %q has no diagnostic log", args[0])
			}
			if err != nil {
				return err
			}
			for _, e := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-22s %s\n", e.At.Format("2006-01-02 15:04:05"), e.Kind, e.Detail)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to user config (YAML or JSON)")
	cmd.Flags().IntVarP(&tail, "tail", "n", 0, "show only the last N events (0 = all)")
	return cmd
}

func buildSessionTeardownCmd() *cobra.Command {
	var configPath string
	var yes bool

	cmd := &cobra.Command{
		Use:   "teardown <session-id>",
		Short: "Explicitly delete a session's directory tree",
		Long: `Recursively deletes a session directory, including its sandbox, audit
log, and escalation files. This is the only operation that removes a
session from disk; crashed or closed sessions are otherwise kept for
forensic inspection.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				return newUserError("loading config: %w", err)
			}
			if !yes {
				return newUserError("session teardown: pass --yes to confirm deleting session %q", args[0])
			}
			if err := sessionmgr.Teardown(cfg.Home, args[0]); err != nil {
				return newUserError("session teardown: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s removed\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to user config (YAML or JSON)")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
