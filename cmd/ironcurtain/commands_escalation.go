package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ironcurtain/ironcurtain/internal/escalation"
	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// buildEscalationListenerCmd creates "escalation-listener": a single
// long-lived process that watches every session registered in the PTY
// registry and lets an operator approve or deny pending tool-call
// escalations interactively.
func buildEscalationListenerCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "escalation-listener",
		Short: "Run the interactive dashboard over the session registry",
		Long: `Watches IRONCURTAIN_HOME/pty-registry for live sessions and, for each
one, polls its escalations directory for pending human-approval requests.
Only one instance may run at a time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				return newUserError("loading config: %w", err)
			}
			return runEscalationListener(cmd.Context(), cfg.Home, cmd)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to user config (YAML or JSON)")
	return cmd
}

func runEscalationListener(ctx context.Context, home string, cmd *cobra.Command) error {
	logger := slog.Default().With("component", "cmd.escalation-listener")

	lockPath := filepath.Join(home, "escalation-listener.lock")
	lock, err := escalation.AcquireListenerLock(lockPath)
	if err != nil {
		if err == escalation.ErrAlreadyRunning {
			return newUserError("escalation-listener: %w", err)
		}
		return fmt.Errorf("escalation-listener: acquiring lock: %w", err)
	}
	defer lock.Release()

	registry := escalation.NewRegistry(filepath.Join(home, "pty-registry"))

	out := cmd.OutOrStdout()
	in := bufio.NewScanner(cmd.InOrStdin())

	fmt.Fprintln(out, "IronCurtain escalation listener -- watching", registry.Dir)

	watched := map[string]*escalation.Listener{}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, l := range watched {
				l.Close()
			}
			return nil
		case <-ticker.C:
			sessions, err := registry.List()
			if err != nil {
				logger.Error("listing session registry", "error", err)
				continue
			}
			for _, s := range sessions {
				l, ok := watched[s.SessionID]
				if !ok {
					l, err = escalation.NewListener(s.EscalationDir)
					if err != nil {
						logger.Error("watching session escalations", "session", s.SessionID, "error", err)
						continue
					}
					go l.Run(ctx)
					watched[s.SessionID] = l
				}
				for _, req := range l.Pending() {
					fmt.Fprintf(out, "\n[%s] %s.%s requests approval: %s\n", s.Label, req.ServerName, req.ToolName, req.Reason)
					fmt.Fprintf(out, "  arguments: %v\n", req.Arguments)
					fmt.Fprint(out, "  approve? (y/n/skip): ")
					if !in.Scan() {
						return nil
					}
					answer := strings.ToLower(strings.TrimSpace(in.Text()))
					if answer == "skip" || answer == "" {
						continue
					}
					approved := answer == "y" || answer == "yes"
					if _, err := l.Decide(req.EscalationID, decisionFor(approved), false); err != nil {
						logger.Error("recording decision", "escalation", req.EscalationID, "error", err)
					}
				}
			}
		}
	}
}

func decisionFor(approved bool) models.EscalationDecision {
	if approved {
		return models.EscalationApproved
	}
	return models.EscalationDenied
}
