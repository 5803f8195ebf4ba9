package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ironcurtain/ironcurtain/internal/autoapprove"
	"github.com/ironcurtain/ironcurtain/internal/config"
	"github.com/ironcurtain/ironcurtain/internal/mediator"
	"github.com/ironcurtain/ironcurtain/internal/observability"
	"github.com/ironcurtain/ironcurtain/internal/policy"
	"github.com/ironcurtain/ironcurtain/internal/sessionmgr"
)

// buildStartCmd creates "start": boots a session, starts its mediator,
// and speaks the wire protocol over stdio until the agent (or
// the operator) ends the turn. --agent selects container mode;
// --resume reopens an existing session directory.
func buildStartCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
		agentID    string
	)

	cmd := &cobra.Command{
		Use:   "start [task]",
		Short: "Start a mediated agent session",
		Long: `Creates (or resumes) a session, starts the aggregated mediator, and
exposes it over newline-delimited JSON-RPC on stdio. Without --agent the
session is driven by a built-in sandboxed code interpreter; with
--agent <id> an external agent runs in a namespaced container reached
through the MITM egress proxy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault(configPath)
			if err != nil {
				return newUserError("loading config: %w", err)
			}
			return runStart(cmd.Context(), cfg, sessionID, agentID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to user config (YAML or JSON)")
	cmd.Flags().StringVar(&sessionID, "resume", "", "reopen an existing session directory by ID")
	cmd.Flags().StringVar(&agentID, "agent", "", "run the turn inside a namespaced container with this agent adapter id")

	return cmd
}

func runStart(ctx context.Context, cfg config.Config, sessionID, agentID string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default().With("component", "cmd.start")

	pol, err := policy.Load(cfg.PolicyPath, cfg.AnnotationsPath)
	if err != nil {
		// Annotation/policy loader failures are fatal configuration
		// errors surfaced at mediator start, never per call.
		return newUserError("loading compiled policy: %w", err)
	}

	var approver *autoapprove.Approver
	if cfg.AutoApprove.Enabled {
		provider, err := autoapprove.BuildProvider(ctx, cfg.AutoApprove.ModelID, autoapprove.Credentials{
			AnthropicAPIKey: cfg.ProviderAPIKeys.Anthropic,
			OpenAIAPIKey:    cfg.ProviderAPIKeys.OpenAI,
			GeminiAPIKey:    cfg.ProviderAPIKeys.Google,
			BedrockRegion:   cfg.ProviderAPIKeys.Bedrock,
		})
		if err != nil {
			return newUserError("configuring auto-approve model %q: %w", cfg.AutoApprove.ModelID, err)
		}
		approver = autoapprove.New(provider, cfg.EscalationTimeout)
	}

	metrics := observability.NewMetrics()

	mgr := sessionmgr.NewManager(cfg, sessionmgr.Dependencies{
		Policy:   pol,
		Approver: approver,
		Metrics:  metrics,
		Logger:   logger,
	})

	if err := mgr.StartSweep(ctx, "*/5 * * * *"); err != nil {
		return fmt.Errorf("starting session sweep: %w", err)
	}

	session, err := mgr.StartSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer session.Close()

	logger.Info("session started", "session_id", session.ID, "agent", agentID)

	if agentID != "" {
		return runContainerTurn(ctx, cfg, session, agentID, metrics)
	}

	// Built-in mode: the mediator's wire protocol is exposed directly on
	// this process's stdio; a
	// sandboxed code interpreter or any MCP-speaking client can drive
	// it from the other end of the pipe.
	srv := mediator.NewServer(session, logger, session.LastUserMessage)
	return srv.Serve(ctx, os.Stdin, os.Stdout)
}
