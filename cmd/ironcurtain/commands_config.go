package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ironcurtain/ironcurtain/internal/config"
)

// buildConfigCmd creates "config": an interactive editor over the user
// config JSON. Run with no flags for a guided
// prompt; --show prints the currently effective config (file + env
// overrides) without prompting.
func buildConfigCmd() *cobra.Command {
	var (
		configPath string
		show       bool
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "View or edit the IronCurtain user config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = defaultConfigPath()
			}
			if show {
				return runConfigShow(configPath)
			}
			return runConfigEdit(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to write/read the config file")
	cmd.Flags().BoolVar(&show, "show", false, "print the effective config instead of prompting")
	return cmd
}

func runConfigShow(path string) error {
	cfg, err := loadConfigOrDefault(path)
	if err != nil {
		return newUserError("loading config: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func runConfigEdit(cmd *cobra.Command, path string) error {
	cfg, err := loadConfigOrDefault(path)
	if err != nil {
		cfg = config.Default()
	}

	in := bufio.NewScanner(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	ask := func(label, current string) string {
		fmt.Fprintf(out, "%s [%s]: ", label, current)
		if !in.Scan() {
			return current
		}
		v := strings.TrimSpace(in.Text())
		if v == "" {
			return current
		}
		return v
	}

	cfg.AgentModelID = ask("Agent model ID (provider:model)", cfg.AgentModelID)
	cfg.PolicyModelID = ask("Policy model ID (provider:model)", cfg.PolicyModelID)
	cfg.ProviderAPIKeys.Anthropic = ask("Anthropic API key", cfg.ProviderAPIKeys.Anthropic)
	cfg.ProviderAPIKeys.OpenAI = ask("OpenAI API key", cfg.ProviderAPIKeys.OpenAI)
	cfg.ProviderAPIKeys.Google = ask("Google API key", cfg.ProviderAPIKeys.Google)

	timeoutStr := ask("Escalation timeout seconds (30-600)", strconv.Itoa(int(cfg.EscalationTimeout.Seconds())))
	if secs, err := strconv.Atoi(timeoutStr); err == nil {
		cfg.EscalationTimeout = time.Duration(secs) * time.Second
	}

	autoApproveStr := ask("Enable auto-approve? (y/n)", yesNo(cfg.AutoApprove.Enabled))
	cfg.AutoApprove.Enabled = strings.EqualFold(autoApproveStr, "y") || strings.EqualFold(autoApproveStr, "yes")
	if cfg.AutoApprove.Enabled {
		cfg.AutoApprove.ModelID = ask("Auto-approve model ID", cfg.AutoApprove.ModelID)
	}

	if err := cfg.Validate(); err != nil {
		return newUserError("invalid config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Fprintf(out, "Wrote %s\n", path)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}
