// Package main provides ironcurtain-egress, a standalone MITM egress
// proxy that can run independently of a mediated
// session -- useful when an egress proxy should outlive any one
// container-agent session or be shared across several.
//
// Usage:
//
//	ironcurtain-egress --listen 127.0.0.1:8443 --ca-dir ~/.ironcurtain/ca --providers providers.json
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ironcurtain/ironcurtain/internal/egress"
	"github.com/ironcurtain/ironcurtain/internal/observability"
	"github.com/ironcurtain/ironcurtain/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := observability.SetDefault(observability.LogConfig{Level: os.Getenv("IRONCURTAIN_LOG_LEVEL")})

	if err := buildEgressCmd().Execute(); err != nil {
		logger.Error("ironcurtain-egress exiting", "error", err)
		os.Exit(1)
	}
}

func buildEgressCmd() *cobra.Command {
	var (
		listenAddr    string
		caDir         string
		providersPath string
	)

	cmd := &cobra.Command{
		Use:     "ironcurtain-egress",
		Short:   "Run the MITM egress proxy standalone",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEgress(cmd.Context(), listenAddr, caDir, providersPath)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:8443", "address the CONNECT listener binds to")
	cmd.Flags().StringVar(&caDir, "ca-dir", "", "directory holding (or to generate) the proxy's root CA")
	cmd.Flags().StringVar(&providersPath, "providers", "", "path to a JSON array of models.ProviderConfig allowlist entries")
	cmd.MarkFlagRequired("ca-dir")

	return cmd
}

func runEgress(ctx context.Context, listenAddr, caDir, providersPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default().With("component", "cmd.ironcurtain-egress")

	providers, err := loadProviders(providersPath)
	if err != nil {
		return fmt.Errorf("loading provider allowlist: %w", err)
	}

	ca, err := egress.LoadOrGenerateCA(caDir)
	if err != nil {
		return fmt.Errorf("loading/generating CA: %w", err)
	}

	registry := egress.NewRegistry(providers)
	metrics := observability.NewMetrics()
	proxy := egress.New(ca, registry, logger, metrics)

	logger.Info("egress proxy listening", "addr", listenAddr, "providers", len(providers))
	err = proxy.ListenAndServe(ctx, listenAddr)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func loadProviders(path string) ([]models.ProviderConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var providers []models.ProviderConfig
	if err := json.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return providers, nil
}
