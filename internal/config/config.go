// Package config assembles the one immutable Config value every IronCurtain
// process builds once at startup. Environment reads are confined to the
// boot path, and nothing in this package mutates a *Config after Load
// returns it.
package config

import (
	"fmt"
	"time"

	"github.com/ironcurtain/ironcurtain/internal/downstream"
	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// Config is the fully resolved, immutable process configuration: the
// operator-facing user config plus the ambient logging/tracing/CLI
// concerns every process carries.
type Config struct {
	Home string `yaml:"home" json:"home"`

	AgentModelID         string                              `yaml:"agent_model_id" json:"agentModelId"`
	PolicyModelID        string                              `yaml:"policy_model_id" json:"policyModelId"`
	ProviderAPIKeys      ProviderAPIKeys                      `yaml:"provider_api_keys" json:"providerApiKeys"`
	EscalationTimeout    time.Duration                        `yaml:"escalation_timeout" json:"escalationTimeoutSeconds"`
	ResourceBudget       ResourceBudget                       `yaml:"resource_budget" json:"resourceBudget"`
	AutoApprove          AutoApproveConfig                    `yaml:"auto_approve" json:"autoApprove"`
	AutoCompact          bool                                 `yaml:"auto_compact" json:"autoCompact"`
	ServerCredentials    map[string]map[string]string         `yaml:"server_credentials" json:"serverCredentials"`
	DownstreamServers    map[string]downstream.ServerSpec      `yaml:"downstream_servers" json:"downstreamServers"`

	PolicyPath      string `yaml:"policy_path" json:"policyPath"`
	AnnotationsPath string `yaml:"annotations_path" json:"annotationsPath"`

	SandboxPolicy SandboxPolicyMode `yaml:"sandbox_policy" json:"sandboxPolicy"`

	// AllowedDirectory is ENV ALLOWED_DIRECTORY. It is loaded into Config
	// only; no component in this module reads it, so it grants no root.
	AllowedDirectory string `yaml:"allowed_directory" json:"allowedDirectory"`

	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`

	Egress EgressConfig `yaml:"egress" json:"egress"`

	Container ContainerConfig `yaml:"container" json:"container"`
}

// ProviderAPIKeys holds the credentials for the finite LLM provider
// registry.
type ProviderAPIKeys struct {
	Anthropic string `yaml:"anthropic" json:"anthropic"`
	OpenAI    string `yaml:"openai" json:"openai"`
	Google    string `yaml:"google" json:"google"`
	Bedrock   string `yaml:"bedrock_region" json:"bedrockRegion"`
}

// ResourceBudget bounds one sandboxed agent session.
type ResourceBudget struct {
	MaxInputTokens  int64         `yaml:"max_input_tokens" json:"maxInputTokens"`
	MaxOutputTokens int64         `yaml:"max_output_tokens" json:"maxOutputTokens"`
	MaxSteps        int           `yaml:"max_steps" json:"maxSteps"`
	MaxWallClock    time.Duration `yaml:"max_wall_clock" json:"maxWallClock"`
	MaxUSD          float64       `yaml:"max_usd" json:"maxUsd"`
}

// AutoApproveConfig toggles and configures the conservative LLM
// auto-approver.
type AutoApproveConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	ModelID string `yaml:"model_id" json:"modelId"`
}

// SandboxPolicyMode is ENV `SANDBOX_POLICY`, "warn" or "enforce". Validate
// checks the value; no component in this module consults it, so neither
// mode changes how a tool call is decided.
type SandboxPolicyMode string

const (
	SandboxPolicyWarn    SandboxPolicyMode = "warn"
	SandboxPolicyEnforce SandboxPolicyMode = "enforce"
)

// LoggingConfig selects slog's handler and level: JSON handler in
// production, text handler in dev.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // "json" | "text"
}

// ObservabilityConfig configures OpenTelemetry tracing and Prometheus
// metrics for the mediator, downstream, and egress instrumentation.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Endpoint     string  `yaml:"endpoint" json:"endpoint"`
	ServiceName  string  `yaml:"service_name" json:"serviceName"`
	SamplingRate float64 `yaml:"sampling_rate" json:"samplingRate"`
	Insecure     bool    `yaml:"insecure" json:"insecure"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// EgressConfig configures the MITM egress proxy.
type EgressConfig struct {
	Enabled     bool                       `yaml:"enabled" json:"enabled"`
	ListenAddr  string                     `yaml:"listen_addr" json:"listenAddr"`
	CADir       string                     `yaml:"ca_dir" json:"caDir"`
	Providers   []models.ProviderConfig    `yaml:"providers" json:"providers"`
}

// ContainerConfig selects and configures the container-agent backend.
type ContainerConfig struct {
	Backend string `yaml:"backend" json:"backend"` // "firecracker" | "docker"
	Image   string `yaml:"image" json:"image"`
}

// Validate checks invariants the loader cannot express structurally;
// unknown keys are warned about at decode time, while this catches the
// semantic constraints, e.g. the escalation timeout's 30..600s range.
func (c *Config) Validate() error {
	if c.Home == "" {
		return fmt.Errorf("config: home directory is required")
	}
	if c.EscalationTimeout < 30*time.Second || c.EscalationTimeout > 600*time.Second {
		return fmt.Errorf("config: escalation_timeout must be within 30s..600s, got %s", c.EscalationTimeout)
	}
	if c.SandboxPolicy != "" && c.SandboxPolicy != SandboxPolicyWarn && c.SandboxPolicy != SandboxPolicyEnforce {
		return fmt.Errorf("config: sandbox_policy must be %q or %q, got %q", SandboxPolicyWarn, SandboxPolicyEnforce, c.SandboxPolicy)
	}
	if c.AutoApprove.Enabled && c.AutoApprove.ModelID == "" {
		return fmt.Errorf("config: auto_approve.enabled requires auto_approve.model_id")
	}
	return nil
}

// Default returns a Config with the documented defaults applied: a
// mid-range escalation timeout, and the sandbox policy defaulting to the
// safer "enforce".
func Default() Config {
	return Config{
		EscalationTimeout: 120 * time.Second,
		SandboxPolicy:     SandboxPolicyEnforce,
		Logging:           LoggingConfig{Level: "info", Format: "json"},
		Container:         ContainerConfig{Backend: "docker"},
	}
}
