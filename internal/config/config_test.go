package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
home: /var/lib/ironcurtain
agent_model_id: anthropic:claude-sonnet-4-5
policy_model_id: anthropic:claude-haiku-4-5
escalation_timeout: 60s
auto_approve:
  enabled: true
  model_id: anthropic:claude-haiku-4-5
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Home != "/var/lib/ironcurtain" {
		t.Errorf("Home = %q", cfg.Home)
	}
	if cfg.EscalationTimeout != 60*time.Second {
		t.Errorf("EscalationTimeout = %s", cfg.EscalationTimeout)
	}
	if !cfg.AutoApprove.Enabled || cfg.AutoApprove.ModelID == "" {
		t.Errorf("AutoApprove = %+v", cfg.AutoApprove)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"home":"/srv/ironcurtain","escalation_timeout":"90s"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Home != "/srv/ironcurtain" {
		t.Errorf("Home = %q", cfg.Home)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("home: /var/lib/ironcurtain\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("IRONCURTAIN_HOME", "/override/home")
	t.Setenv("SANDBOX_POLICY", "warn")
	t.Setenv("AUTO_APPROVE_ENABLED", "true")
	t.Setenv("AUTO_APPROVE_MODEL_ID", "openai:gpt-4o-mini")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Home != "/override/home" {
		t.Errorf("Home = %q, env override did not apply", cfg.Home)
	}
	if cfg.SandboxPolicy != SandboxPolicyWarn {
		t.Errorf("SandboxPolicy = %q", cfg.SandboxPolicy)
	}
	if !cfg.AutoApprove.Enabled || cfg.AutoApprove.ModelID != "openai:gpt-4o-mini" {
		t.Errorf("AutoApprove = %+v", cfg.AutoApprove)
	}
}

func TestValidateEscalationTimeoutRange(t *testing.T) {
	cfg := Default()
	cfg.Home = "/tmp/x"

	cfg.EscalationTimeout = 5 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for escalation timeout below 30s")
	}

	cfg.EscalationTimeout = 700 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for escalation timeout above 600s")
	}

	cfg.EscalationTimeout = 120 * time.Second
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateRequiresHome(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing home directory")
	}
}

func TestValidateAutoApproveRequiresModel(t *testing.T) {
	cfg := Default()
	cfg.Home = "/tmp/x"
	cfg.AutoApprove.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for auto_approve.enabled without model_id")
	}
}

func TestDefaultSandboxPolicyIsEnforce(t *testing.T) {
	if got := Default().SandboxPolicy; got != SandboxPolicyEnforce {
		t.Errorf("default sandbox policy = %q, want %q", got, SandboxPolicyEnforce)
	}
}
