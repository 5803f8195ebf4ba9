package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the user config file at path (YAML or JSON, selected by
// extension) and layers environment-variable overrides on top. The
// returned Config is never mutated again by
// the caller; every component receives it, or a narrower view of it, by
// value or via an explicit immutable field.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := decodeInto(&cfg, data, path); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeInto(cfg *Config, data []byte, pathHint string) error {
	// A strict decode rejects unknown keys; when it fails, the error is
	// logged as a warning and a lenient decode takes over, so an unknown
	// key warns rather than fails.
	ext := strings.ToLower(filepath.Ext(pathHint))
	if ext == ".json" {
		dec := json.NewDecoder(strings.NewReader(string(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			var raw map[string]any
			if jsonErr := json.Unmarshal(data, &raw); jsonErr == nil {
				slog.Warn("config: ignoring unrecognized keys", "path", pathHint, "error", err)
				return json.Unmarshal(data, cfg)
			}
			return err
		}
		return nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		// Fall back to a lenient decode so an operator's unknown key warns
		// instead of hard-failing config load.
		slog.Warn("config: ignoring unrecognized keys", "path", pathHint, "error", err)
		return yaml.Unmarshal(data, cfg)
	}
	return nil
}

// envBinding is one recognized environment variable and how it maps onto Config.
type envBinding struct {
	name  string
	apply func(*Config, string)
}

var envBindings = []envBinding{
	{"IRONCURTAIN_HOME", func(c *Config, v string) { c.Home = v }},
	{"ALLOWED_DIRECTORY", func(c *Config, v string) { c.AllowedDirectory = v }},
	{"ESCALATION_TIMEOUT_SECONDS", func(c *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			c.EscalationTimeout = time.Duration(n) * time.Second
		}
	}},
	{"SANDBOX_POLICY", func(c *Config, v string) { c.SandboxPolicy = SandboxPolicyMode(v) }},
	{"AUTO_APPROVE_ENABLED", func(c *Config, v string) { c.AutoApprove.Enabled = truthy(v) }},
	{"AUTO_APPROVE_MODEL_ID", func(c *Config, v string) { c.AutoApprove.ModelID = v }},
	{"ANTHROPIC_API_KEY", func(c *Config, v string) { c.ProviderAPIKeys.Anthropic = v }},
	{"OPENAI_API_KEY", func(c *Config, v string) { c.ProviderAPIKeys.OpenAI = v }},
	{"GOOGLE_API_KEY", func(c *Config, v string) { c.ProviderAPIKeys.Google = v }},
}

// applyEnv reads the recognized environment variables exactly once on the
// boot path. Callers elsewhere in the tree must receive these values via
// Config, never call os.Getenv directly.
func applyEnv(cfg *Config) {
	for _, b := range envBindings {
		if v, ok := os.LookupEnv(b.name); ok {
			b.apply(cfg, v)
		}
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// AuditLogPath, EscalationDir resolve the per-process paths a session
// manager wires down to the mediator, honoring AUDIT_LOG_PATH/
// ESCALATION_DIR overrides when present.
func AuditLogPath(home string) string {
	if v := os.Getenv("AUDIT_LOG_PATH"); v != "" {
		return v
	}
	return filepath.Join(home, "audit.jsonl")
}

func EscalationDir(home string) string {
	if v := os.Getenv("ESCALATION_DIR"); v != "" {
		return v
	}
	return filepath.Join(home, "escalations")
}
