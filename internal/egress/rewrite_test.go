package egress

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ironcurtain/ironcurtain/pkg/models"
)

func TestRewriteAnthropicBodyStripsNonCustomTools(t *testing.T) {
	input := `{
		"model": "claude-3",
		"tools": [
			{"type": "computer_20241022", "name": "computer"},
			{"type": "custom", "name": "write_file", "input_schema": {}},
			{"name": "no_type_field", "input_schema": {}}
		]
	}`

	out, err := RewriteAnthropicBody([]byte(input))
	if err != nil {
		t.Fatalf("RewriteAnthropicBody: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decoding rewritten body: %v", err)
	}
	tools, ok := decoded["tools"].([]any)
	if !ok {
		t.Fatalf("tools field missing or wrong type: %v", decoded["tools"])
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 surviving tool entries, got %d: %v", len(tools), tools)
	}
	for _, raw := range tools {
		entry := raw.(map[string]any)
		if typ, ok := entry["type"]; ok && typ != "custom" {
			t.Errorf("expected only custom or untyped tools to survive, got %v", typ)
		}
	}
}

func TestRewriteAnthropicBodyNoToolsField(t *testing.T) {
	input := `{"model": "claude-3"}`
	out, err := RewriteAnthropicBody([]byte(input))
	if err != nil {
		t.Fatalf("RewriteAnthropicBody: %v", err)
	}
	if string(out) != input {
		t.Errorf("expected body without tools field to be unchanged, got %s", out)
	}
}

func TestApplyRewrittenBodyFixesContentLength(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
	rewritten := []byte(`{"model":"claude-3"}`)
	ApplyRewrittenBody(req, rewritten)
	if req.ContentLength != int64(len(rewritten)) {
		t.Errorf("expected ContentLength %d, got %d", len(rewritten), req.ContentLength)
	}
	if got := req.Header.Get("Content-Length"); got != "20" {
		t.Errorf("expected Content-Length header 20, got %s", got)
	}
}

func TestInjectKeyBearer(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
	cfg := models.ProviderConfig{KeyInjection: models.KeyInjectionBearer, RealKey: "sk-real-12345"}
	InjectKey(req, cfg)
	if got := req.Header.Get("Authorization"); got != "Bearer sk-real-12345" {
		t.Errorf("expected Authorization header to carry real key, got %q", got)
	}
}

func TestInjectKeyHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
	cfg := models.ProviderConfig{KeyInjection: models.KeyInjectionHeader, KeyHeaderName: "x-api-key", RealKey: "real-key-value"}
	InjectKey(req, cfg)
	if got := req.Header.Get("x-api-key"); got != "real-key-value" {
		t.Errorf("expected x-api-key header to carry real key, got %q", got)
	}
}

func TestFakeKeyPresent(t *testing.T) {
	cfg := models.ProviderConfig{
		KeyInjection:  models.KeyInjectionHeader,
		KeyHeaderName: "x-api-key",
		FakeKeyPrefix: "ic-fake-",
	}
	allowed := httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
	allowed.Header.Set("x-api-key", "ic-fake-abc123")
	if !FakeKeyPresent(allowed, cfg) {
		t.Error("expected request with fake key prefix to pass")
	}

	denied := httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
	denied.Header.Set("x-api-key", "sk-real-leaked")
	if FakeKeyPresent(denied, cfg) {
		t.Error("expected request without fake key prefix to be rejected")
	}

	missing := httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
	if FakeKeyPresent(missing, cfg) {
		t.Error("expected request with no key header to be rejected")
	}
}
