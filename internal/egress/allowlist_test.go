package egress

import (
	"testing"

	"github.com/ironcurtain/ironcurtain/pkg/models"
)

func TestPathMatchesWildcardSegment(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"/v1/messages", "/v1/messages", true},
		{"/v1/models/*", "/v1/models/claude-3", true},
		{"/v1/models/*", "/v1/models/claude-3/extra", false},
		{"/v1/models/*", "/v1/models/", false},
		{"/v1/*/complete", "/v1/messages/complete", true},
		{"/v1/messages", "/v1/other", false},
	}
	for _, tc := range cases {
		if got := pathMatches(tc.pattern, tc.path); got != tc.want {
			t.Errorf("pathMatches(%q, %q) = %v, want %v", tc.pattern, tc.path, got, tc.want)
		}
	}
}

func TestEndpointAllowedMethodMatters(t *testing.T) {
	cfg := models.ProviderConfig{
		AllowedEndpoints: []models.AllowedEndpoint{
			{Method: "POST", Path: "/v1/messages"},
		},
	}
	if !EndpointAllowed(cfg, "POST", "/v1/messages") {
		t.Error("expected POST /v1/messages to be allowed")
	}
	if EndpointAllowed(cfg, "GET", "/v1/messages") {
		t.Error("expected GET /v1/messages to be denied")
	}
	if EndpointAllowed(cfg, "POST", "/v1/other") {
		t.Error("expected POST /v1/other to be denied")
	}
}

func TestRegistryLookupCaseInsensitive(t *testing.T) {
	reg := NewRegistry([]models.ProviderConfig{{Host: "api.anthropic.com"}})
	if _, ok := reg.Lookup("API.ANTHROPIC.COM"); !ok {
		t.Error("expected case-insensitive host lookup to succeed")
	}
	if _, ok := reg.Lookup("evil.example.com"); ok {
		t.Error("expected unknown host to be rejected")
	}
}

func TestRewriteEnabled(t *testing.T) {
	cfg := models.ProviderConfig{RewriteEndpoints: []string{"/v1/messages"}}
	if !RewriteEnabled(cfg, "/v1/messages") {
		t.Error("expected /v1/messages to have rewrite enabled")
	}
	if RewriteEnabled(cfg, "/v1/complete") {
		t.Error("expected /v1/complete to not have rewrite enabled")
	}
}
