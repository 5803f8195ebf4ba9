package egress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// InjectKey swaps the client-visible fake key for the real upstream
// credential on the outgoing request.
func InjectKey(req *http.Request, cfg models.ProviderConfig) {
	switch cfg.KeyInjection {
	case models.KeyInjectionBearer:
		req.Header.Set("Authorization", "Bearer "+cfg.RealKey)
	case models.KeyInjectionHeader:
		name := cfg.KeyHeaderName
		if name == "" {
			name = "x-api-key"
		}
		req.Header.Set(name, cfg.RealKey)
	}
}

// FakeKeyPresent reports whether the request carries the configured
// fake-key prefix; a request that never obtained one gets a 401.
func FakeKeyPresent(req *http.Request, cfg models.ProviderConfig) bool {
	var got string
	switch cfg.KeyInjection {
	case models.KeyInjectionBearer:
		got = req.Header.Get("Authorization")
		got = bearerToken(got)
	case models.KeyInjectionHeader:
		name := cfg.KeyHeaderName
		if name == "" {
			name = "x-api-key"
		}
		got = req.Header.Get(name)
	}
	if got == "" || cfg.FakeKeyPrefix == "" {
		return false
	}
	return len(got) >= len(cfg.FakeKeyPrefix) && got[:len(cfg.FakeKeyPrefix)] == cfg.FakeKeyPrefix
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return header
}

// anthropicToolsBody is the subset of the Anthropic messages request body
// relevant to the tools-array rewrite.
type anthropicToolsBody struct {
	Tools []json.RawMessage `json:"tools,omitempty"`
}

type anthropicToolEntry struct {
	Type string `json:"type,omitempty"`
}

// RewriteAnthropicBody strips every tools[] entry whose "type" is set and
// not "custom": server-side tool entries must never reach the upstream
// provider from a mediated container, while plain custom tool schemas the
// mediator already polices pass through untouched. Returns the rewritten
// body.
func RewriteAnthropicBody(body []byte) ([]byte, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, fmt.Errorf("egress: decoding request body: %w", err)
	}

	raw, ok := generic["tools"]
	if !ok {
		return body, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("egress: decoding tools array: %w", err)
	}

	kept := make([]json.RawMessage, 0, len(entries))
	for _, entry := range entries {
		var tool anthropicToolEntry
		if err := json.Unmarshal(entry, &tool); err != nil {
			return nil, fmt.Errorf("egress: decoding tool entry: %w", err)
		}
		if tool.Type == "" || tool.Type == "custom" {
			kept = append(kept, entry)
		}
	}

	rewritten, err := json.Marshal(kept)
	if err != nil {
		return nil, fmt.Errorf("egress: re-encoding tools array: %w", err)
	}
	generic["tools"] = rewritten

	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("egress: re-encoding request body: %w", err)
	}
	return out, nil
}

// ApplyRewrittenBody replaces req's body with rewritten and fixes up
// Content-Length accordingly.
func ApplyRewrittenBody(req *http.Request, rewritten []byte) {
	req.Body = nopCloser{bytes.NewReader(rewritten)}
	req.ContentLength = int64(len(rewritten))
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(rewritten)))
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }
