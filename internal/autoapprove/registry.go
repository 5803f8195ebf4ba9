package autoapprove

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// Credentials bundles the provider API keys the finite registry draws
// from.
type Credentials struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GeminiAPIKey    string
	GeminiTokenSrc  oauth2.TokenSource
	BedrockRegion   string
}

// BuildProvider resolves a "provider:model" modelID against the finite
// provider registry. Unknown provider prefixes
// are a configuration error, not a runtime plugin lookup.
func BuildProvider(ctx context.Context, modelID string, creds Credentials) (Provider, error) {
	providerName, model, ok := strings.Cut(modelID, ":")
	if !ok {
		return nil, fmt.Errorf("autoapprove: modelID %q must be \"provider:model\"", modelID)
	}

	switch providerName {
	case "anthropic":
		return NewAnthropicProvider(creds.AnthropicAPIKey, model), nil
	case "openai":
		return NewOpenAIProvider(creds.OpenAIAPIKey, model), nil
	case "bedrock":
		return NewBedrockProvider(ctx, creds.BedrockRegion, model)
	case "gemini":
		return NewGeminiProvider(ctx, creds.GeminiAPIKey, model, creds.GeminiTokenSrc)
	default:
		return nil, fmt.Errorf("autoapprove: unknown provider %q", providerName)
	}
}
