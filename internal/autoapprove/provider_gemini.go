package autoapprove

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/genai"
)

// GeminiProvider calls a Google Gemini model as the auto-approver.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider builds a provider authenticated with apiKey.
// tokenSource is accepted but not used: no OAuth credential path is wired
// in, with or without an apiKey.
func NewGeminiProvider(ctx context.Context, apiKey, model string, tokenSource oauth2.TokenSource) (*GeminiProvider, error) {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	cfg := &genai.ClientConfig{APIKey: apiKey}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("autoapprove: new gemini client: %w", err)
	}
	_ = tokenSource // not used
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Approve(ctx context.Context, req Request) (Decision, error) {
	prompt := systemPrompt + "\n\n" + userPrompt(req)
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("autoapprove: gemini call: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("autoapprove: gemini returned no text")
	}
	return parseDecision(text)
}
