package autoapprove

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockProvider calls a Bedrock-hosted Anthropic model as the
// auto-approver, for deployments that route all LLM traffic through AWS
// rather than calling providers directly.
type BedrockProvider struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockProvider builds a provider using the ambient AWS credential
// chain (profile, env, instance role).
func NewBedrockProvider(ctx context.Context, region, modelID string) (*BedrockProvider, error) {
	if modelID == "" {
		modelID = "anthropic.claude-haiku-4-5-20251001-v1:0"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("autoapprove: load aws config: %w", err)
	}
	return &BedrockProvider{client: bedrockruntime.NewFromConfig(cfg), modelID: modelID}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

type bedrockAnthropicRequest struct {
	AnthropicVersion string                   `json:"anthropic_version"`
	MaxTokens        int                      `json:"max_tokens"`
	System           string                   `json:"system"`
	Messages         []bedrockAnthropicMessage `json:"messages"`
}

type bedrockAnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockAnthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (p *BedrockProvider) Approve(ctx context.Context, req Request) (Decision, error) {
	body, err := json.Marshal(bedrockAnthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        64,
		System:           systemPrompt,
		Messages:         []bedrockAnthropicMessage{{Role: "user", Content: userPrompt(req)}},
	})
	if err != nil {
		return "", fmt.Errorf("autoapprove: marshal bedrock request: %w", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("autoapprove: bedrock invoke: %w", err)
	}

	var resp bedrockAnthropicResponse
	if err := json.NewDecoder(bytes.NewReader(out.Body)).Decode(&resp); err != nil {
		return "", fmt.Errorf("autoapprove: decode bedrock response: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("autoapprove: bedrock returned no content")
	}
	return parseDecision(resp.Content[0].Text)
}
