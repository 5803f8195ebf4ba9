package autoapprove

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider calls an OpenAI chat-completion model as the
// auto-approver.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider builds a provider against apiKey.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: model}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Approve(ctx context.Context, req Request) (Decision, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
		Temperature: 0,
		MaxTokens:   64,
	})
	if err != nil {
		return "", fmt.Errorf("autoapprove: openai call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("autoapprove: openai returned no choices")
	}
	return parseDecision(resp.Choices[0].Message.Content)
}
