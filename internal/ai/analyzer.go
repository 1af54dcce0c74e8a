// Package ai produces a natural-language analysis of alert digests using
// an OpenAI-compatible chat endpoint.
package ai

import (
	"context"
	"errors"
	"fmt"

	"FlowSentry/internal/config"

	openai "github.com/sashabaranov/go-openai"
)

// Analyzer implements model.Analyzer on the OpenAI chat completion API.
type Analyzer struct {
	model  string
	client *openai.Client
}

// NewAnalyzer creates an Analyzer from the AI config.
func NewAnalyzer(cfg config.AIConfig) (*Analyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("AI API key is not configured")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Analyzer{
		model:  cfg.Model,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

// AnalyzeAlerts asks the model to triage the given alert summary and
// returns its markdown response.
func (a *Analyzer) AnalyzeAlerts(ctx context.Context, input string) (string, error) {
	prompt := fmt.Sprintf(
		"You are a senior network security analyst. "+
			"Analyze the following intrusion alert summary. "+
			"Give a concise assessment of the likely threat, its severity, and "+
			"recommended next steps for investigation.\n\n"+
			"--- Alert Data ---\n%s\n--- End of Alert Data ---", input,
	)

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("AI request timeout: %w", err)
		}
		return "", fmt.Errorf("AI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("AI API returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
