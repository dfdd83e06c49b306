package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleProvider implements Provider using the official Google Gemini SDK.
type GoogleProvider struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
	retry     RetryConfig
}

// GoogleConfig holds configuration for the Google provider.
type GoogleConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	Retry     RetryConfig
}

// NewGoogleProvider creates a Google Gemini provider.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for google")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for google")
	}
	if cfg.MaxTokens == 0 {
		return nil, fmt.Errorf("max_tokens is required for google")
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	maxTokens := int32(cfg.MaxTokens)
	model.MaxOutputTokens = &maxTokens

	return &GoogleProvider{
		client:    client,
		model:     model,
		modelName: cfg.Model,
		retry:     cfg.Retry,
	}, nil
}

// Close closes the underlying client.
func (p *GoogleProvider) Close() error {
	return p.client.Close()
}

// Chat implements Provider.
func (p *GoogleProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	for _, m := range req.Messages {
		if m.Role == "system" {
			p.model.SystemInstruction = &genai.Content{
				Parts: []genai.Part{genai.Text(m.Content)},
			}
			break
		}
	}

	cs := p.model.StartChat()
	for _, m := range req.Messages {
		switch m.Role {
		case "user":
			cs.History = append(cs.History, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(m.Content)},
			})
		case "assistant":
			cs.History = append(cs.History, &genai.Content{
				Role:  "model",
				Parts: []genai.Part{genai.Text(m.Content)},
			})
		}
	}

	// The last user message is sent as the prompt, not carried in history.
	var prompt string
	if n := len(cs.History); n > 0 && cs.History[n-1].Role == "user" {
		last := cs.History[n-1]
		cs.History = cs.History[:n-1]
		if len(last.Parts) > 0 {
			if text, ok := last.Parts[0].(genai.Text); ok {
				prompt = string(text)
			}
		}
	}

	var resp *genai.GenerateContentResponse
	err := withRetry(ctx, "google", p.retry, func() error {
		var callErr error
		resp, callErr = cs.SendMessage(ctx, genai.Text(prompt))
		return callErr
	})
	if err != nil {
		return nil, err
	}

	result := &ChatResponse{
		Model: p.modelName,
	}
	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		if candidate.FinishReason != 0 {
			result.StopReason = candidate.FinishReason.String()
		}
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if text, ok := part.(genai.Text); ok {
					result.Content += string(text)
				}
			}
		}
	}
	if resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}
