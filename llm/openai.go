package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider implements Provider using the official OpenAI SDK.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	maxTokens int
	retry     RetryConfig
}

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string // optional custom endpoint
	Model     string
	MaxTokens int
	Retry     RetryConfig
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for openai")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for openai")
	}
	if cfg.MaxTokens == 0 {
		return nil, fmt.Errorf("max_tokens is required for openai")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &OpenAIProvider{
		client:    &client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		retry:     cfg.Retry,
	}, nil
}

// Chat implements Provider.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "user":
			messages = append(messages, openai.UserMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		}
	}

	maxTokens := int64(p.maxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := openai.ChatCompletionNewParams{
		Model:     shared.ChatModel(p.model),
		Messages:  messages,
		MaxTokens: openai.Int(maxTokens),
	}

	var resp *openai.ChatCompletion
	err := withRetry(ctx, "openai", p.retry, func() error {
		var callErr error
		resp, callErr = p.client.Chat.Completions.New(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	result := &ChatResponse{
		Model:        resp.Model,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	if len(resp.Choices) > 0 {
		result.Content = resp.Choices[0].Message.Content
		result.StopReason = string(resp.Choices[0].FinishReason)
	}
	return result, nil
}
