// Package llm provides chat providers for generating persona responses.
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Message is one turn in a chat conversation.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ChatRequest is a chat request to a provider.
type ChatRequest struct {
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// ChatResponse is a provider's reply.
type ChatResponse struct {
	Content      string `json:"content"`
	StopReason   string `json:"stop_reason"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
}

// Provider is the interface for chat providers.
type Provider interface {
	// Chat sends a chat request and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider  string      `json:"provider"` // anthropic, openai, google, mock
	Model     string      `json:"model"`
	APIKey    string      `json:"api_key"`
	BaseURL   string      `json:"base_url,omitempty"` // custom endpoint, where supported
	MaxTokens int         `json:"max_tokens"`
	Retry     RetryConfig `json:"retry"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Provider == "mock" {
		return nil
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if c.MaxTokens == 0 {
		return fmt.Errorf("max_tokens is required")
	}
	return nil
}

// NewProvider creates a provider from the configuration. An empty Provider
// field is inferred from the model name.
func NewProvider(cfg Config) (Provider, error) {
	if cfg.Provider == "" && cfg.Model != "" {
		cfg.Provider = InferProviderFromModel(cfg.Model)
		if cfg.Provider == "" {
			return nil, fmt.Errorf("cannot determine provider for model %q; set provider explicitly", cfg.Model)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Retry:     cfg.Retry,
		})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Retry:     cfg.Retry,
		})
	case "google":
		return NewGoogleProvider(GoogleConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Retry:     cfg.Retry,
		})
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// InferProviderFromModel guesses the provider from a model name. Returns
// empty when the name is not recognizable.
func InferProviderFromModel(model string) string {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return "openai"
	case strings.HasPrefix(model, "gemini"):
		return "google"
	}
	return ""
}

// --- Mock Provider for Testing ---

// MockProvider is a scriptable provider for tests.
type MockProvider struct {
	mu          sync.Mutex
	response    string
	err         error
	callCount   int
	lastRequest *ChatRequest

	// ChatFunc can be overridden for custom behavior.
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// NewMockProvider creates a mock that returns an empty response.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// SetResponse sets the response content.
func (p *MockProvider) SetResponse(content string) {
	p.mu.Lock()
	p.response = content
	p.mu.Unlock()
}

// SetError sets an error to return.
func (p *MockProvider) SetError(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// LastRequest returns the most recent request.
func (p *MockProvider) LastRequest() *ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRequest
}

// CallCount returns the number of Chat calls made.
func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callCount
}

// Chat implements Provider.
func (p *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	p.callCount++
	p.lastRequest = &req
	response, err, fn := p.response, p.err, p.ChatFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return &ChatResponse{
		Content:    response,
		StopReason: "end_turn",
		Model:      "mock",
	}, nil
}
