package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider implements Provider for the OpenAI chat completions API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL string
	model   string
	timeout time.Duration
}

// WithOpenAIBaseURL overrides the API base URL (used in tests).
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithOpenAIModel sets the default model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.model = model }
}

// WithOpenAITimeout sets the per-request HTTP timeout.
func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(c *openAIConfig) { c.timeout = d }
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	cfg := &openAIConfig{model: defaultOpenAIModel, timeout: 60 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		clientConfig.BaseURL = cfg.baseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.timeout}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.model,
	}, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete sends the prompt and returns the assistant's reply.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, p.wrapError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, NewError("openai", ErrorCodeUnknown, "no choices in response", nil)
	}

	return &Response{Content: resp.Choices[0].Message.Content}, nil
}

func (p *OpenAIProvider) wrapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError("openai", ErrorCodeTimeout, err.Error(), err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ErrorCodeUnknown
		switch {
		case apiErr.HTTPStatusCode == 401:
			code = ErrorCodeAuthentication
		case apiErr.HTTPStatusCode == 429:
			code = ErrorCodeRateLimit
		case apiErr.HTTPStatusCode == 400:
			code = ErrorCodeInvalidRequest
		case apiErr.HTTPStatusCode >= 500:
			code = ErrorCodeServerError
		}
		e := NewError("openai", code, apiErr.Message, err)
		e.StatusCode = apiErr.HTTPStatusCode
		return e
	}

	// Transport-level failure: retryable.
	return NewError("openai", ErrorCodeTimeout, err.Error(), err)
}
