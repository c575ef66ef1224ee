package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider implements Provider for the Google Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// GeminiOption configures a GeminiProvider.
type GeminiOption func(*GeminiProvider)

// WithGeminiModel sets the default model.
func WithGeminiModel(model string) GeminiOption {
	return func(p *GeminiProvider) { p.model = model }
}

// NewGeminiProvider creates a Gemini provider with the given API key.
func NewGeminiProvider(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	p := &GeminiProvider{client: client, model: defaultGeminiModel}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Complete sends the prompt and returns the assistant's reply.
func (p *GeminiProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	config := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		config.Temperature = &temp
	}

	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			config.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
			}
		case "assistant":
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, wrapGeminiErr(err)
	}

	text := resp.Text()
	if text == "" {
		return nil, NewError("gemini", ErrorCodeUnknown, "empty response", nil)
	}

	return &Response{Content: text}, nil
}

func wrapGeminiErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError("gemini", ErrorCodeTimeout, err.Error(), err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		code := ErrorCodeUnknown
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			code = ErrorCodeAuthentication
		case apiErr.Code == http.StatusTooManyRequests:
			code = ErrorCodeRateLimit
		case apiErr.Code == http.StatusBadRequest:
			code = ErrorCodeInvalidRequest
		case apiErr.Code >= 500:
			code = ErrorCodeServerError
		}
		e := NewError("gemini", code, apiErr.Message, err)
		e.StatusCode = apiErr.Code
		return e
	}

	// Transport-level failure: retryable.
	return NewError("gemini", ErrorCodeTimeout, err.Error(), err)
}
