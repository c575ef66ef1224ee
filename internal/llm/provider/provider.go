// Package provider abstracts the LLM backend behind a small completion
// interface. The provider is treated as an opaque, possibly slow, possibly
// failing dependency; retries and timeouts are owned by the caller.
package provider

import (
	"context"
	"errors"
)

// Provider defines the interface for LLM providers.
type Provider interface {
	// Complete sends the prompt and returns the assistant's reply.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider name (e.g. "openai", "gemini").
	Name() string
}

// Message represents one chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Request represents a completion request: system prompt plus ordered
// history plus the latest user message, already assembled by the caller.
type Request struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Response represents a completion response.
type Response struct {
	Content string `json:"content"`
}

// Error codes.
const (
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeAuthentication = "authentication_error"
	ErrorCodeRateLimit      = "rate_limit_exceeded"
	ErrorCodeServerError    = "server_error"
	ErrorCodeTimeout        = "timeout"
	ErrorCodeUnknown        = "unknown_error"
)

// Error represents a provider-specific error.
type Error struct {
	Provider      string `json:"provider"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	StatusCode    int    `json:"status_code,omitempty"`
	IsRetryable   bool   `json:"is_retryable"`
	OriginalError error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Provider + " error: " + e.Message
}

// Unwrap returns the original error.
func (e *Error) Unwrap() error {
	return e.OriginalError
}

// NewError creates a provider error, deriving retryability from the code.
func NewError(provider, code, message string, original error) *Error {
	return &Error{
		Provider:      provider,
		Code:          code,
		Message:       message,
		OriginalError: original,
		IsRetryable:   retryableCode(code),
	}
}

func retryableCode(code string) bool {
	switch code {
	case ErrorCodeRateLimit, ErrorCodeServerError, ErrorCodeTimeout:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is worth retrying. Unrecognized errors
// are treated as transient network failures and retried.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.IsRetryable
	}
	return true
}
