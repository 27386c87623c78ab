package providers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/meridiancrm/ai-core/models"
)

// Provider represents a unified AI provider interface
type Provider interface {
	// Name returns the provider name (e.g., "openai", "gemini", "anthropic")
	Name() string

	// Invoke sends the invocation over the requested transport and returns
	// the provider's reply
	Invoke(ctx context.Context, inv *Invocation) (*Reply, error)

	// DefaultModel returns the model used when a request does not name one
	DefaultModel() string

	// SupportsFunctionCalling reports whether the direct transport can
	// return structured function-call replies
	SupportsFunctionCalling() bool
}

// ProxyRelay forwards an invocation through the relay service instead of
// calling the provider's API directly. Adapters fall back to it when the
// invocation asks for the proxy transport.
type ProxyRelay interface {
	Relay(ctx context.Context, provider string, inv *Invocation) (*Reply, error)
}

// Invocation is a provider-neutral request. Adapters translate it into
// their provider's wire shape.
type Invocation struct {
	// Operation the invocation serves, for logging and proxy routing
	Operation models.OperationType `json:"operation"`

	// Model identifier; empty means the provider's default model
	Model string `json:"model"`

	// System prompt establishing the persona and rules
	System string `json:"system"`

	// User prompt carrying the data and the answer contract
	User string `json:"user"`

	// MaxTokens limits the response length
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness
	Temperature float64 `json:"temperature,omitempty"`

	// Transport selects the direct provider API or the relay proxy
	Transport models.TransportType `json:"transport"`

	// FunctionName and FunctionSchema describe the structured answer for
	// providers that support function calling. A nil schema disables it.
	FunctionName   string                 `json:"function_name,omitempty"`
	FunctionSchema map[string]interface{} `json:"function_schema,omitempty"`

	// Metadata for tracking and logging
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ReplyKind distinguishes how the provider expressed its answer
type ReplyKind string

const (
	// ReplyFunctionCall means the answer arrived as structured function
	// arguments
	ReplyFunctionCall ReplyKind = "function_call"

	// ReplyText means the answer arrived as message text
	ReplyText ReplyKind = "text"
)

// Reply is a provider's answer in provider-neutral form. Exactly one of
// FunctionArgs or Text is populated, according to Kind.
type Reply struct {
	// Kind says which field carries the answer
	Kind ReplyKind `json:"kind"`

	// FunctionName and FunctionArgs hold a structured function-call answer
	FunctionName string          `json:"function_name,omitempty"`
	FunctionArgs json.RawMessage `json:"function_args,omitempty"`

	// Text holds a free-form answer
	Text string `json:"text,omitempty"`

	// ModelUsed is the model that actually served the call
	ModelUsed string `json:"model_used"`

	// Usage statistics
	Usage Usage `json:"usage"`

	// Latency of the provider call
	Latency time.Duration `json:"latency"`
}

// Usage represents token usage statistics
type Usage struct {
	// PromptTokens used in the request
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens used in the response
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is the sum of prompt and completion tokens
	TotalTokens int `json:"total_tokens"`
}

// ProviderConfig holds common configuration for providers
type ProviderConfig struct {
	// APIKey for authentication
	APIKey string

	// BaseURL for the API (optional override)
	BaseURL string

	// Model is the default model for this provider
	Model string

	// Timeout for requests
	Timeout time.Duration

	// Additional headers
	Headers map[string]string
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout: 30 * time.Second,
		Headers: make(map[string]string),
	}
}

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates if the request can be retried
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if provErr, ok := err.(*ProviderError); ok {
		return provErr.Retryable
	}
	return false
}

// IsRateLimited checks if an error is a provider-side rate limit rejection
func IsRateLimited(err error) bool {
	if provErr, ok := err.(*ProviderError); ok {
		return provErr.StatusCode == 429
	}
	return false
}
