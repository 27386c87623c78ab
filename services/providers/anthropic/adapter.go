package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/meridiancrm/ai-core/models"
	"github.com/meridiancrm/ai-core/services/providers"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultModel   = "claude-3-5-haiku-latest"
	apiVersion     = "2023-06-01"

	// The messages API requires max_tokens on every call
	fallbackMaxTokens = 1024
)

// AnthropicAdapter implements the Provider interface for Anthropic Claude
type AnthropicAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
	proxy      providers.ProxyRelay
}

// NewAnthropicAdapter creates a new Anthropic adapter. The relay may be nil
// when the deployment only uses the direct transport.
func NewAnthropicAdapter(config providers.ProviderConfig, proxy providers.ProxyRelay) *AnthropicAdapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &AnthropicAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		proxy: proxy,
	}
}

// Name returns the provider name
func (a *AnthropicAdapter) Name() string {
	return "anthropic"
}

// DefaultModel returns the model used when the invocation does not name one
func (a *AnthropicAdapter) DefaultModel() string {
	return a.config.Model
}

// SupportsFunctionCalling reports that this adapter asks for JSON text
// rather than structured tool calls
func (a *AnthropicAdapter) SupportsFunctionCalling() bool {
	return false
}

// Invoke sends the invocation over the requested transport
func (a *AnthropicAdapter) Invoke(ctx context.Context, inv *providers.Invocation) (*providers.Reply, error) {
	if inv.Transport == models.TransportProxy {
		if a.proxy == nil {
			return nil, providers.NewProviderError(a.Name(), "PROXY_UNAVAILABLE", "no relay configured for proxy transport", 0, false, nil)
		}
		return a.proxy.Relay(ctx, a.Name(), inv)
	}
	return a.invokeDirect(ctx, inv)
}

func (a *AnthropicAdapter) invokeDirect(ctx context.Context, inv *providers.Invocation) (*providers.Reply, error) {
	if a.config.APIKey == "" {
		return nil, providers.NewProviderError(a.Name(), "CREDENTIALS_MISSING", "no API key configured for direct transport", 0, false, nil)
	}

	startTime := time.Now()

	model := inv.Model
	if model == "" {
		model = a.config.Model
	}

	// Build Anthropic request
	anthropicReq := a.buildAnthropicRequest(model, inv)

	// Marshal request
	reqBody, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "Failed to marshal request", 0, false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.config.BaseURL+"/v1/messages", strings.NewReader(string(reqBody)))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, false, err)
	}

	// Set headers
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, true, err)
	}
	defer httpResp.Body.Close()

	// Read response
	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "READ_ERROR", "Failed to read response", httpResp.StatusCode, false, err)
	}

	// Handle error responses
	if httpResp.StatusCode != http.StatusOK {
		return nil, a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	// Parse response
	var anthropicResp AnthropicMessageResponse
	if err := json.Unmarshal(respBody, &anthropicResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, false, err)
	}

	return a.convertToReply(&anthropicResp, model, time.Since(startTime))
}

// buildAnthropicRequest converts the invocation to the messages format
func (a *AnthropicAdapter) buildAnthropicRequest(model string, inv *providers.Invocation) *AnthropicMessageRequest {
	maxTokens := inv.MaxTokens
	if maxTokens <= 0 {
		maxTokens = fallbackMaxTokens
	}

	anthropicReq := &AnthropicMessageRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    inv.System,
		Messages: []AnthropicMessage{
			{Role: "user", Content: inv.User},
		},
	}

	if inv.Temperature > 0 {
		anthropicReq.Temperature = &inv.Temperature
	}

	return anthropicReq
}

// convertToReply maps the wire response onto the provider-neutral reply
func (a *AnthropicAdapter) convertToReply(anthropicResp *AnthropicMessageResponse, requestedModel string, latency time.Duration) (*providers.Reply, error) {
	if len(anthropicResp.Content) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "Response contained no content blocks", http.StatusOK, false, nil)
	}

	modelUsed := anthropicResp.Model
	if modelUsed == "" {
		modelUsed = requestedModel
	}

	inputTokens := anthropicResp.Usage.InputTokens
	outputTokens := anthropicResp.Usage.OutputTokens

	return &providers.Reply{
		Kind:      providers.ReplyText,
		Text:      anthropicResp.Content[0].Text,
		ModelUsed: modelUsed,
		Usage: providers.Usage{
			PromptTokens:     inputTokens,
			CompletionTokens: outputTokens,
			TotalTokens:      inputTokens + outputTokens,
		},
		Latency: latency,
	}, nil
}

// handleErrorResponse handles Anthropic error responses
func (a *AnthropicAdapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp AnthropicErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return providers.NewProviderError(a.Name(), "UNKNOWN_ERROR", string(body), statusCode, false, err)
	}

	retryable := statusCode >= 500 || statusCode == 429

	return providers.NewProviderError(
		a.Name(),
		errResp.Error.Type,
		errResp.Error.Message,
		statusCode,
		retryable,
		errors.New(errResp.Error.Message),
	)
}

// Anthropic-specific request/response types

type AnthropicMessageRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []AnthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AnthropicMessageResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Model      string                  `json:"model"`
	Content    []AnthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      AnthropicUsage          `json:"usage"`
}

type AnthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type AnthropicErrorResponse struct {
	Type  string         `json:"type"`
	Error AnthropicError `json:"error"`
}

type AnthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
