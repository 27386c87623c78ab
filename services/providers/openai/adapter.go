package openai

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
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

// OpenAIAdapter implements the Provider interface for OpenAI
type OpenAIAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
	proxy      providers.ProxyRelay
}

// NewOpenAIAdapter creates a new OpenAI adapter. The relay may be nil when
// the deployment only uses the direct transport.
func NewOpenAIAdapter(config providers.ProviderConfig, proxy providers.ProxyRelay) *OpenAIAdapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &OpenAIAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		proxy: proxy,
	}
}

// Name returns the provider name
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// DefaultModel returns the model used when the invocation does not name one
func (a *OpenAIAdapter) DefaultModel() string {
	return a.config.Model
}

// SupportsFunctionCalling reports that the chat completions API can return
// structured tool calls
func (a *OpenAIAdapter) SupportsFunctionCalling() bool {
	return true
}

// Invoke sends the invocation over the requested transport
func (a *OpenAIAdapter) Invoke(ctx context.Context, inv *providers.Invocation) (*providers.Reply, error) {
	if inv.Transport == models.TransportProxy {
		if a.proxy == nil {
			return nil, providers.NewProviderError(a.Name(), "PROXY_UNAVAILABLE", "no relay configured for proxy transport", 0, false, nil)
		}
		return a.proxy.Relay(ctx, a.Name(), inv)
	}
	return a.invokeDirect(ctx, inv)
}

func (a *OpenAIAdapter) invokeDirect(ctx context.Context, inv *providers.Invocation) (*providers.Reply, error) {
	if a.config.APIKey == "" {
		return nil, providers.NewProviderError(a.Name(), "CREDENTIALS_MISSING", "no API key configured for direct transport", 0, false, nil)
	}

	startTime := time.Now()

	model := inv.Model
	if model == "" {
		model = a.config.Model
	}

	// Build OpenAI request
	openaiReq := a.buildOpenAIRequest(model, inv)

	// Marshal request
	reqBody, err := json.Marshal(openaiReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "Failed to marshal request", 0, false, err)
	}

	// Create HTTP request
	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.config.BaseURL+"/chat/completions", strings.NewReader(string(reqBody)))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, false, err)
	}

	// Set headers
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
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
	var openaiResp OpenAIChatResponse
	if err := json.Unmarshal(respBody, &openaiResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, false, err)
	}

	return a.convertToReply(&openaiResp, model, time.Since(startTime))
}

// buildOpenAIRequest converts the invocation to the chat completions format.
// When a function schema is present the request forces a tool call so the
// model answers with structured arguments instead of prose.
func (a *OpenAIAdapter) buildOpenAIRequest(model string, inv *providers.Invocation) *OpenAIChatRequest {
	openaiReq := &OpenAIChatRequest{
		Model:    model,
		Messages: make([]OpenAIMessage, 0, 2),
	}

	if inv.System != "" {
		openaiReq.Messages = append(openaiReq.Messages, OpenAIMessage{Role: "system", Content: inv.System})
	}
	openaiReq.Messages = append(openaiReq.Messages, OpenAIMessage{Role: "user", Content: inv.User})

	if inv.MaxTokens > 0 {
		openaiReq.MaxTokens = &inv.MaxTokens
	}
	if inv.Temperature > 0 {
		openaiReq.Temperature = &inv.Temperature
	}

	if inv.FunctionSchema != nil {
		name := inv.FunctionName
		if name == "" {
			name = "record_result"
		}
		openaiReq.Tools = []OpenAITool{{
			Type: "function",
			Function: OpenAIFunctionDef{
				Name:        name,
				Description: "Record the structured analysis result",
				Parameters:  inv.FunctionSchema,
			},
		}}
		openaiReq.ToolChoice = &OpenAIToolChoice{
			Type:     "function",
			Function: OpenAIToolChoiceFunction{Name: name},
		}
	}

	return openaiReq
}

// convertToReply maps the wire response onto the provider-neutral reply
func (a *OpenAIAdapter) convertToReply(openaiResp *OpenAIChatResponse, requestedModel string, latency time.Duration) (*providers.Reply, error) {
	if len(openaiResp.Choices) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "Response contained no choices", http.StatusOK, false, nil)
	}

	modelUsed := openaiResp.Model
	if modelUsed == "" {
		modelUsed = requestedModel
	}

	reply := &providers.Reply{
		ModelUsed: modelUsed,
		Usage: providers.Usage{
			PromptTokens:     openaiResp.Usage.PromptTokens,
			CompletionTokens: openaiResp.Usage.CompletionTokens,
			TotalTokens:      openaiResp.Usage.TotalTokens,
		},
		Latency: latency,
	}

	message := openaiResp.Choices[0].Message
	if len(message.ToolCalls) > 0 && message.ToolCalls[0].Function.Arguments != "" {
		reply.Kind = providers.ReplyFunctionCall
		reply.FunctionName = message.ToolCalls[0].Function.Name
		reply.FunctionArgs = json.RawMessage(message.ToolCalls[0].Function.Arguments)
		return reply, nil
	}

	reply.Kind = providers.ReplyText
	reply.Text = message.Content
	return reply, nil
}

// handleErrorResponse handles OpenAI error responses
func (a *OpenAIAdapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp OpenAIErrorResponse
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

// OpenAI-specific request/response types

type OpenAIChatRequest struct {
	Model       string            `json:"model"`
	Messages    []OpenAIMessage   `json:"messages"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	Tools       []OpenAITool      `json:"tools,omitempty"`
	ToolChoice  *OpenAIToolChoice `json:"tool_choice,omitempty"`
}

type OpenAIMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []OpenAIToolCall `json:"tool_calls,omitempty"`
}

type OpenAITool struct {
	Type     string            `json:"type"`
	Function OpenAIFunctionDef `json:"function"`
}

type OpenAIFunctionDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type OpenAIToolChoice struct {
	Type     string                   `json:"type"`
	Function OpenAIToolChoiceFunction `json:"function"`
}

type OpenAIToolChoiceFunction struct {
	Name string `json:"name"`
}

type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function OpenAIFunctionCall `json:"function"`
}

type OpenAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type OpenAIChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   OpenAIUsage    `json:"usage"`
}

type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type OpenAIErrorResponse struct {
	Error OpenAIError `json:"error"`
}

type OpenAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}
