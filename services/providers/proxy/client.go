package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/meridiancrm/ai-core/services/providers"
)

const relayPath = "/v1/relay"

// Config holds the relay service settings
type Config struct {
	// BaseURL is the relay service endpoint
	BaseURL string

	// APIKey authenticates this backend against the relay
	APIKey string

	// Timeout bounds a single relayed call
	Timeout time.Duration
}

// Client forwards invocations to the relay service. The relay holds the real
// provider credentials and calls the upstream API on our behalf, which keeps
// provider keys out of edge deployments.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a relay client. The base URL is required; everything
// else has defaults.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("relay base URL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 45 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Relay sends the invocation to the relay service and maps its answer onto
// the provider-neutral reply. It satisfies the ProxyRelay interface.
func (c *Client) Relay(ctx context.Context, provider string, inv *providers.Invocation) (*providers.Reply, error) {
	startTime := time.Now()

	relayReq := RelayRequest{
		Provider:       provider,
		Model:          inv.Model,
		Operation:      string(inv.Operation),
		System:         inv.System,
		User:           inv.User,
		MaxTokens:      inv.MaxTokens,
		Temperature:    inv.Temperature,
		ResponseSchema: inv.FunctionSchema,
		Metadata:       inv.Metadata,
	}

	reqBody, err := json.Marshal(relayReq)
	if err != nil {
		return nil, providers.NewProviderError(provider, "MARSHAL_ERROR", "Failed to marshal relay request", 0, false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+relayPath, strings.NewReader(string(reqBody)))
	if err != nil {
		return nil, providers.NewProviderError(provider, "REQUEST_ERROR", "Failed to create relay request", 0, false, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.NewProviderError(provider, "RELAY_ERROR", "Relay request failed", 0, true, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(provider, "READ_ERROR", "Failed to read relay response", httpResp.StatusCode, false, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(provider, httpResp.StatusCode, respBody)
	}

	var relayResp RelayResponse
	if err := json.Unmarshal(respBody, &relayResp); err != nil {
		return nil, providers.NewProviderError(provider, "UNMARSHAL_ERROR", "Failed to unmarshal relay response", httpResp.StatusCode, false, err)
	}

	return c.convertToReply(&relayResp, inv, time.Since(startTime)), nil
}

// convertToReply maps the relay answer onto the provider-neutral reply.
// A function_call kind without arguments degrades to a text reply.
func (c *Client) convertToReply(relayResp *RelayResponse, inv *providers.Invocation, latency time.Duration) *providers.Reply {
	modelUsed := relayResp.Model
	if modelUsed == "" {
		modelUsed = inv.Model
	}

	reply := &providers.Reply{
		ModelUsed: modelUsed,
		Usage: providers.Usage{
			PromptTokens:     relayResp.Usage.PromptTokens,
			CompletionTokens: relayResp.Usage.CompletionTokens,
			TotalTokens:      relayResp.Usage.TotalTokens,
		},
		Latency: latency,
	}

	if relayResp.Kind == string(providers.ReplyFunctionCall) && len(relayResp.FunctionArgs) > 0 {
		reply.Kind = providers.ReplyFunctionCall
		reply.FunctionName = relayResp.FunctionName
		reply.FunctionArgs = relayResp.FunctionArgs
		return reply
	}

	reply.Kind = providers.ReplyText
	reply.Text = relayResp.Text
	return reply
}

// handleErrorResponse handles relay error responses
func (c *Client) handleErrorResponse(provider string, statusCode int, body []byte) error {
	var errResp RelayErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return providers.NewProviderError(provider, "UNKNOWN_ERROR", string(body), statusCode, false, err)
	}

	retryable := statusCode >= 500 || statusCode == 429

	return providers.NewProviderError(
		provider,
		errResp.Error.Code,
		errResp.Error.Message,
		statusCode,
		retryable,
		errors.New(errResp.Error.Message),
	)
}

// Relay wire types

type RelayRequest struct {
	Provider       string                 `json:"provider"`
	Model          string                 `json:"model,omitempty"`
	Operation      string                 `json:"operation"`
	System         string                 `json:"system,omitempty"`
	User           string                 `json:"user"`
	MaxTokens      int                    `json:"max_tokens,omitempty"`
	Temperature    float64                `json:"temperature,omitempty"`
	ResponseSchema map[string]interface{} `json:"response_schema,omitempty"`
	Metadata       map[string]string      `json:"metadata,omitempty"`
}

type RelayResponse struct {
	Kind         string          `json:"kind"`
	FunctionName string          `json:"function_name,omitempty"`
	FunctionArgs json.RawMessage `json:"function_args,omitempty"`
	Text         string          `json:"text,omitempty"`
	Model        string          `json:"model"`
	Usage        RelayUsage      `json:"usage"`
}

type RelayUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type RelayErrorResponse struct {
	Error RelayError `json:"error"`
}

type RelayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
