package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/meridiancrm/ai-core/models"
	"github.com/meridiancrm/ai-core/services/providers"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-1.5-flash"
)

// GeminiAdapter implements the Provider interface for Google Gemini
type GeminiAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
	proxy      providers.ProxyRelay
}

// NewGeminiAdapter creates a new Gemini adapter. The relay may be nil when
// the deployment only uses the direct transport.
func NewGeminiAdapter(config providers.ProviderConfig, proxy providers.ProxyRelay) *GeminiAdapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &GeminiAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		proxy: proxy,
	}
}

// Name returns the provider name
func (a *GeminiAdapter) Name() string {
	return "gemini"
}

// DefaultModel returns the model used when the invocation does not name one
func (a *GeminiAdapter) DefaultModel() string {
	return a.config.Model
}

// SupportsFunctionCalling reports that the generateContent path used here
// returns JSON text rather than structured tool calls
func (a *GeminiAdapter) SupportsFunctionCalling() bool {
	return false
}

// Invoke sends the invocation over the requested transport
func (a *GeminiAdapter) Invoke(ctx context.Context, inv *providers.Invocation) (*providers.Reply, error) {
	if inv.Transport == models.TransportProxy {
		if a.proxy == nil {
			return nil, providers.NewProviderError(a.Name(), "PROXY_UNAVAILABLE", "no relay configured for proxy transport", 0, false, nil)
		}
		return a.proxy.Relay(ctx, a.Name(), inv)
	}
	return a.invokeDirect(ctx, inv)
}

func (a *GeminiAdapter) invokeDirect(ctx context.Context, inv *providers.Invocation) (*providers.Reply, error) {
	if a.config.APIKey == "" {
		return nil, providers.NewProviderError(a.Name(), "CREDENTIALS_MISSING", "no API key configured for direct transport", 0, false, nil)
	}

	startTime := time.Now()

	model := inv.Model
	if model == "" {
		model = a.config.Model
	}

	// Build Gemini request
	geminiReq := a.buildGeminiRequest(inv)

	// Marshal request
	reqBody, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "Failed to marshal request", 0, false, err)
	}

	// The key rides in the query string, per the Generative Language API
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", a.config.BaseURL, model, a.config.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(string(reqBody)))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, false, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
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
	var geminiResp GeminiGenerateResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, false, err)
	}

	return a.convertToReply(&geminiResp, model, time.Since(startTime))
}

// buildGeminiRequest converts the invocation to the generateContent format.
// The response MIME type is pinned to JSON so the model emits a bare object
// instead of markdown-fenced text.
func (a *GeminiAdapter) buildGeminiRequest(inv *providers.Invocation) *GeminiGenerateRequest {
	geminiReq := &GeminiGenerateRequest{
		Contents: []GeminiContent{
			{
				Role:  "user",
				Parts: []GeminiPart{{Text: inv.User}},
			},
		},
		GenerationConfig: &GeminiGenerationConfig{
			ResponseMimeType: "application/json",
		},
	}

	if inv.System != "" {
		geminiReq.SystemInstruction = &GeminiContent{
			Parts: []GeminiPart{{Text: inv.System}},
		}
	}
	if inv.MaxTokens > 0 {
		geminiReq.GenerationConfig.MaxOutputTokens = &inv.MaxTokens
	}
	if inv.Temperature > 0 {
		geminiReq.GenerationConfig.Temperature = &inv.Temperature
	}

	return geminiReq
}

// convertToReply maps the wire response onto the provider-neutral reply
func (a *GeminiAdapter) convertToReply(geminiResp *GeminiGenerateResponse, model string, latency time.Duration) (*providers.Reply, error) {
	if len(geminiResp.Candidates) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "Response contained no candidates", http.StatusOK, false, nil)
	}

	candidate := geminiResp.Candidates[0]
	if len(candidate.Content.Parts) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "Candidate contained no parts", http.StatusOK, false, nil)
	}

	return &providers.Reply{
		Kind:      providers.ReplyText,
		Text:      candidate.Content.Parts[0].Text,
		ModelUsed: model,
		Usage: providers.Usage{
			PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      geminiResp.UsageMetadata.TotalTokenCount,
		},
		Latency: latency,
	}, nil
}

// handleErrorResponse handles Gemini error responses
func (a *GeminiAdapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp GeminiErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return providers.NewProviderError(a.Name(), "UNKNOWN_ERROR", string(body), statusCode, false, err)
	}

	retryable := statusCode >= 500 || statusCode == 429

	return providers.NewProviderError(
		a.Name(),
		errResp.Error.Status,
		errResp.Error.Message,
		statusCode,
		retryable,
		errors.New(errResp.Error.Message),
	)
}

// Gemini-specific request/response types

type GeminiGenerateRequest struct {
	SystemInstruction *GeminiContent          `json:"systemInstruction,omitempty"`
	Contents          []GeminiContent         `json:"contents"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

type GeminiPart struct {
	Text string `json:"text"`
}

type GeminiGenerationConfig struct {
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type GeminiGenerateResponse struct {
	Candidates    []GeminiCandidate   `json:"candidates"`
	UsageMetadata GeminiUsageMetadata `json:"usageMetadata"`
}

type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type GeminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type GeminiErrorResponse struct {
	Error GeminiError `json:"error"`
}

type GeminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}
