package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/meridiancrm/ai-core/models"
	"github.com/meridiancrm/ai-core/services/providers"
)

type stubRelay struct {
	provider string
	inv      *providers.Invocation
	reply    *providers.Reply
	err      error
}

func (s *stubRelay) Relay(ctx context.Context, provider string, inv *providers.Invocation) (*providers.Reply, error) {
	s.provider = provider
	s.inv = inv
	if s.err != nil {
		return nil, s.err
	}
	return s.reply, nil
}

func TestNewOpenAIAdapter(t *testing.T) {
	adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "test-key"}, nil)

	if adapter == nil {
		t.Fatal("NewOpenAIAdapter() returned nil")
	}

	if adapter.Name() != "openai" {
		t.Errorf("Name() = %s, want openai", adapter.Name())
	}

	if adapter.config.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %s, want %s", adapter.config.BaseURL, defaultBaseURL)
	}

	if adapter.DefaultModel() != defaultModel {
		t.Errorf("DefaultModel() = %s, want %s", adapter.DefaultModel(), defaultModel)
	}

	if !adapter.SupportsFunctionCalling() {
		t.Error("OpenAI adapter should support function calling")
	}
}

func TestOpenAIAdapter_Invoke_TextReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify request
		if r.Method != "POST" {
			t.Errorf("Expected POST request, got %s", r.Method)
		}

		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}

		// Verify authorization header
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			t.Error("Authorization header missing or invalid")
		}

		// Read and parse request
		body, _ := io.ReadAll(r.Body)
		var req OpenAIChatRequest
		json.Unmarshal(body, &req)

		if len(req.Messages) != 2 {
			t.Errorf("len(Messages) = %d, want 2", len(req.Messages))
		}
		if req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("Unexpected message roles: %s, %s", req.Messages[0].Role, req.Messages[1].Role)
		}
		if req.MaxTokens == nil || *req.MaxTokens != 600 {
			t.Error("MaxTokens not forwarded")
		}
		if len(req.Tools) != 0 {
			t.Error("No tools expected without a function schema")
		}

		// Send mock response
		resp := OpenAIChatResponse{
			ID:      "chatcmpl-test123",
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   req.Model,
			Choices: []OpenAIChoice{
				{
					Index: 0,
					Message: OpenAIMessage{
						Role:    "assistant",
						Content: `{"score": 75}`,
					},
					FinishReason: "stop",
				},
			},
			Usage: OpenAIUsage{
				PromptTokens:     10,
				CompletionTokens: 20,
				TotalTokens:      30,
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	}, nil)

	inv := &providers.Invocation{
		Operation:   models.OperationScoring,
		Model:       "gpt-4o",
		System:      "You are a CRM analyst.",
		User:        "Score this contact.",
		MaxTokens:   600,
		Temperature: 0.2,
		Transport:   models.TransportDirect,
	}

	reply, err := adapter.Invoke(context.Background(), inv)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if reply.Kind != providers.ReplyText {
		t.Errorf("Kind = %s, want %s", reply.Kind, providers.ReplyText)
	}

	if reply.Text != `{"score": 75}` {
		t.Errorf("Unexpected reply text: %s", reply.Text)
	}

	if reply.ModelUsed != "gpt-4o" {
		t.Errorf("ModelUsed = %s, want gpt-4o", reply.ModelUsed)
	}

	if reply.Usage.TotalTokens != 30 {
		t.Errorf("TotalTokens = %d, want 30", reply.Usage.TotalTokens)
	}

	if reply.Latency <= 0 {
		t.Error("Latency not measured")
	}
}

func TestOpenAIAdapter_Invoke_FunctionCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req OpenAIChatRequest
		json.Unmarshal(body, &req)

		if len(req.Tools) != 1 {
			t.Fatalf("len(Tools) = %d, want 1", len(req.Tools))
		}
		if req.Tools[0].Type != "function" || req.Tools[0].Function.Name != "record_scoring" {
			t.Errorf("Unexpected tool: %+v", req.Tools[0])
		}
		if req.ToolChoice == nil || req.ToolChoice.Function.Name != "record_scoring" {
			t.Error("Tool choice should force the declared function")
		}

		resp := OpenAIChatResponse{
			ID:    "chatcmpl-fn",
			Model: req.Model,
			Choices: []OpenAIChoice{
				{
					Index: 0,
					Message: OpenAIMessage{
						Role: "assistant",
						ToolCalls: []OpenAIToolCall{
							{
								ID:   "call_1",
								Type: "function",
								Function: OpenAIFunctionCall{
									Name:      "record_scoring",
									Arguments: `{"score": 85, "confidence": 90}`,
								},
							},
						},
					},
					FinishReason: "tool_calls",
				},
			},
			Usage: OpenAIUsage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	}, nil)

	inv := &providers.Invocation{
		Operation:    models.OperationScoring,
		User:         "Score this contact.",
		Transport:    models.TransportDirect,
		FunctionName: "record_scoring",
		FunctionSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"score": map[string]interface{}{"type": "number"},
			},
		},
	}

	reply, err := adapter.Invoke(context.Background(), inv)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if reply.Kind != providers.ReplyFunctionCall {
		t.Fatalf("Kind = %s, want %s", reply.Kind, providers.ReplyFunctionCall)
	}

	if reply.FunctionName != "record_scoring" {
		t.Errorf("FunctionName = %s, want record_scoring", reply.FunctionName)
	}

	var args map[string]int
	if err := json.Unmarshal(reply.FunctionArgs, &args); err != nil {
		t.Fatalf("FunctionArgs should decode: %v", err)
	}
	if args["score"] != 85 {
		t.Errorf("score = %d, want 85", args["score"])
	}
}

func TestOpenAIAdapter_Invoke_Error(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		wantRetryable bool
		wantLimited   bool
	}{
		{"bad request", http.StatusBadRequest, false, false},
		{"rate limited", http.StatusTooManyRequests, true, true},
		{"server error", http.StatusInternalServerError, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.statusCode)

				errResp := OpenAIErrorResponse{
					Error: OpenAIError{
						Message: "upstream rejected the call",
						Type:    "api_error",
					},
				}
				json.NewEncoder(w).Encode(errResp)
			}))
			defer server.Close()

			adapter := NewOpenAIAdapter(providers.ProviderConfig{
				APIKey:  "test-key",
				BaseURL: server.URL,
			}, nil)

			_, err := adapter.Invoke(context.Background(), &providers.Invocation{
				Operation: models.OperationScoring,
				User:      "test",
				Transport: models.TransportDirect,
			})

			if err == nil {
				t.Fatal("Expected error but got none")
			}

			var provErr *providers.ProviderError
			if !errors.As(err, &provErr) {
				t.Fatalf("Expected ProviderError, got %T", err)
			}

			if provErr.StatusCode != tt.statusCode {
				t.Errorf("StatusCode = %d, want %d", provErr.StatusCode, tt.statusCode)
			}
			if providers.IsRetryable(err) != tt.wantRetryable {
				t.Errorf("IsRetryable() = %v, want %v", providers.IsRetryable(err), tt.wantRetryable)
			}
			if providers.IsRateLimited(err) != tt.wantLimited {
				t.Errorf("IsRateLimited() = %v, want %v", providers.IsRateLimited(err), tt.wantLimited)
			}
		})
	}
}

func TestOpenAIAdapter_Invoke_ProxyTransport(t *testing.T) {
	t.Run("relay configured", func(t *testing.T) {
		relay := &stubRelay{
			reply: &providers.Reply{
				Kind:      providers.ReplyText,
				Text:      `{"score": 60}`,
				ModelUsed: "gpt-4o-mini",
			},
		}
		adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "test-key"}, relay)

		inv := &providers.Invocation{
			Operation: models.OperationScoring,
			User:      "test",
			Transport: models.TransportProxy,
		}

		reply, err := adapter.Invoke(context.Background(), inv)
		if err != nil {
			t.Fatalf("Invoke() error = %v", err)
		}

		if relay.provider != "openai" {
			t.Errorf("relay provider = %s, want openai", relay.provider)
		}
		if relay.inv != inv {
			t.Error("invocation should be forwarded to the relay unchanged")
		}
		if reply.Text != `{"score": 60}` {
			t.Errorf("Unexpected relayed reply: %s", reply.Text)
		}
	})

	t.Run("no relay", func(t *testing.T) {
		adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "test-key"}, nil)

		_, err := adapter.Invoke(context.Background(), &providers.Invocation{
			Operation: models.OperationScoring,
			User:      "test",
			Transport: models.TransportProxy,
		})

		var provErr *providers.ProviderError
		if !errors.As(err, &provErr) {
			t.Fatalf("Expected ProviderError, got %T", err)
		}
		if provErr.Code != "PROXY_UNAVAILABLE" {
			t.Errorf("Code = %s, want PROXY_UNAVAILABLE", provErr.Code)
		}
		if provErr.Retryable {
			t.Error("Missing relay should not be retryable")
		}
	})
}

func TestOpenAIAdapter_Invoke_NoAPIKey(t *testing.T) {
	adapter := NewOpenAIAdapter(providers.ProviderConfig{}, nil)

	_, err := adapter.Invoke(context.Background(), &providers.Invocation{
		Operation: models.OperationScoring,
		User:      "test",
		Transport: models.TransportDirect,
	})

	var provErr *providers.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("Expected ProviderError, got %T", err)
	}
	if provErr.Code != "CREDENTIALS_MISSING" {
		t.Errorf("Code = %s, want CREDENTIALS_MISSING", provErr.Code)
	}
	if provErr.Retryable {
		t.Error("Missing credentials should not be retryable")
	}
}

func TestBuildOpenAIRequest(t *testing.T) {
	adapter := NewOpenAIAdapter(providers.ProviderConfig{}, nil)

	inv := &providers.Invocation{
		Operation:   models.OperationScoring,
		System:      "You are helpful",
		User:        "Hello",
		MaxTokens:   100,
		Temperature: 0.7,
	}

	openaiReq := adapter.buildOpenAIRequest("gpt-4o", inv)

	if openaiReq.Model != "gpt-4o" {
		t.Errorf("Model = %s, want gpt-4o", openaiReq.Model)
	}

	if len(openaiReq.Messages) != 2 {
		t.Errorf("len(Messages) = %d, want 2", len(openaiReq.Messages))
	}

	if *openaiReq.MaxTokens != 100 {
		t.Errorf("MaxTokens = %d, want 100", *openaiReq.MaxTokens)
	}

	if *openaiReq.Temperature != 0.7 {
		t.Errorf("Temperature = %f, want 0.7", *openaiReq.Temperature)
	}

	if openaiReq.ToolChoice != nil {
		t.Error("ToolChoice should be empty without a function schema")
	}
}

func TestBuildOpenAIRequest_NoSystemPrompt(t *testing.T) {
	adapter := NewOpenAIAdapter(providers.ProviderConfig{}, nil)

	openaiReq := adapter.buildOpenAIRequest("gpt-4o", &providers.Invocation{User: "Hello"})

	if len(openaiReq.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1", len(openaiReq.Messages))
	}
	if openaiReq.Messages[0].Role != "user" {
		t.Errorf("Role = %s, want user", openaiReq.Messages[0].Role)
	}
}

func BenchmarkInvoke(b *testing.B) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := OpenAIChatResponse{
			ID:      "test",
			Created: time.Now().Unix(),
			Model:   "gpt-4o-mini",
			Choices: []OpenAIChoice{
				{
					Index:        0,
					Message:      OpenAIMessage{Role: "assistant", Content: "response"},
					FinishReason: "stop",
				},
			},
			Usage: OpenAIUsage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	}, nil)

	inv := &providers.Invocation{
		Operation: models.OperationScoring,
		User:      "test",
		Transport: models.TransportDirect,
	}

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		adapter.Invoke(ctx, inv)
	}
}
