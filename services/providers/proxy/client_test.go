package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meridiancrm/ai-core/models"
	"github.com/meridiancrm/ai-core/services/providers"
)

func TestNewClient(t *testing.T) {
	t.Run("requires base URL", func(t *testing.T) {
		if _, err := NewClient(Config{}); err == nil {
			t.Error("empty base URL should be rejected")
		}
	})

	t.Run("applies defaults", func(t *testing.T) {
		client, err := NewClient(Config{BaseURL: "https://relay.internal"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if client.config.Timeout == 0 {
			t.Error("timeout default not applied")
		}
	})
}

func TestClient_Relay_TextReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != relayPath {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer relay-key" {
			t.Error("Relay key not forwarded")
		}

		body, _ := io.ReadAll(r.Body)
		var req RelayRequest
		json.Unmarshal(body, &req)

		if req.Provider != "gemini" {
			t.Errorf("Provider = %s, want gemini", req.Provider)
		}
		if req.Operation != "scoring" {
			t.Errorf("Operation = %s, want scoring", req.Operation)
		}
		if req.User == "" {
			t.Error("User prompt not forwarded")
		}

		resp := RelayResponse{
			Kind:  "text",
			Text:  `{"score": 55}`,
			Model: "gemini-1.5-flash",
			Usage: RelayUsage{PromptTokens: 9, CompletionTokens: 6, TotalTokens: 15},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, APIKey: "relay-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	inv := &providers.Invocation{
		Operation: models.OperationScoring,
		User:      "Score this contact.",
		Transport: models.TransportProxy,
	}

	reply, err := client.Relay(context.Background(), "gemini", inv)
	if err != nil {
		t.Fatalf("Relay() error = %v", err)
	}

	if reply.Kind != providers.ReplyText {
		t.Errorf("Kind = %s, want %s", reply.Kind, providers.ReplyText)
	}
	if reply.Text != `{"score": 55}` {
		t.Errorf("Unexpected text: %s", reply.Text)
	}
	if reply.ModelUsed != "gemini-1.5-flash" {
		t.Errorf("ModelUsed = %s", reply.ModelUsed)
	}
	if reply.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", reply.Usage.TotalTokens)
	}
	if reply.Latency <= 0 {
		t.Error("Latency not measured")
	}
}

func TestClient_Relay_FunctionCallReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req RelayRequest
		json.Unmarshal(body, &req)

		if req.ResponseSchema == nil {
			t.Error("Response schema not forwarded")
		}

		resp := RelayResponse{
			Kind:         "function_call",
			FunctionName: "record_scoring",
			FunctionArgs: json.RawMessage(`{"score": 95}`),
			Model:        "gpt-4o",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	inv := &providers.Invocation{
		Operation:      models.OperationScoring,
		User:           "Score this contact.",
		Transport:      models.TransportProxy,
		FunctionName:   "record_scoring",
		FunctionSchema: map[string]interface{}{"type": "object"},
	}

	reply, err := client.Relay(context.Background(), "openai", inv)
	if err != nil {
		t.Fatalf("Relay() error = %v", err)
	}

	if reply.Kind != providers.ReplyFunctionCall {
		t.Fatalf("Kind = %s, want %s", reply.Kind, providers.ReplyFunctionCall)
	}
	if reply.FunctionName != "record_scoring" {
		t.Errorf("FunctionName = %s", reply.FunctionName)
	}

	var args map[string]int
	if err := json.Unmarshal(reply.FunctionArgs, &args); err != nil {
		t.Fatalf("FunctionArgs should decode: %v", err)
	}
	if args["score"] != 95 {
		t.Errorf("score = %d, want 95", args["score"])
	}
}

func TestClient_Relay_FunctionCallWithoutArgsDegradesToText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := RelayResponse{
			Kind:  "function_call",
			Text:  "the relay lost the arguments",
			Model: "gpt-4o",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, _ := NewClient(Config{BaseURL: server.URL})

	reply, err := client.Relay(context.Background(), "openai", &providers.Invocation{
		Operation: models.OperationScoring,
		User:      "test",
	})
	if err != nil {
		t.Fatalf("Relay() error = %v", err)
	}

	if reply.Kind != providers.ReplyText {
		t.Errorf("Kind = %s, want %s fallback", reply.Kind, providers.ReplyText)
	}
}

func TestClient_Relay_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(RelayErrorResponse{
			Error: RelayError{Code: "UPSTREAM_DOWN", Message: "provider unreachable"},
		})
	}))
	defer server.Close()

	client, _ := NewClient(Config{BaseURL: server.URL})

	_, err := client.Relay(context.Background(), "anthropic", &providers.Invocation{
		Operation: models.OperationScoring,
		User:      "test",
	})

	var provErr *providers.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("Expected ProviderError, got %T", err)
	}

	if provErr.Provider != "anthropic" {
		t.Errorf("Provider = %s, want anthropic", provErr.Provider)
	}
	if provErr.Code != "UPSTREAM_DOWN" {
		t.Errorf("Code = %s, want UPSTREAM_DOWN", provErr.Code)
	}
	if !providers.IsRetryable(err) {
		t.Error("502 should be retryable")
	}
}
