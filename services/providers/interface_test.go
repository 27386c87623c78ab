package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/meridiancrm/ai-core/models"
)

// MockProvider is a test implementation of the Provider interface
type MockProvider struct {
	name          string
	defaultModel  string
	supportsFns   bool
	reply         *Reply
	err           error
	responseDelay time.Duration
	invocations   []*Invocation
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:         name,
		defaultModel: "mock-model-1",
		supportsFns:  true,
		reply: &Reply{
			Kind:      ReplyText,
			Text:      `{"score": 75, "confidence": 80, "insights": [], "recommendations": []}`,
			ModelUsed: "mock-model-1",
			Usage:     Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		},
	}
}

// Helper methods for testing

func (m *MockProvider) SetReply(reply *Reply) {
	m.reply = reply
}

func (m *MockProvider) SetError(err error) {
	m.err = err
}

func (m *MockProvider) SetResponseDelay(delay time.Duration) {
	m.responseDelay = delay
}

func (m *MockProvider) Invocations() []*Invocation {
	return m.invocations
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) DefaultModel() string {
	return m.defaultModel
}

func (m *MockProvider) SupportsFunctionCalling() bool {
	return m.supportsFns
}

func (m *MockProvider) Invoke(ctx context.Context, inv *Invocation) (*Reply, error) {
	m.invocations = append(m.invocations, inv)

	if m.responseDelay > 0 {
		select {
		case <-time.After(m.responseDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.err != nil {
		return nil, m.err
	}

	reply := *m.reply
	if inv.Model != "" {
		reply.ModelUsed = inv.Model
	}
	return &reply, nil
}

func TestMockProvider(t *testing.T) {
	provider := NewMockProvider("test-provider")

	t.Run("Name", func(t *testing.T) {
		if provider.Name() != "test-provider" {
			t.Errorf("Name() = %s, want test-provider", provider.Name())
		}
	})

	t.Run("Invoke", func(t *testing.T) {
		inv := &Invocation{
			Operation: models.OperationScoring,
			Model:     "mock-model-2",
			System:    "system prompt",
			User:      "user prompt",
			Transport: models.TransportDirect,
		}

		reply, err := provider.Invoke(context.Background(), inv)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if reply.Kind != ReplyText {
			t.Errorf("Kind = %s, want %s", reply.Kind, ReplyText)
		}
		if reply.ModelUsed != "mock-model-2" {
			t.Errorf("ModelUsed = %s, want mock-model-2", reply.ModelUsed)
		}
		if reply.Usage.TotalTokens != 30 {
			t.Errorf("TotalTokens = %d, want 30", reply.Usage.TotalTokens)
		}
	})

	t.Run("InvocationRecorded", func(t *testing.T) {
		if len(provider.Invocations()) == 0 {
			t.Fatal("invocation was not recorded")
		}
		last := provider.Invocations()[len(provider.Invocations())-1]
		if last.Operation != models.OperationScoring {
			t.Errorf("Operation = %s, want %s", last.Operation, models.OperationScoring)
		}
	})
}

func TestReply_FunctionCallKind(t *testing.T) {
	args := json.RawMessage(`{"score": 90}`)
	reply := &Reply{
		Kind:         ReplyFunctionCall,
		FunctionName: "record_scoring",
		FunctionArgs: args,
	}

	if reply.Kind != ReplyFunctionCall {
		t.Errorf("Kind = %s, want %s", reply.Kind, ReplyFunctionCall)
	}

	var decoded map[string]int
	if err := json.Unmarshal(reply.FunctionArgs, &decoded); err != nil {
		t.Fatalf("function args should be valid JSON: %v", err)
	}
	if decoded["score"] != 90 {
		t.Errorf("score = %d, want 90", decoded["score"])
	}
}

func TestProviderError(t *testing.T) {
	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := NewProviderError("openai", "HTTP_ERROR", "request failed", 0, true, cause)

		if err.Error() != "request failed: connection refused" {
			t.Errorf("Error() = %q", err.Error())
		}
		if !errors.Is(err, cause) {
			t.Error("Unwrap should expose the cause")
		}
	})

	t.Run("without cause", func(t *testing.T) {
		err := NewProviderError("gemini", "BAD_REQUEST", "invalid payload", 400, false, nil)

		if err.Error() != "invalid payload" {
			t.Errorf("Error() = %q", err.Error())
		}
	})

	t.Run("retryable classification", func(t *testing.T) {
		tests := []struct {
			name      string
			err       error
			retryable bool
		}{
			{"retryable provider error", NewProviderError("openai", "RATE_LIMIT", "slow down", 429, true, nil), true},
			{"terminal provider error", NewProviderError("openai", "BAD_REQUEST", "bad input", 400, false, nil), false},
			{"plain error", errors.New("regular"), false},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := IsRetryable(tt.err); got != tt.retryable {
					t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
				}
			})
		}
	})

	t.Run("rate limit classification", func(t *testing.T) {
		limited := NewProviderError("openai", "RATE_LIMIT", "slow down", 429, true, nil)
		if !IsRateLimited(limited) {
			t.Error("429 should classify as rate limited")
		}

		server := NewProviderError("openai", "SERVER", "boom", 500, true, nil)
		if IsRateLimited(server) {
			t.Error("500 should not classify as rate limited")
		}
	})
}

func TestContextCancellation(t *testing.T) {
	provider := NewMockProvider("slow-provider")
	provider.SetResponseDelay(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := provider.Invoke(ctx, &Invocation{Operation: models.OperationScoring})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestDefaultProviderConfig(t *testing.T) {
	config := DefaultProviderConfig()

	if config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", config.Timeout)
	}
	if config.Headers == nil {
		t.Error("Headers map should be initialized")
	}
}
