package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationType_Valid(t *testing.T) {
	for _, op := range AllOperations {
		t.Run(string(op), func(t *testing.T) {
			assert.True(t, op.Valid())
		})
	}

	assert.False(t, OperationType("").Valid())
	assert.False(t, OperationType("sentiment").Valid())
}

func TestPriority_Rank(t *testing.T) {
	tests := []struct {
		priority Priority
		rank     int
	}{
		{PriorityLow, 0},
		{PriorityMedium, 1},
		{PriorityHigh, 2},
		{PriorityUrgent, 3},
		{Priority("unknown"), -1},
	}

	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			assert.Equal(t, tt.rank, tt.priority.Rank())
		})
	}

	assert.True(t, PriorityUrgent.Rank() > PriorityHigh.Rank())
	assert.True(t, PriorityHigh.Rank() > PriorityMedium.Rank())
	assert.True(t, PriorityMedium.Rank() > PriorityLow.Rank())
}

func TestNewAIRequest(t *testing.T) {
	payload := map[string]any{"name": "Ada Lovelace"}

	req := NewAIRequest(OperationScoring, payload)

	assert.NotEmpty(t, req.ID)
	_, err := uuid.Parse(req.ID)
	assert.NoError(t, err)
	assert.Equal(t, OperationScoring, req.Operation)
	assert.Equal(t, PriorityMedium, req.Priority)
	assert.Equal(t, payload, req.Payload)
}

func TestAIRequest_EnsureDefaults(t *testing.T) {
	req := &AIRequest{Operation: OperationInsights, Payload: map[string]any{"a": 1}}
	req.EnsureDefaults()

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, PriorityMedium, req.Priority)

	// Existing values are preserved.
	req2 := &AIRequest{ID: "keep-me", Priority: PriorityUrgent}
	req2.EnsureDefaults()
	assert.Equal(t, "keep-me", req2.ID)
	assert.Equal(t, PriorityUrgent, req2.Priority)
}

func TestAIRequest_Validate(t *testing.T) {
	valid := func() *AIRequest {
		r := NewAIRequest(OperationScoring, map[string]any{"name": "x"})
		return r
	}

	tests := []struct {
		name    string
		mutate  func(*AIRequest)
		wantErr string
	}{
		{"valid", func(r *AIRequest) {}, ""},
		{"bad operation", func(r *AIRequest) { r.Operation = "bogus" }, "operation"},
		{"bad priority", func(r *AIRequest) { r.Priority = "asap" }, "priority"},
		{"empty payload", func(r *AIRequest) { r.Payload = nil }, "payload"},
		{"negative timeout", func(r *AIRequest) { r.Options.TimeoutMs = -1 }, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			err := req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestRequestOptions_CacheEnabled(t *testing.T) {
	assert.True(t, RequestOptions{}.CacheEnabled())

	off := false
	assert.False(t, RequestOptions{UseCache: &off}.CacheEnabled())

	on := true
	assert.True(t, RequestOptions{UseCache: &on}.CacheEnabled())
}

func TestDefaultResultFor_CoversAllOperations(t *testing.T) {
	for _, op := range AllOperations {
		t.Run(string(op), func(t *testing.T) {
			result := DefaultResultFor(op)
			require.NotNil(t, result)

			// Defaults must be serializable; they travel through the same
			// response path as genuine results.
			data, err := json.Marshal(result)
			require.NoError(t, err)
			assert.NotEqual(t, "null", string(data))
		})
	}
}

func TestDefaultResults_AreNeutral(t *testing.T) {
	scoring := DefaultScoringResult()
	assert.Equal(t, 50, scoring.Score)
	assert.Equal(t, 0, scoring.Confidence)
	assert.NotEmpty(t, scoring.Insights)

	enrichment := DefaultEnrichmentResult()
	assert.Empty(t, enrichment.FirstName)
	assert.Empty(t, enrichment.Company)
	assert.Equal(t, 0, enrichment.Confidence)

	analysis := DefaultEmailAnalysis()
	assert.Equal(t, "neutral", analysis.Sentiment)
	assert.Equal(t, "unknown", analysis.Intent)
}

func TestNewResultFor_DecodesIntoTypedShape(t *testing.T) {
	target := NewResultFor(OperationScoring)
	raw := `{"score": 87, "confidence": 92, "insights": ["strong engagement"], "recommendations": ["schedule a demo"]}`

	require.NoError(t, json.Unmarshal([]byte(raw), target))

	scoring, ok := target.(*ScoringResult)
	require.True(t, ok)
	assert.Equal(t, 87, scoring.Score)
	assert.Equal(t, 92, scoring.Confidence)
	assert.Equal(t, []string{"strong engagement"}, scoring.Insights)
}

func TestNewHistoryRecord(t *testing.T) {
	rec := NewHistoryRecord("req-123", OperationEnrichment, HistoryStatusSuccess)

	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, "req-123", rec.RequestID)
	assert.Equal(t, OperationEnrichment, rec.Operation)
	assert.Equal(t, HistoryStatusSuccess, rec.Status)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestHistoryRecord_TableName(t *testing.T) {
	assert.Equal(t, "ai_request_history", HistoryRecord{}.TableName())
}
