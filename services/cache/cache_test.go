package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridiancrm/ai-core/models"
)

func newTestCache(t *testing.T, config Config, store SnapshotStore) (*ResponseCache, *time.Time) {
	t.Helper()

	c := NewResponseCache(config, store, zap.NewNop())
	current := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }
	return c, &current
}

func sampleResponse(op models.OperationType, requestID string) *models.AIResponse {
	return &models.AIResponse{
		RequestID: requestID,
		Operation: op,
		Result:    map[string]interface{}{"score": 80},
		Metadata: models.ResponseMetadata{
			Provider:   "openai",
			Model:      "gpt-4o-mini",
			Confidence: 90,
		},
	}
}

func TestResponseCache_SetAndGet(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig(), nil)
	params := map[string]interface{}{"name": "Ada"}

	c.Set(models.OperationScoring, params, sampleResponse(models.OperationScoring, "req-1"))

	got, ok := c.Get(models.OperationScoring, params)
	require.True(t, ok)
	assert.Equal(t, "req-1", got.RequestID)
	assert.True(t, got.Metadata.Cached)
}

func TestResponseCache_GetDoesNotMutateStoredEntry(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig(), nil)
	params := map[string]interface{}{"name": "Ada"}
	stored := sampleResponse(models.OperationScoring, "req-1")

	c.Set(models.OperationScoring, params, stored)
	_, ok := c.Get(models.OperationScoring, params)
	require.True(t, ok)

	assert.False(t, stored.Metadata.Cached)
}

func TestResponseCache_GetReturnsIsolatedResult(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig(), nil)
	params := map[string]interface{}{"name": "Ada"}
	stored := &models.AIResponse{
		RequestID: "req-1",
		Operation: models.OperationScoring,
		Result:    &models.ScoringResult{Score: 82, Insights: []string{"recent activity"}},
	}

	c.Set(models.OperationScoring, params, stored)

	first, ok := c.Get(models.OperationScoring, params)
	require.True(t, ok)
	result := first.Result.(*models.ScoringResult)
	result.Score = 1
	result.Insights[0] = "tampered"

	second, ok := c.Get(models.OperationScoring, params)
	require.True(t, ok)
	fresh := second.Result.(*models.ScoringResult)
	assert.Equal(t, 82, fresh.Score)
	assert.Equal(t, []string{"recent activity"}, fresh.Insights)
}

func TestResponseCache_Miss(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig(), nil)

	_, ok := c.Get(models.OperationScoring, map[string]interface{}{"name": "nobody"})

	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Misses)
}

func TestResponseCache_ExpiresAfterTTL(t *testing.T) {
	c, current := newTestCache(t, DefaultConfig(), nil)
	params := map[string]interface{}{"name": "Ada"}

	c.Set(models.OperationScoring, params, sampleResponse(models.OperationScoring, "req-1"))

	// Scoring entries keep for an hour.
	*current = current.Add(59 * time.Minute)
	_, ok := c.Get(models.OperationScoring, params)
	assert.True(t, ok)

	*current = current.Add(2 * time.Minute)
	_, ok = c.Get(models.OperationScoring, params)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Expirations)
}

func TestResponseCache_ExpiresExactlyAtTTLBoundary(t *testing.T) {
	c, current := newTestCache(t, DefaultConfig(), nil)
	params := map[string]interface{}{"name": "Ada"}

	c.Set(models.OperationScoring, params, sampleResponse(models.OperationScoring, "req-1"))

	// An entry with a one-hour TTL is gone at exactly the one-hour mark.
	*current = current.Add(time.Hour)
	_, ok := c.Get(models.OperationScoring, params)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Expirations)
}

func TestResponseCache_PerOperationTTLs(t *testing.T) {
	c, current := newTestCache(t, DefaultConfig(), nil)
	scoringParams := map[string]interface{}{"name": "Ada"}
	enrichParams := map[string]interface{}{"name": "Ada"}
	emailParams := map[string]interface{}{"name": "Ada"}

	c.Set(models.OperationScoring, scoringParams, sampleResponse(models.OperationScoring, "s"))
	c.Set(models.OperationEnrichment, enrichParams, sampleResponse(models.OperationEnrichment, "e"))
	c.Set(models.OperationEmailGeneration, emailParams, sampleResponse(models.OperationEmailGeneration, "m"))

	*current = current.Add(45 * time.Minute)
	_, ok := c.Get(models.OperationEmailGeneration, emailParams)
	assert.False(t, ok, "email drafts expire after 30 minutes")

	*current = current.Add(2 * time.Hour)
	_, ok = c.Get(models.OperationScoring, scoringParams)
	assert.False(t, ok, "scores expire after an hour")

	_, ok = c.Get(models.OperationEnrichment, enrichParams)
	assert.True(t, ok, "enrichment keeps for a day")
}

func TestResponseCache_EvictsExactlyTheOldestEntry(t *testing.T) {
	config := DefaultConfig()
	config.Capacity = 2
	c, current := newTestCache(t, config, nil)

	paramsA := map[string]interface{}{"name": "A"}
	paramsB := map[string]interface{}{"name": "B"}
	paramsC := map[string]interface{}{"name": "C"}

	c.Set(models.OperationScoring, paramsA, sampleResponse(models.OperationScoring, "a"))
	*current = current.Add(time.Minute)
	c.Set(models.OperationScoring, paramsB, sampleResponse(models.OperationScoring, "b"))
	*current = current.Add(time.Minute)

	// Reading A does not protect it: eviction follows creation age,
	// not recency of use.
	_, ok := c.Get(models.OperationScoring, paramsA)
	require.True(t, ok)

	c.Set(models.OperationScoring, paramsC, sampleResponse(models.OperationScoring, "c"))

	_, ok = c.Get(models.OperationScoring, paramsA)
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get(models.OperationScoring, paramsB)
	assert.True(t, ok)
	_, ok = c.Get(models.OperationScoring, paramsC)
	assert.True(t, ok)

	stats := c.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, uint64(1), stats.Evictions)
}

func TestResponseCache_OverwriteRefreshesCreationAge(t *testing.T) {
	config := DefaultConfig()
	config.Capacity = 2
	c, current := newTestCache(t, config, nil)

	paramsA := map[string]interface{}{"name": "A"}
	paramsB := map[string]interface{}{"name": "B"}
	paramsC := map[string]interface{}{"name": "C"}

	c.Set(models.OperationScoring, paramsA, sampleResponse(models.OperationScoring, "a1"))
	*current = current.Add(time.Minute)
	c.Set(models.OperationScoring, paramsB, sampleResponse(models.OperationScoring, "b"))
	*current = current.Add(time.Minute)
	c.Set(models.OperationScoring, paramsA, sampleResponse(models.OperationScoring, "a2"))
	*current = current.Add(time.Minute)

	c.Set(models.OperationScoring, paramsC, sampleResponse(models.OperationScoring, "c"))

	_, ok := c.Get(models.OperationScoring, paramsB)
	assert.False(t, ok, "B became the oldest once A was rewritten")

	got, ok := c.Get(models.OperationScoring, paramsA)
	require.True(t, ok)
	assert.Equal(t, "a2", got.RequestID)
}

func TestResponseCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig(), nil)
	params := map[string]interface{}{"id": "1"}

	c.Set(models.OperationScoring, params, sampleResponse(models.OperationScoring, "r1"))
	c.Set(models.OperationEnrichment, params, sampleResponse(models.OperationEnrichment, "r2"))

	assert.True(t, c.Invalidate(models.OperationScoring, params))
	assert.False(t, c.Invalidate(models.OperationScoring, params), "already removed")

	_, ok := c.Get(models.OperationScoring, params)
	assert.False(t, ok)
	_, ok = c.Get(models.OperationEnrichment, params)
	assert.True(t, ok, "same params under another operation stay cached")
}

func TestResponseCache_InvalidateByTag(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig(), nil)

	c.Set(models.OperationScoring, map[string]interface{}{"id": "1"},
		sampleResponse(models.OperationScoring, "r1"), "contact:1")
	c.Set(models.OperationEnrichment, map[string]interface{}{"id": "1"},
		sampleResponse(models.OperationEnrichment, "r2"), "contact:1")
	c.Set(models.OperationScoring, map[string]interface{}{"id": "2"},
		sampleResponse(models.OperationScoring, "r3"), "contact:2")

	removed := c.InvalidateByTag("contact:1")

	assert.Equal(t, 2, removed)
	_, ok := c.Get(models.OperationScoring, map[string]interface{}{"id": "1"})
	assert.False(t, ok)
	_, ok = c.Get(models.OperationScoring, map[string]interface{}{"id": "2"})
	assert.True(t, ok)
}

func TestResponseCache_Clear(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig(), nil)

	c.Set(models.OperationScoring, map[string]interface{}{"id": "1"}, sampleResponse(models.OperationScoring, "r1"))
	c.Set(models.OperationScoring, map[string]interface{}{"id": "2"}, sampleResponse(models.OperationScoring, "r2"))

	removed := c.Clear()

	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestResponseCache_CleanupExpired(t *testing.T) {
	c, current := newTestCache(t, DefaultConfig(), nil)

	c.Set(models.OperationEmailGeneration, map[string]interface{}{"id": "1"}, sampleResponse(models.OperationEmailGeneration, "r1"))
	c.Set(models.OperationEnrichment, map[string]interface{}{"id": "2"}, sampleResponse(models.OperationEnrichment, "r2"))

	*current = current.Add(time.Hour)
	removed := c.CleanupExpired()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Stats().Size)
}

func TestResponseCache_HitRate(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig(), nil)
	params := map[string]interface{}{"id": "1"}

	c.Set(models.OperationScoring, params, sampleResponse(models.OperationScoring, "r1"))
	c.Get(models.OperationScoring, params)
	c.Get(models.OperationScoring, params)
	c.Get(models.OperationScoring, map[string]interface{}{"id": "missing"})

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 0.666, stats.HitRate, 0.01)
}

func TestConfig_TTLFor(t *testing.T) {
	config := DefaultConfig()

	tests := []struct {
		operation models.OperationType
		want      time.Duration
	}{
		{models.OperationEnrichment, 24 * time.Hour},
		{models.OperationScoring, time.Hour},
		{models.OperationEmailGeneration, 30 * time.Minute},
		{models.OperationInsights, time.Hour},
		{models.OperationPredictiveAnalytics, time.Hour},
	}

	for _, tt := range tests {
		t.Run(string(tt.operation), func(t *testing.T) {
			assert.Equal(t, tt.want, config.TTLFor(tt.operation))
		})
	}
}
