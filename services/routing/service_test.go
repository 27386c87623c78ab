package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridiancrm/ai-core/models"
	"github.com/meridiancrm/ai-core/services/providers"
)

func candidate(name string, successRate, latencyMs, costPerCall float64) providers.Candidate {
	return providers.Candidate{
		State: providers.ProviderState{
			Name:         name,
			Available:    true,
			Remaining:    -1,
			SuccessRate:  successRate,
			AvgLatencyMs: latencyMs,
			CostPerCall:  costPerCall,
		},
	}
}

func newTestSelector() *Selector {
	config := DefaultSelectionConfig()
	config.Affinity = nil
	return NewSelector(config)
}

func TestSelect_EmptySlate(t *testing.T) {
	s := newTestSelector()

	_, err := s.Select(nil, models.OperationScoring, models.PriorityMedium, "")
	assert.ErrorIs(t, err, ErrNoProviderAvailable)
}

func TestSelect_HigherSuccessRateWins(t *testing.T) {
	s := newTestSelector()

	candidates := []providers.Candidate{
		candidate("flaky", 0.5, 500, 0),
		candidate("steady", 1.0, 500, 0),
	}

	chosen, err := s.Select(candidates, models.OperationScoring, models.PriorityMedium, "")
	require.NoError(t, err)
	assert.Equal(t, "steady", chosen.State.Name)
}

func TestSelect_TieKeepsRegistrationOrder(t *testing.T) {
	s := newTestSelector()

	candidates := []providers.Candidate{
		candidate("first", 0.9, 300, 0.001),
		candidate("second", 0.9, 300, 0.001),
		candidate("third", 0.9, 300, 0.001),
	}

	for i := 0; i < 5; i++ {
		chosen, err := s.Select(candidates, models.OperationInsights, models.PriorityHigh, "")
		require.NoError(t, err)
		assert.Equal(t, "first", chosen.State.Name, "selection must be deterministic")
	}
}

func TestSelect_UrgentBoostsLatency(t *testing.T) {
	s := newTestSelector()

	candidates := []providers.Candidate{
		candidate("reliable", 1.0, 600, 0),
		candidate("fast", 0.7, 50, 0),
	}

	chosen, err := s.Select(candidates, models.OperationScoring, models.PriorityMedium, "")
	require.NoError(t, err)
	assert.Equal(t, "reliable", chosen.State.Name, "medium priority favors the success rate")

	chosen, err = s.Select(candidates, models.OperationScoring, models.PriorityUrgent, "")
	require.NoError(t, err)
	assert.Equal(t, "fast", chosen.State.Name, "urgent priority favors low latency")
}

func TestSelect_LowPriorityConsidersCost(t *testing.T) {
	s := newTestSelector()

	candidates := []providers.Candidate{
		candidate("expensive", 0.9, 300, 0.01),
		candidate("cheap", 0.9, 300, 0),
	}

	chosen, err := s.Select(candidates, models.OperationScoring, models.PriorityMedium, "")
	require.NoError(t, err)
	assert.Equal(t, "expensive", chosen.State.Name, "cost is ignored outside low priority, tie keeps order")

	chosen, err = s.Select(candidates, models.OperationScoring, models.PriorityLow, "")
	require.NoError(t, err)
	assert.Equal(t, "cheap", chosen.State.Name, "low priority routes to the cheaper provider")
}

func TestSelect_AffinityBonus(t *testing.T) {
	config := DefaultSelectionConfig()
	config.Affinity = map[models.OperationType]map[string]float64{
		models.OperationEnrichment: {"gemini": 10},
	}
	s := NewSelector(config)

	candidates := []providers.Candidate{
		candidate("openai", 0.9, 300, 0),
		candidate("gemini", 0.9, 300, 0),
	}

	chosen, err := s.Select(candidates, models.OperationEnrichment, models.PriorityMedium, "")
	require.NoError(t, err)
	assert.Equal(t, "gemini", chosen.State.Name)

	chosen, err = s.Select(candidates, models.OperationScoring, models.PriorityMedium, "")
	require.NoError(t, err)
	assert.Equal(t, "openai", chosen.State.Name, "no affinity for scoring, tie keeps order")
}

func TestSelect_PreferredProviderBypass(t *testing.T) {
	s := newTestSelector()

	candidates := []providers.Candidate{
		candidate("best", 1.0, 100, 0),
		candidate("worst", 0.5, 900, 0),
	}

	chosen, err := s.Select(candidates, models.OperationScoring, models.PriorityMedium, "worst")
	require.NoError(t, err)
	assert.Equal(t, "worst", chosen.State.Name, "an available preferred provider wins outright")

	chosen, err = s.Select(candidates, models.OperationScoring, models.PriorityMedium, "missing")
	require.NoError(t, err)
	assert.Equal(t, "best", chosen.State.Name, "an absent preferred provider falls back to scoring")
}

func TestRank_OrdersAllCandidates(t *testing.T) {
	s := newTestSelector()

	candidates := []providers.Candidate{
		candidate("slow", 0.9, 2000, 0),
		candidate("quick", 0.9, 100, 0),
		candidate("middling", 0.9, 700, 0),
	}

	ranked := s.Rank(candidates, models.OperationScoring, models.PriorityMedium, "")
	require.Len(t, ranked, 3)
	assert.Equal(t, "quick", ranked[0].State.Name)
	assert.Equal(t, "middling", ranked[1].State.Name)
	assert.Equal(t, "slow", ranked[2].State.Name)

	assert.Equal(t, "slow", candidates[0].State.Name, "input slate must not be reordered")
}

func TestRank_PreferredMovesToFrontKeepingRest(t *testing.T) {
	s := newTestSelector()

	candidates := []providers.Candidate{
		candidate("a", 1.0, 100, 0),
		candidate("b", 0.9, 200, 0),
		candidate("c", 0.8, 300, 0),
	}

	ranked := s.Rank(candidates, models.OperationScoring, models.PriorityMedium, "c")
	require.Len(t, ranked, 3)
	assert.Equal(t, "c", ranked[0].State.Name)
	assert.Equal(t, "a", ranked[1].State.Name)
	assert.Equal(t, "b", ranked[2].State.Name)
}
