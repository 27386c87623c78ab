package routing

import (
	"errors"
	"sort"

	"github.com/meridiancrm/ai-core/models"
	"github.com/meridiancrm/ai-core/services/providers"
)

var (
	// ErrNoProviderAvailable is returned when no provider can handle the request
	ErrNoProviderAvailable = errors.New("no provider available")
)

// SelectionConfig holds the scoring weights. All terms are normalized to
// 0..1 before weighting, so the weights express relative importance
// directly.
type SelectionConfig struct {
	// SuccessWeight scales the provider's success rate
	SuccessWeight float64

	// LatencyWeight scales the inverse-latency term
	LatencyWeight float64

	// CostWeight scales the inverse-cost term. Cost only participates for
	// low priority requests; urgent work should not be routed to the
	// cheapest provider.
	CostWeight float64

	// UrgentLatencyBoost multiplies the latency weight for urgent requests
	UrgentLatencyBoost float64

	// Affinity awards a flat bonus to providers that handle an operation
	// well, keyed by operation then provider name
	Affinity map[models.OperationType]map[string]float64
}

// DefaultSelectionConfig returns the default scoring weights
func DefaultSelectionConfig() SelectionConfig {
	return SelectionConfig{
		SuccessWeight:      50,
		LatencyWeight:      30,
		CostWeight:         20,
		UrgentLatencyBoost: 2.0,
		// Defaults pair each operation with the provider whose reply
		// shape suits it best.
		Affinity: map[models.OperationType]map[string]float64{
			models.OperationScoring:             {"openai": 10},
			models.OperationPredictiveAnalytics: {"openai": 10},
			models.OperationEnrichment:          {"gemini": 10},
			models.OperationRelationshipMapping: {"gemini": 5},
			models.OperationEmailGeneration:     {"anthropic": 10},
			models.OperationEmailAnalysis:       {"anthropic": 5},
			models.OperationInsights:            {"anthropic": 5},
		},
	}
}

// Selector ranks provider candidates for a request. Scoring is pure
// arithmetic over registry state, so identical inputs always produce the
// same order; ties keep registration order.
type Selector struct {
	config SelectionConfig
}

// NewSelector creates a selector
func NewSelector(config SelectionConfig) *Selector {
	if config.SuccessWeight == 0 && config.LatencyWeight == 0 && config.CostWeight == 0 {
		config = DefaultSelectionConfig()
	}
	if config.UrgentLatencyBoost <= 0 {
		config.UrgentLatencyBoost = 1
	}
	return &Selector{config: config}
}

// Select picks the best candidate for the operation and priority.
// A preferred provider present in the slate wins outright.
func (s *Selector) Select(candidates []providers.Candidate, op models.OperationType, priority models.Priority, preferred string) (providers.Candidate, error) {
	ranked := s.Rank(candidates, op, priority, preferred)
	if len(ranked) == 0 {
		return providers.Candidate{}, ErrNoProviderAvailable
	}
	return ranked[0], nil
}

// Rank orders candidates best-first. The slate arrives in registration
// order from the registry; the stable sort keeps that order for equal
// scores. When the preferred provider is in the slate it is moved to the
// front and the rest are ranked behind it.
func (s *Selector) Rank(candidates []providers.Candidate, op models.OperationType, priority models.Priority, preferred string) []providers.Candidate {
	if len(candidates) == 0 {
		return nil
	}

	ranked := make([]providers.Candidate, len(candidates))
	copy(ranked, candidates)

	scores := make(map[string]float64, len(ranked))
	for _, c := range ranked {
		scores[c.State.Name] = s.score(c.State, op, priority)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i].State.Name] > scores[ranked[j].State.Name]
	})

	if preferred != "" {
		for i, c := range ranked {
			if c.State.Name == preferred {
				choice := ranked[i]
				copy(ranked[1:i+1], ranked[:i])
				ranked[0] = choice
				break
			}
		}
	}

	return ranked
}

// score computes the weighted score for one provider state
func (s *Selector) score(state providers.ProviderState, op models.OperationType, priority models.Priority) float64 {
	score := state.SuccessRate * s.config.SuccessWeight

	// 0ms averages (no calls yet) score 1.0, so new providers get traffic
	latencyScore := 1000 / (1000 + state.AvgLatencyMs)
	latencyWeight := s.config.LatencyWeight
	if priority == models.PriorityUrgent {
		latencyWeight *= s.config.UrgentLatencyBoost
	}
	score += latencyScore * latencyWeight

	if priority == models.PriorityLow {
		costScore := 1 / (1 + state.CostPerCall*1000)
		score += costScore * s.config.CostWeight
	}

	if byProvider, ok := s.config.Affinity[op]; ok {
		score += byProvider[state.Name]
	}

	return score
}
