package providers

import (
	"errors"
	"sync"
	"time"

	"github.com/meridiancrm/ai-core/models"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderAlreadyRegistered is returned when trying to register a duplicate provider
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
)

const (
	defaultEMAFactor = 0.1

	// failureTripThreshold is how many consecutive failures bench a
	// provider until its window resets
	failureTripThreshold = 3

	defaultBenchCooldown = time.Minute
)

// RegistrationOptions configures quota and cost accounting for a provider
type RegistrationOptions struct {
	// CostPerCall is the estimated cost of one call, used for selection
	CostPerCall float64

	// CallBudget is the number of calls allowed per window; 0 means unlimited
	CallBudget int

	// BudgetWindow is the length of the quota window; defaults to one
	// minute when a budget is set
	BudgetWindow time.Duration
}

// ProviderState is a point-in-time snapshot of a provider's runtime state
type ProviderState struct {
	Name              string    `json:"name"`
	Available         bool      `json:"available"`
	Remaining         int       `json:"remaining"` // -1 means unlimited
	ResetAt           time.Time `json:"reset_at"`
	AvgLatencyMs      float64   `json:"avg_latency_ms"`
	SuccessRate       float64   `json:"success_rate"`
	DirectSuccessRate float64   `json:"direct_success_rate"`
	ProxySuccessRate  float64   `json:"proxy_success_rate"`
	CostPerCall       float64   `json:"cost_per_call"`
	TotalCalls        int64     `json:"total_calls"`
	TotalFailures     int64     `json:"total_failures"`
}

// HasCapacity reports whether the provider has quota left in its window
func (s ProviderState) HasCapacity() bool {
	return s.Remaining != 0
}

// Outcome describes one finished provider call
type Outcome struct {
	Success   bool
	Latency   time.Duration
	Transport models.TransportType
}

// Candidate pairs a provider with its state at selection time
type Candidate struct {
	Provider Provider
	State    ProviderState
}

type state struct {
	available           bool
	budget              int
	remaining           int
	window              time.Duration
	resetAt             time.Time
	benchedUntil        time.Time
	avgLatencyMs        float64
	successRate         float64
	directRate          float64
	proxyRate           float64
	costPerCall         float64
	totalCalls          int64
	totalFailures       int64
	consecutiveFailures int
}

// Registry manages provider instances and their runtime state. Iteration
// follows registration order, which is what breaks selection ties, so two
// processes configured alike select alike.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]Provider
	states    map[string]*state
	emaFactor float64

	// now is swappable in tests
	now func() time.Time
}

// NewRegistry creates a new provider registry. emaFactor weights how fast
// latency and success averages track recent calls; 0 selects the default.
func NewRegistry(emaFactor float64) *Registry {
	if emaFactor <= 0 || emaFactor >= 1 {
		emaFactor = defaultEMAFactor
	}
	return &Registry{
		providers: make(map[string]Provider),
		states:    make(map[string]*state),
		emaFactor: emaFactor,
		now:       time.Now,
	}
}

// Register adds a provider. Success averages start at 1.0: a new provider
// deserves traffic until its own calls say otherwise.
func (r *Registry) Register(provider Provider, opts RegistrationOptions) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}
	name := provider.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return ErrProviderAlreadyRegistered
	}

	window := opts.BudgetWindow
	if opts.CallBudget > 0 && window <= 0 {
		window = time.Minute
	}

	s := &state{
		available:   true,
		budget:      opts.CallBudget,
		remaining:   opts.CallBudget,
		window:      window,
		costPerCall: opts.CostPerCall,
		successRate: 1.0,
		directRate:  1.0,
		proxyRate:   1.0,
	}
	if opts.CallBudget > 0 {
		s.resetAt = r.now().Add(window)
	}

	r.providers[name] = provider
	r.states[name] = s
	r.order = append(r.order, name)
	return nil
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, ErrProviderNotFound
	}
	return provider, nil
}

// Names returns all registered provider names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Count returns the number of registered providers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Candidates returns the providers eligible for selection: available and
// with quota remaining, in registration order.
func (r *Registry) Candidates() []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]Candidate, 0, len(r.order))
	for _, name := range r.order {
		s := r.states[name]
		r.refresh(s, now)
		if !s.available {
			continue
		}
		if s.budget > 0 && s.remaining <= 0 {
			continue
		}
		out = append(out, Candidate{
			Provider: r.providers[name],
			State:    r.stateSnapshot(name, s),
		})
	}
	return out
}

// Snapshot returns the state of every provider in registration order
func (r *Registry) Snapshot() []ProviderState {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]ProviderState, 0, len(r.order))
	for _, name := range r.order {
		s := r.states[name]
		r.refresh(s, now)
		out = append(out, r.stateSnapshot(name, s))
	}
	return out
}

// StateOf returns the state of a single provider
func (r *Registry) StateOf(name string) (ProviderState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.states[name]
	if !exists {
		return ProviderState{}, ErrProviderNotFound
	}
	r.refresh(s, r.now())
	return r.stateSnapshot(name, s), nil
}

// RecordOutcome folds one finished call into the provider's averages and
// quota. Averages move by the EMA factor; the first call seeds the latency
// average directly so early selection is not skewed by a zero seed.
func (r *Registry) RecordOutcome(name string, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.states[name]
	if !exists {
		return
	}

	now := r.now()
	r.refresh(s, now)

	s.totalCalls++
	if !outcome.Success {
		s.totalFailures++
	}

	latencyMs := float64(outcome.Latency.Milliseconds())
	if s.totalCalls == 1 {
		s.avgLatencyMs = latencyMs
	} else {
		s.avgLatencyMs = s.avgLatencyMs*(1-r.emaFactor) + latencyMs*r.emaFactor
	}

	observation := 0.0
	if outcome.Success {
		observation = 1.0
	}
	s.successRate = s.successRate*(1-r.emaFactor) + observation*r.emaFactor
	switch outcome.Transport {
	case models.TransportProxy:
		s.proxyRate = s.proxyRate*(1-r.emaFactor) + observation*r.emaFactor
	default:
		s.directRate = s.directRate*(1-r.emaFactor) + observation*r.emaFactor
	}

	if s.budget > 0 && s.remaining > 0 {
		s.remaining--
	}

	if outcome.Success {
		s.consecutiveFailures = 0
		s.available = true
		s.benchedUntil = time.Time{}
	} else {
		s.consecutiveFailures++
		if s.consecutiveFailures >= failureTripThreshold {
			s.available = false
			cooldown := s.window
			if cooldown <= 0 {
				cooldown = defaultBenchCooldown
			}
			s.benchedUntil = now.Add(cooldown)
		}
	}
}

// refresh rolls the quota window forward and lifts an expired bench.
// Caller holds the lock.
func (r *Registry) refresh(s *state, now time.Time) {
	if s.budget > 0 && !now.Before(s.resetAt) {
		s.remaining = s.budget
		s.resetAt = now.Add(s.window)
	}
	if !s.available && !s.benchedUntil.IsZero() && !now.Before(s.benchedUntil) {
		s.available = true
		s.consecutiveFailures = 0
		s.benchedUntil = time.Time{}
	}
}

// stateSnapshot builds the exported view of a state. Caller holds the lock.
func (r *Registry) stateSnapshot(name string, s *state) ProviderState {
	remaining := s.remaining
	if s.budget <= 0 {
		remaining = -1
	}
	return ProviderState{
		Name:              name,
		Available:         s.available,
		Remaining:         remaining,
		ResetAt:           s.resetAt,
		AvgLatencyMs:      s.avgLatencyMs,
		SuccessRate:       s.successRate,
		DirectSuccessRate: s.directRate,
		ProxySuccessRate:  s.proxyRate,
		CostPerCall:       s.costPerCall,
		TotalCalls:        s.totalCalls,
		TotalFailures:     s.totalFailures,
	}
}
