package models

import (
	"fmt"

	"github.com/google/uuid"
)

// OperationType identifies the category of AI work being requested.
// Each operation has its own prompt template, cache TTL, and result shape.
type OperationType string

const (
	OperationScoring               OperationType = "scoring"
	OperationEnrichment            OperationType = "enrichment"
	OperationEmailGeneration       OperationType = "email_generation"
	OperationEmailAnalysis         OperationType = "email_analysis"
	OperationInsights              OperationType = "insights"
	OperationCommunicationAnalysis OperationType = "communication_analysis"
	OperationAutomationSuggestions OperationType = "automation_suggestions"
	OperationPredictiveAnalytics   OperationType = "predictive_analytics"
	OperationRelationshipMapping   OperationType = "relationship_mapping"
)

// AllOperations lists every supported operation type in declaration order.
var AllOperations = []OperationType{
	OperationScoring,
	OperationEnrichment,
	OperationEmailGeneration,
	OperationEmailAnalysis,
	OperationInsights,
	OperationCommunicationAnalysis,
	OperationAutomationSuggestions,
	OperationPredictiveAnalytics,
	OperationRelationshipMapping,
}

// Valid reports whether the operation type is one of the supported values.
func (o OperationType) Valid() bool {
	for _, op := range AllOperations {
		if o == op {
			return true
		}
	}
	return false
}

// Priority controls queue ordering and influences provider selection.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns the numeric ordering of the priority; higher runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	default:
		return -1
	}
}

// Valid reports whether the priority is one of the supported values.
func (p Priority) Valid() bool {
	return p.Rank() >= 0
}

// RequestContext carries optional business context alongside a request.
type RequestContext struct {
	SubjectID string `json:"subject_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Business  string `json:"business,omitempty"`
}

// RequestOptions tunes how a single request is executed.
type RequestOptions struct {
	// UseCache defaults to true when nil.
	UseCache          *bool  `json:"use_cache,omitempty"`
	PreferredProvider string `json:"preferred_provider,omitempty"`
	PreferredModel    string `json:"preferred_model,omitempty"`
	TimeoutMs         int    `json:"timeout_ms,omitempty"`
}

// CacheEnabled reports whether cache lookups are allowed for this request.
func (o RequestOptions) CacheEnabled() bool {
	return o.UseCache == nil || *o.UseCache
}

// AIRequest is one unit of AI work. It is immutable once submitted.
type AIRequest struct {
	ID        string          `json:"id"`
	Operation OperationType   `json:"operation"`
	Priority  Priority        `json:"priority"`
	Payload   map[string]any  `json:"payload"`
	Context   *RequestContext `json:"context,omitempty"`
	Options   RequestOptions  `json:"options"`
}

// NewAIRequest creates a request with a fresh ID and medium priority.
func NewAIRequest(op OperationType, payload map[string]any) *AIRequest {
	return &AIRequest{
		ID:        uuid.New().String(),
		Operation: op,
		Priority:  PriorityMedium,
		Payload:   payload,
	}
}

// EnsureDefaults assigns an ID and priority when the caller left them empty.
func (r *AIRequest) EnsureDefaults() {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
}

// Validate checks the request fields before any I/O is attempted.
func (r *AIRequest) Validate() error {
	if !r.Operation.Valid() {
		return fmt.Errorf("unknown operation type %q", r.Operation)
	}
	if !r.Priority.Valid() {
		return fmt.Errorf("unknown priority %q", r.Priority)
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if r.Options.TimeoutMs < 0 {
		return fmt.Errorf("timeout_ms must not be negative")
	}
	return nil
}
