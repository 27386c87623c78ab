package models

// Typed result shapes, one per operation. Field names match the JSON schema
// the prompt templates ask providers to produce.
//
// Each shape has a Default constructor used when a provider reply could not
// be parsed as structured data. Defaults are deterministic neutral values,
// never fabricated lookalike numbers; callers can always tell them apart
// from genuine model output via ResponseMetadata.Degraded.

// ScoringResult grades a contact or deal from 0 to 100.
type ScoringResult struct {
	Score           int      `json:"score"`
	Confidence      int      `json:"confidence"`
	Insights        []string `json:"insights"`
	Recommendations []string `json:"recommendations"`
}

func DefaultScoringResult() *ScoringResult {
	return &ScoringResult{
		Score:           50,
		Confidence:      0,
		Insights:        []string{"Automated scoring was unavailable for this contact."},
		Recommendations: []string{"Re-run the analysis once AI providers recover."},
	}
}

// EnrichmentResult fills in missing contact fields. The degraded default is
// intentionally empty: invented contact data is worse than none.
type EnrichmentResult struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Company     string `json:"company"`
	Position    string `json:"position"`
	Industry    string `json:"industry"`
	Location    string `json:"location"`
	LinkedinURL string `json:"linkedin_url"`
	Website     string `json:"website"`
	Phone       string `json:"phone"`
	Notes       string `json:"notes"`
	Confidence  int    `json:"confidence"`
}

func DefaultEnrichmentResult() *EnrichmentResult {
	return &EnrichmentResult{
		Notes:      "Enrichment was unavailable; no fields were changed.",
		Confidence: 0,
	}
}

// EmailDraft is a generated outbound email.
type EmailDraft struct {
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Tone       string `json:"tone"`
	Confidence int    `json:"confidence"`
}

func DefaultEmailDraft() *EmailDraft {
	return &EmailDraft{
		Subject:    "Following up",
		Body:       "Hi,\n\nI wanted to follow up on our recent conversation. Let me know a good time to connect.\n\nBest regards",
		Tone:       "neutral",
		Confidence: 0,
	}
}

// EmailAnalysis classifies an inbound email.
type EmailAnalysis struct {
	Sentiment         string   `json:"sentiment"`
	Intent            string   `json:"intent"`
	Urgency           string   `json:"urgency"`
	KeyPoints         []string `json:"key_points"`
	SuggestedResponse string   `json:"suggested_response"`
	Confidence        int      `json:"confidence"`
}

func DefaultEmailAnalysis() *EmailAnalysis {
	return &EmailAnalysis{
		Sentiment:  "neutral",
		Intent:     "unknown",
		Urgency:    "medium",
		KeyPoints:  []string{},
		Confidence: 0,
	}
}

// InsightsResult summarizes opportunities and risks for a contact.
type InsightsResult struct {
	Insights      []string `json:"insights"`
	Opportunities []string `json:"opportunities"`
	Risks         []string `json:"risks"`
	NextActions   []string `json:"next_actions"`
	Confidence    int      `json:"confidence"`
}

func DefaultInsightsResult() *InsightsResult {
	return &InsightsResult{
		Insights:      []string{"Insights were unavailable for this contact."},
		Opportunities: []string{},
		Risks:         []string{},
		NextActions:   []string{"Re-run the analysis once AI providers recover."},
		Confidence:    0,
	}
}

// CommunicationAnalysis profiles how a contact communicates.
type CommunicationAnalysis struct {
	PreferredChannel  string  `json:"preferred_channel"`
	Frequency         string  `json:"frequency"`
	ResponseRate      float64 `json:"response_rate"`
	BestTimeToContact string  `json:"best_time_to_contact"`
	Summary           string  `json:"summary"`
	Confidence        int     `json:"confidence"`
}

func DefaultCommunicationAnalysis() *CommunicationAnalysis {
	return &CommunicationAnalysis{
		PreferredChannel:  "email",
		Frequency:         "unknown",
		ResponseRate:      0,
		BestTimeToContact: "unknown",
		Summary:           "Communication analysis was unavailable.",
		Confidence:        0,
	}
}

// AutomationSuggestions proposes follow-up automations.
type AutomationSuggestions struct {
	Suggestions []string `json:"suggestions"`
	Confidence  int      `json:"confidence"`
}

func DefaultAutomationSuggestions() *AutomationSuggestions {
	return &AutomationSuggestions{
		Suggestions: []string{"No automation suggestions available."},
		Confidence:  0,
	}
}

// PredictiveAnalytics forecasts deal outcomes.
type PredictiveAnalytics struct {
	CloseProbability float64  `json:"close_probability"`
	PredictedValue   float64  `json:"predicted_value"`
	TimeToCloseDays  int      `json:"time_to_close_days"`
	Factors          []string `json:"factors"`
	Confidence       int      `json:"confidence"`
}

func DefaultPredictiveAnalytics() *PredictiveAnalytics {
	return &PredictiveAnalytics{
		Factors:    []string{"Forecast unavailable."},
		Confidence: 0,
	}
}

// RelationshipMap describes a contact's network position.
type RelationshipMap struct {
	Connections     []string `json:"connections"`
	InfluenceScore  int      `json:"influence_score"`
	NetworkStrength string   `json:"network_strength"`
	Confidence      int      `json:"confidence"`
}

func DefaultRelationshipMap() *RelationshipMap {
	return &RelationshipMap{
		Connections:     []string{},
		InfluenceScore:  0,
		NetworkStrength: "unknown",
		Confidence:      0,
	}
}

// DefaultResultFor returns the deterministic fallback result for an
// operation. The orchestration layer pairs it with Degraded=true metadata.
func DefaultResultFor(op OperationType) any {
	switch op {
	case OperationScoring:
		return DefaultScoringResult()
	case OperationEnrichment:
		return DefaultEnrichmentResult()
	case OperationEmailGeneration:
		return DefaultEmailDraft()
	case OperationEmailAnalysis:
		return DefaultEmailAnalysis()
	case OperationInsights:
		return DefaultInsightsResult()
	case OperationCommunicationAnalysis:
		return DefaultCommunicationAnalysis()
	case OperationAutomationSuggestions:
		return DefaultAutomationSuggestions()
	case OperationPredictiveAnalytics:
		return DefaultPredictiveAnalytics()
	case OperationRelationshipMapping:
		return DefaultRelationshipMap()
	default:
		return map[string]any{"note": "unsupported operation"}
	}
}

// NewResultFor returns an empty typed result for an operation, used as the
// unmarshal target when decoding a provider reply.
func NewResultFor(op OperationType) any {
	switch op {
	case OperationScoring:
		return &ScoringResult{}
	case OperationEnrichment:
		return &EnrichmentResult{}
	case OperationEmailGeneration:
		return &EmailDraft{}
	case OperationEmailAnalysis:
		return &EmailAnalysis{}
	case OperationInsights:
		return &InsightsResult{}
	case OperationCommunicationAnalysis:
		return &CommunicationAnalysis{}
	case OperationAutomationSuggestions:
		return &AutomationSuggestions{}
	case OperationPredictiveAnalytics:
		return &PredictiveAnalytics{}
	case OperationRelationshipMapping:
		return &RelationshipMap{}
	default:
		return &map[string]any{}
	}
}
