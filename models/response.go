package models

import "time"

// ResultEncoding records which parse path produced a normalized result.
type ResultEncoding string

const (
	EncodingFunctionCall ResultEncoding = "function_call"
	EncodingTextJSON     ResultEncoding = "text_json"
	EncodingTextPlain    ResultEncoding = "text_plain"
)

// TransportType is the path used to reach a provider.
type TransportType string

const (
	TransportDirect TransportType = "direct"
	TransportProxy  TransportType = "proxy"
)

// ResponseMetadata describes how a response was produced.
type ResponseMetadata struct {
	Provider         string         `json:"provider"`
	Model            string         `json:"model"`
	Transport        TransportType  `json:"transport"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	// Confidence is 0-100; degraded results carry a fixed lowered value.
	Confidence   int            `json:"confidence"`
	Cached       bool           `json:"cached"`
	Degraded     bool           `json:"degraded"`
	Encoding     ResultEncoding `json:"encoding"`
	Note         string         `json:"note,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	CostEstimate float64        `json:"cost_estimate,omitempty"`
}

// AIResponse is the canonical result of one AIRequest. A response always
// carries a result; failures are reported as errors, never as half-filled
// responses.
type AIResponse struct {
	RequestID string           `json:"request_id"`
	Operation OperationType    `json:"operation"`
	Result    any              `json:"result"`
	Metadata  ResponseMetadata `json:"metadata"`
}

// BulkSubject is one item of a bulk analysis call.
type BulkSubject struct {
	ID      string         `json:"id" validate:"required"`
	Payload map[string]any `json:"payload" validate:"required"`
}

// BulkItemResult is the per-subject outcome of a bulk run.
type BulkItemResult struct {
	SubjectID string      `json:"subject_id"`
	Response  *AIResponse `json:"response,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorCode string      `json:"error_code,omitempty"`
}

// BulkSummary aggregates a bulk analysis run. One subject failing does not
// abort the run; failures are reported per item.
type BulkSummary struct {
	Total            int              `json:"total"`
	Successful       int              `json:"successful"`
	Failed           int              `json:"failed"`
	Degraded         int              `json:"degraded"`
	AverageScore     float64          `json:"average_score"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	Items            []BulkItemResult `json:"items"`
}
