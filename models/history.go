package models

import (
	"time"

	"github.com/google/uuid"
)

// HistoryStatus is the terminal outcome of one request.
type HistoryStatus string

const (
	HistoryStatusSuccess  HistoryStatus = "success"
	HistoryStatusDegraded HistoryStatus = "degraded"
	HistoryStatusFailed   HistoryStatus = "failed"
)

// HistoryRecord is one row of the request history kept for operators and
// surfaced through the history API.
type HistoryRecord struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	RequestID    string        `json:"request_id" db:"request_id"`
	Operation    OperationType `json:"operation" db:"operation"`
	Provider     string        `json:"provider" db:"provider"`
	Model        string        `json:"model" db:"model"`
	Transport    TransportType `json:"transport" db:"transport"`
	Status       HistoryStatus `json:"status" db:"status"`
	ErrorCode    string        `json:"error_code,omitempty" db:"error_code"`
	LatencyMs    int64         `json:"latency_ms" db:"latency_ms"`
	Cached       bool          `json:"cached" db:"cached"`
	Confidence   int           `json:"confidence" db:"confidence"`
	CostEstimate float64       `json:"cost_estimate" db:"cost_estimate"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the HistoryRecord model.
func (HistoryRecord) TableName() string {
	return "ai_request_history"
}

// NewHistoryRecord creates a history row for a finished request.
func NewHistoryRecord(requestID string, op OperationType, status HistoryStatus) *HistoryRecord {
	return &HistoryRecord{
		ID:        uuid.New(),
		RequestID: requestID,
		Operation: op,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}
