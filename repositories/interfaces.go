package repositories

import (
	"context"
	"time"

	"github.com/meridiancrm/ai-core/models"
)

// HistoryFilter narrows history queries. Zero values mean no filter.
type HistoryFilter struct {
	Operation models.OperationType
	Provider  string
	Status    models.HistoryStatus
	Since     time.Time
}

// HistoryRepository handles request history data operations
type HistoryRepository interface {
	// Insert inserts a new history row
	Insert(ctx context.Context, record *models.HistoryRecord) error

	// GetByRequestID retrieves history rows for an external request ID
	GetByRequestID(ctx context.Context, requestID string) ([]*models.HistoryRecord, error)

	// ListRecent retrieves history rows newest first, optionally filtered
	ListRecent(ctx context.Context, filter HistoryFilter, limit, offset int) ([]*models.HistoryRecord, error)

	// GetStats retrieves aggregate metrics since a point in time
	GetStats(ctx context.Context, since time.Time) (*HistoryStats, error)

	// DeleteOlderThan removes rows older than the cutoff, returning the count
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// HistoryStats represents aggregated request history metrics
type HistoryStats struct {
	TotalRequests int     `json:"total_requests"`
	Successful    int     `json:"successful"`
	Degraded      int     `json:"degraded"`
	Failed        int     `json:"failed"`
	CacheHits     int     `json:"cache_hits"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	TotalCost     float64 `json:"total_cost"`
}
