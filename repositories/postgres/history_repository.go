package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meridiancrm/ai-core/models"
	"github.com/meridiancrm/ai-core/repositories"
	"go.uber.org/zap"
)

// defaultListLimit applies when a caller passes a non-positive limit.
const defaultListLimit = 50

// HistoryRepository implements the repositories.HistoryRepository interface
type HistoryRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *DB, logger *zap.Logger) repositories.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new history row
func (r *HistoryRepository) Insert(ctx context.Context, record *models.HistoryRecord) error {
	query := `
		INSERT INTO ai_request_history (
			id, request_id, operation, provider, model, transport, status,
			error_code, latency_ms, cached, confidence, cost_estimate, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.RequestID,
		record.Operation,
		record.Provider,
		record.Model,
		record.Transport,
		record.Status,
		record.ErrorCode,
		record.LatencyMs,
		record.Cached,
		record.Confidence,
		record.CostEstimate,
		record.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert history record: %w", err)
	}

	r.logger.Debug("history record inserted",
		zap.String("id", record.ID.String()),
		zap.String("request_id", record.RequestID))
	return nil
}

// GetByRequestID retrieves history rows for an external request ID
func (r *HistoryRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.HistoryRecord, error) {
	query := `
		SELECT id, request_id, operation, provider, model, transport, status,
		       error_code, latency_ms, cached, confidence, cost_estimate, created_at
		FROM ai_request_history
		WHERE request_id = $1
		ORDER BY created_at DESC
	`

	return r.queryRecords(ctx, query, requestID)
}

// ListRecent retrieves history rows newest first, optionally filtered
func (r *HistoryRepository) ListRecent(ctx context.Context, filter repositories.HistoryFilter, limit, offset int) ([]*models.HistoryRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, request_id, operation, provider, model, transport, status,
		       error_code, latency_ms, cached, confidence, cost_estimate, created_at
		FROM ai_request_history
	`

	var conditions []string
	var args []interface{}

	if filter.Operation != "" {
		args = append(args, filter.Operation)
		conditions = append(conditions, fmt.Sprintf("operation = $%d", len(args)))
	}
	if filter.Provider != "" {
		args = append(args, filter.Provider)
		conditions = append(conditions, fmt.Sprintf("provider = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	if len(conditions) > 0 {
		query += "WHERE " + strings.Join(conditions, " AND ") + "\n"
	}

	args = append(args, limit, offset)
	query += fmt.Sprintf("ORDER BY created_at DESC\nLIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return r.queryRecords(ctx, query, args...)
}

// GetStats retrieves aggregate metrics since a point in time
func (r *HistoryRepository) GetStats(ctx context.Context, since time.Time) (*repositories.HistoryStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'degraded'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE cached),
			COALESCE(AVG(latency_ms), 0),
			COALESCE(SUM(cost_estimate), 0)
		FROM ai_request_history
		WHERE created_at >= $1
	`

	stats := &repositories.HistoryStats{}
	err := r.db.QueryRowContext(ctx, query, since).Scan(
		&stats.TotalRequests,
		&stats.Successful,
		&stats.Degraded,
		&stats.Failed,
		&stats.CacheHits,
		&stats.AvgLatencyMs,
		&stats.TotalCost,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get history stats: %w", err)
	}

	return stats, nil
}

// DeleteOlderThan removes rows older than the cutoff, returning the count
func (r *HistoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM ai_request_history WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete history records: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted history records: %w", err)
	}

	if deleted > 0 {
		r.logger.Info("pruned request history",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}

// queryRecords is a helper method to query multiple history rows
func (r *HistoryRepository) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*models.HistoryRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history records: %w", err)
	}
	defer rows.Close()

	var records []*models.HistoryRecord
	for rows.Next() {
		record := &models.HistoryRecord{}
		err := rows.Scan(
			&record.ID,
			&record.RequestID,
			&record.Operation,
			&record.Provider,
			&record.Model,
			&record.Transport,
			&record.Status,
			&record.ErrorCode,
			&record.LatencyMs,
			&record.Cached,
			&record.Confidence,
			&record.CostEstimate,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}

	return records, nil
}
