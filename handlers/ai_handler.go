package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/meridiancrm/ai-core/middleware"
	"github.com/meridiancrm/ai-core/models"
	"github.com/meridiancrm/ai-core/services/orchestrator"
	"github.com/meridiancrm/ai-core/utils"
)

// defaultHistoryLimit is used when the history endpoint is called without a
// limit parameter.
const defaultHistoryLimit = 50

// AnalyzeRequest is the request body for both immediate and queued analysis.
type AnalyzeRequest struct {
	Operation string                 `json:"operation" validate:"required"`
	Priority  string                 `json:"priority,omitempty" validate:"omitempty,oneof=low medium high urgent"`
	Payload   map[string]interface{} `json:"payload" validate:"required"`
	Context   *models.RequestContext `json:"context,omitempty"`
	Options   models.RequestOptions  `json:"options"`
}

// BulkAnalyzeRequest is the request body for bulk contact analysis.
type BulkAnalyzeRequest struct {
	Subjects []models.BulkSubject  `json:"subjects" validate:"required,min=1,dive"`
	Options  models.RequestOptions `json:"options"`
}

// SubmitResponse acknowledges a queued request.
type SubmitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// AIService is the slice of the orchestration layer the HTTP handlers
// depend on.
type AIService interface {
	// ExecuteImmediate runs one request synchronously through the pipeline.
	ExecuteImmediate(ctx context.Context, req *models.AIRequest) (*models.AIResponse, error)
	// Submit enqueues a request and returns its ID for later polling.
	Submit(req *models.AIRequest) (string, error)
	// GetRequest reports the current state of a submitted request.
	GetRequest(requestID string) (*orchestrator.RequestState, error)
	// AnalyzeBulk scores a set of subjects in bounded batches.
	AnalyzeBulk(ctx context.Context, subjects []models.BulkSubject, opts models.RequestOptions) (*models.BulkSummary, error)
	// ProviderStatus reports registry and rate limiter state per provider.
	ProviderStatus() []orchestrator.ProviderStatus
	// RequestHistory returns the most recent finished requests.
	RequestHistory(limit int) []*models.HistoryRecord
	// ClearCache removes cached responses by tag; an empty tag clears all.
	ClearCache(tag string) int
}

// AIHandler handles AI orchestration HTTP requests
type AIHandler struct {
	service AIService
	logger  *zap.Logger
}

// NewAIHandler creates a new AIHandler
func NewAIHandler(service AIService, logger *zap.Logger) *AIHandler {
	return &AIHandler{
		service: service,
		logger:  logger,
	}
}

// HandleAnalyze handles POST /api/v1/ai/analyze
func (h *AIHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	body, ok := h.decodeAnalyzeRequest(w, r, requestID)
	if !ok {
		return
	}

	req := buildAIRequest(body)

	h.logger.Debug("processing immediate analysis",
		zap.String("request_id", requestID),
		zap.String("operation", body.Operation))

	resp, err := h.service.ExecuteImmediate(ctx, req)
	if err != nil {
		h.logger.Warn("immediate analysis failed",
			zap.String("request_id", requestID),
			zap.String("operation", body.Operation),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("immediate analysis completed",
		zap.String("request_id", requestID),
		zap.String("operation", string(resp.Operation)),
		zap.String("provider", resp.Metadata.Provider),
		zap.Bool("cached", resp.Metadata.Cached),
		zap.Int64("processing_time_ms", resp.Metadata.ProcessingTimeMs))

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// HandleSubmit handles POST /api/v1/ai/requests
func (h *AIHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	body, ok := h.decodeAnalyzeRequest(w, r, requestID)
	if !ok {
		return
	}

	req := buildAIRequest(body)

	id, err := h.service.Submit(req)
	if err != nil {
		h.logger.Warn("request submission failed",
			zap.String("request_id", requestID),
			zap.String("operation", body.Operation),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("request queued",
		zap.String("request_id", requestID),
		zap.String("queued_request_id", id),
		zap.String("operation", body.Operation),
		zap.String("priority", string(req.Priority)))

	if err := utils.WriteAccepted(w, SubmitResponse{
		RequestID: id,
		Status:    string(orchestrator.StatusQueued),
	}); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// HandleGetRequest handles GET /api/v1/ai/requests/{id}
func (h *AIHandler) HandleGetRequest(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	id := chi.URLParam(r, "id")
	if err := utils.ValidateUUID(id); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request ID format", nil)
		return
	}

	state, err := h.service.GetRequest(id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, state); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// HandleBulkAnalyze handles POST /api/v1/ai/bulk
func (h *AIHandler) HandleBulkAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var body BulkAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&body); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	h.logger.Debug("processing bulk analysis",
		zap.String("request_id", requestID),
		zap.Int("subjects", len(body.Subjects)))

	summary, err := h.service.AnalyzeBulk(ctx, body.Subjects, body.Options)
	if err != nil {
		h.logger.Warn("bulk analysis failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("bulk analysis completed",
		zap.String("request_id", requestID),
		zap.Int("total", summary.Total),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
		zap.Int64("processing_time_ms", summary.ProcessingTimeMs))

	if err := utils.WriteOK(w, summary); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// HandleProviders handles GET /api/v1/ai/providers
func (h *AIHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	statuses := h.service.ProviderStatus()

	if err := utils.WriteOK(w, map[string]interface{}{
		"providers": statuses,
		"count":     len(statuses),
	}); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// HandleHistory handles GET /api/v1/ai/history
func (h *AIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			_ = utils.WriteBadRequest(w, "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}

	records := h.service.RequestHistory(limit)

	if err := utils.WriteOK(w, map[string]interface{}{
		"history": records,
		"count":   len(records),
	}); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// HandleClearCache handles DELETE /api/v1/ai/cache
func (h *AIHandler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	tag := r.URL.Query().Get("tag")
	removed := h.service.ClearCache(tag)

	h.logger.Info("cache cleared",
		zap.String("request_id", requestID),
		zap.String("tag", tag),
		zap.Int("removed", removed))

	if err := utils.WriteOK(w, map[string]interface{}{
		"removed": removed,
	}); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// decodeAnalyzeRequest parses and validates the shared analyze/submit body.
func (h *AIHandler) decodeAnalyzeRequest(w http.ResponseWriter, r *http.Request, requestID string) (*AnalyzeRequest, bool) {
	var body AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return nil, false
	}

	if err := utils.ValidateStruct(&body); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return nil, false
	}

	return &body, true
}

// buildAIRequest maps the HTTP body onto the service-level request. Operation
// and priority semantics are validated by the service, not here.
func buildAIRequest(body *AnalyzeRequest) *models.AIRequest {
	return &models.AIRequest{
		Operation: models.OperationType(body.Operation),
		Priority:  models.Priority(body.Priority),
		Payload:   body.Payload,
		Context:   body.Context,
		Options:   body.Options,
	}
}
