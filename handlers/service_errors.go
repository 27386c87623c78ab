package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/meridiancrm/ai-core/services"
	"github.com/meridiancrm/ai-core/utils"
)

// HandleServiceError maps domain errors to HTTP responses. Handlers stay
// thin: services return typed errors and this is the single place that
// turns them into status codes.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)

	switch {
	case services.IsNotFoundError(err):
		if err := utils.WriteNotFound(w, err.Error()); err != nil {
			logger.Error("failed to write not found response", zap.Error(err))
		}

	case services.IsValidationError(err):
		if err := utils.WriteBadRequest(w, err.Error(), details); err != nil {
			logger.Error("failed to write bad request response", zap.Error(err))
		}

	case services.IsUnauthorizedError(err):
		if err := utils.WriteUnauthorized(w, err.Error()); err != nil {
			logger.Error("failed to write unauthorized response", zap.Error(err))
		}

	case services.IsForbiddenError(err):
		if err := utils.WriteForbidden(w, err.Error()); err != nil {
			logger.Error("failed to write forbidden response", zap.Error(err))
		}

	case services.IsRateLimitedError(err):
		// Details carry reset_at so clients know when to retry
		if err := utils.WriteTooManyRequests(w, err.Error(), details); err != nil {
			logger.Error("failed to write rate limit response", zap.Error(err))
		}

	case services.IsProviderError(err), services.IsParseDegradedError(err):
		// The request was fine; the upstream provider failed
		if err := utils.WriteBadGateway(w, err.Error(), details); err != nil {
			logger.Error("failed to write bad gateway response", zap.Error(err))
		}

	case services.IsNoProviderError(err):
		if err := utils.WriteServiceUnavailable(w, err.Error(), details); err != nil {
			logger.Error("failed to write service unavailable response", zap.Error(err))
		}

	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		if err := utils.WriteInternalServerError(w, "An internal error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		if err := utils.WriteInternalServerError(w, "An unexpected error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
	}

	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		logger.Debug("handled service error",
			zap.String("type", string(domainErr.Type)),
			zap.String("message", domainErr.Message),
			zap.Any("details", domainErr.Details))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	// Generic validation error
	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
