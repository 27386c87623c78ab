package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/meridiancrm/ai-core/services/providers"
)

// ReadinessResponse reports whether the service can do useful work and the
// state of each dependency it checked.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthHandler handles liveness and readiness probes
type HealthHandler struct {
	db       *sql.DB
	registry *providers.Registry
	logger   *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db may be nil when request
// history persistence is disabled.
func NewHealthHandler(db *sql.DB, registry *providers.Registry, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:       db,
		registry: registry,
		logger:   logger,
	}
}

// HandleHealth handles GET /healthz
// Liveness only: returns 200 whenever the process is serving requests.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// HandleReadiness handles GET /readyz
// Ready means at least one provider is registered and the optional database
// is reachable.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := ReadinessResponse{
		Status: "ready",
		Checks: make(map[string]string),
	}

	if h.registry == nil || h.registry.Count() == 0 {
		response.Status = "not_ready"
		response.Checks["providers"] = "none_configured"
	} else {
		response.Checks["providers"] = "configured"
	}

	// The database is optional; only a configured but unreachable one blocks
	// readiness.
	if h.db == nil {
		response.Checks["database"] = "disabled"
	} else if err := h.checkDatabase(ctx); err != nil {
		h.logger.Warn("database readiness check failed", zap.Error(err))
		response.Status = "not_ready"
		response.Checks["database"] = "unhealthy"
	} else {
		response.Checks["database"] = "healthy"
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status == "ready" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase verifies the connection can serve a trivial query.
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return err
	}

	return nil
}
