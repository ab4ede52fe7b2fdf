package handler

import (
	"context"
	"net/http"

	"campaignengine/internal/service"
)

// HealthChecker reports dependency health
type HealthChecker interface {
	CheckHealth(ctx context.Context) *service.HealthStatus
}

// HealthHandler handles health check requests
type HealthHandler struct {
	healthService HealthChecker
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(healthService HealthChecker) *HealthHandler {
	return &HealthHandler{
		healthService: healthService,
	}
}

// HandleHealth handles GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	healthStatus := h.healthService.CheckHealth(r.Context())

	status := http.StatusOK
	switch healthStatus.Status {
	case service.StatusHealthy:
	case service.StatusDegraded, service.StatusUnhealthy:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}

	_ = WriteJSON(w, status, healthStatus)
}
