package service

import (
	"context"
	"time"
)

// Health status constants
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusUnhealthy    = "unhealthy"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

const pingTimeout = 2 * time.Second

// HealthStatus represents the overall health status of the application
type HealthStatus struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
}

// Pinger is satisfied by *sql.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// BrokerStatus is satisfied by *queue.Connection
type BrokerStatus interface {
	IsConnected() bool
}

// HealthChecker handles health check operations
type HealthChecker struct {
	db      Pinger
	broker  BrokerStatus
	version string
}

// NewHealthService creates a new HealthChecker instance. A nil broker is reported as disconnected.
func NewHealthService(db Pinger, broker BrokerStatus, version string) *HealthChecker {
	return &HealthChecker{
		db:      db,
		broker:  broker,
		version: version,
	}
}

func (h *HealthChecker) checkDatabase(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

func (h *HealthChecker) checkQueue() string {
	if h.broker == nil || !h.broker.IsConnected() {
		return StatusDisconnected
	}
	return StatusConnected
}

// A lost database makes the service unhealthy. A lost broker only degrades it
// since webhook receipts and notifications are the only things that need it.
func (h *HealthChecker) determineOverallStatus(services map[string]string) string {
	if services["database"] == StatusDisconnected {
		return StatusUnhealthy
	}
	if services["queue"] == StatusDisconnected {
		return StatusDegraded
	}
	return StatusHealthy
}

// CheckHealth performs health checks on all dependencies and returns the overall status
func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	services := map[string]string{
		"database": h.checkDatabase(ctx),
		"queue":    h.checkQueue(),
	}

	return &HealthStatus{
		Status:    h.determineOverallStatus(services),
		Services:  services,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}
}
