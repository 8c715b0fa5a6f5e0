package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dicee-dev/dicee-server/internal/v1/bus"
	"github.com/dicee-dev/dicee-server/internal/v1/logging"
	"go.uber.org/zap"
)

// DirectoryChecker checks the room directory's backing storage, a
// dependency distinct from the bus's pub/sub Redis connection: a room can
// still run entirely in-process with the directory store down, but lobby
// room-listing and cross-process reconnection both need it.
type DirectoryChecker interface {
	Check(ctx context.Context) string
}

// storePinger is the subset of *storage.Store this package needs, scoped
// locally to avoid importing storage into health (which would otherwise be
// the only consumer outside storage's own package and tests).
type storePinger interface {
	Ping(ctx context.Context) error
}

// DefaultDirectoryChecker is the production DirectoryChecker, backed by the
// room directory's storage.Store.
type DefaultDirectoryChecker struct {
	Store storePinger
}

func (c *DefaultDirectoryChecker) Check(ctx context.Context) string {
	if c.Store == nil {
		return "healthy"
	}
	if err := c.Store.Ping(ctx); err != nil {
		logging.Error(ctx, "directory storage health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

// Handler manages health check endpoints
type Handler struct {
	redisService     *bus.Service
	directoryEnabled bool
	directoryChecker DirectoryChecker
}

// NewHandler creates a new health check handler. directoryChecker may be nil
// to disable the directory-storage readiness check (e.g. single-instance
// dev mode with no Redis-backed directory).
func NewHandler(redisService *bus.Service, directoryChecker DirectoryChecker) *Handler {
	return &Handler{
		redisService:     redisService,
		directoryEnabled: directoryChecker != nil,
		directoryChecker: directoryChecker,
	}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// Returns 200 only if all critical dependencies are healthy
// Returns 503 if any dependency is unhealthy
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	// Check Redis connectivity (pub/sub bus)
	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	// Check room directory storage connectivity (if enabled)
	if h.directoryEnabled {
		dirStatus := h.directoryChecker.Check(ctx)
		checks["directory"] = dirStatus
		if dirStatus != "healthy" {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

// checkRedis verifies Redis connectivity using PING command
func (h *Handler) checkRedis(ctx context.Context) string {
	// If Redis is not enabled (single-instance mode), consider it healthy
	if h.redisService == nil {
		return "healthy"
	}

	// Try to ping Redis
	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}

// HealthCheckResponse is a generic health check response for backward compatibility
type HealthCheckResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for better formatting
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(&r),
	})
}
