package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strmly/strmly/internal/store"
)

// HealthChecker is an optional dependency probe.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	checks  map[string]HealthChecker
	timeout time.Duration
}

// NewHealthHandler creates a health handler. checks are reported by name.
func NewHealthHandler(repo store.Repository, checks map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{repo: repo, checks: checks, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// Optional dependencies degrade the status without failing the probe.
	for name, c := range h.checks {
		if err := c.Health(ctx); err != nil {
			status["status"] = "degraded"
			checks[name] = "unreachable"
			continue
		}
		checks[name] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
