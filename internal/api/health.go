package api

import (
	"net/http"
	"time"

	respond "github.com/marketmind/memoryd/internal/api/respond"
)

// HealthHandler serves liveness and readiness endpoints. Readiness is gated
// on the injected service health function so load balancers stop routing to
// an instance whose dependencies are down.
type HealthHandler struct {
	isReady func() bool
}

func NewHealthHandler(isReady func() bool) *HealthHandler {
	if isReady == nil {
		isReady = func() bool { return true }
	}
	return &HealthHandler{isReady: isReady}
}

// CheckHealth GET /api/health. Always 200; the body reports dependency
// state.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, _ *http.Request) {
	status := "unhealthy"
	if h.isReady() {
		status = "healthy"
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// CheckReady GET /api/health/ready. 503 until every dependency probe has
// passed.
func (h *HealthHandler) CheckReady(w http.ResponseWriter, _ *http.Request) {
	if !h.isReady() {
		respond.WriteError(w, http.StatusServiceUnavailable, "dependencies not ready")
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
