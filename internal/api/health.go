package api

import (
	"context"
	"net/http"
	"time"
)

// stageCount is the number of pipeline agents reported by /health.
const stageCount = 3

// Health reports service and storage health. It is unauthenticated.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, storeState := "healthy", "connected"
	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Warn("Storage health check failed", "error", err)
		status, storeState = "degraded", "disconnected"
	}

	JSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"agents":  stageCount,
		"store":   storeState,
		"service": h.service,
	})
}
