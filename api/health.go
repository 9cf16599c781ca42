package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type healthResponse struct {
	Status      string      `json:"status"`
	Database    string      `json:"database"`
	EmailCount  int64       `json:"emailCount"`
	Environment Environment `json:"environment"`
	Error       string      `json:"error,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:      "healthy",
		Database:    "connected",
		Environment: h.Env,
		Timestamp:   h.now().UTC(),
	}

	err := h.DB.Ping(ctx)
	if err == nil {
		resp.EmailCount, err = h.Emails.Count(ctx)
	}
	if err != nil {
		h.Logger.Error("Health check failed", zap.Error(err))
		resp.Status = "unhealthy"
		resp.Database = "disconnected"
		resp.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
