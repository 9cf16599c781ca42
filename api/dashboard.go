package api

import (
	"net/http"
)

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Dashboard.Stats(r.Context())
	if err != nil {
		h.internalError(w, r, "Failed to fetch dashboard stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleChartData(w http.ResponseWriter, r *http.Request) {
	data, err := h.Dashboard.ChartData(r.Context())
	if err != nil {
		h.internalError(w, r, "Failed to generate chart data", err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}
