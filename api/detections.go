package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"esp32watch/models"
	"esp32watch/services"
)

const defaultExportWindow = 7 * 24 * time.Hour

type detectionResponse struct {
	Success            bool   `json:"success"`
	Message            string `json:"message"`
	DetectionID        *uint  `json:"detection_id,omitempty"`
	DetectionIDs       []uint `json:"detection_ids"`
	BatchID            string `json:"batch_id,omitempty"`
	Processed          int    `json:"processed"`
	Skipped            int    `json:"skipped"`
	HumanDetected      bool   `json:"human_detected"`
	HumanDetectedCount int    `json:"human_detected_count"`
}

func (h *Handler) handleDetection(w http.ResponseWriter, r *http.Request) {
	var req models.DetectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := h.Detections.Record(r.Context(), req.ToBatch())
	if errors.Is(err, services.ErrInvalidDetection) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.internalError(w, r, "Failed to process detection data", err)
		return
	}

	resp := detectionResponse{
		Success:            true,
		Message:            "Detection data received and processed",
		DetectionIDs:       result.DetectionIDs,
		BatchID:            result.BatchID,
		Processed:          result.Processed,
		Skipped:            result.Skipped,
		HumanDetected:      result.HumanDetected(),
		HumanDetectedCount: result.HumanDetectedCount,
	}
	if len(result.DetectionIDs) > 0 {
		resp.DetectionID = &result.DetectionIDs[0]
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLatestDetections(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 0)
	limit := queryInt(r, "limit", 0)

	latest, err := h.Dashboard.LatestDetections(r.Context(), page, limit)
	if err != nil {
		h.internalError(w, r, "Failed to fetch detections", err)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	to := h.now().UTC()
	from := to.Add(-defaultExportWindow)

	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' time, expected RFC3339")
			return
		}
		to = t
		if r.URL.Query().Get("from") == "" {
			from = to.Add(-defaultExportWindow)
		}
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' time, expected RFC3339")
			return
		}
		from = t
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "'from' must be before 'to'")
		return
	}

	data, _, err := h.Exporter.Export(r.Context(), from, to)
	if err != nil {
		h.internalError(w, r, "Failed to export detections", err)
		return
	}

	filename := fmt.Sprintf("detections_%s_%s.xlsx", from.UTC().Format("20060102"), to.UTC().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// queryInt reads an integer query parameter, falling back on absence or parse error
func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
