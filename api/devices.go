package api

import (
	"errors"
	"net/http"
	"time"

	"esp32watch/models"
	"esp32watch/services"
)

type heartbeatResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type devicesResponse struct {
	Devices []models.DeviceStatus `json:"devices"`
	Online  int                   `json:"online"`
	Total   int                   `json:"total"`
}

type configureResponse struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message"`
	Config  *models.ConfigureResult `json:"config"`
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb models.Heartbeat
	if err := decodeJSON(w, r, &hb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	record, err := h.Liveness.RecordHeartbeat(r.Context(), hb)
	if errors.Is(err, services.ErrInvalidHeartbeat) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.internalError(w, r, "Failed to process heartbeat", err)
		return
	}

	writeJSON(w, http.StatusOK, heartbeatResponse{
		Success:   true,
		Message:   "Heartbeat received",
		Timestamp: record.ReceivedAt,
	})
}

func (h *Handler) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		deviceID = h.DefaultDeviceID
	}
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	status, err := h.Liveness.Status(r.Context(), deviceID)
	if err != nil {
		h.internalError(w, r, "Failed to check ESP32 status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.Liveness.AllStatuses(r.Context())
	if err != nil {
		h.internalError(w, r, "Failed to list devices", err)
		return
	}

	resp := devicesResponse{Devices: statuses, Total: len(statuses)}
	for _, s := range statuses {
		if s.Online {
			resp.Online++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var req models.DeviceConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := h.Configurator.Configure(r.Context(), req)
	switch {
	case errors.Is(err, services.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, services.ErrConfiguratorUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.internalError(w, r, "ESP32 connection timeout or configuration failed", err)
		return
	}

	writeJSON(w, http.StatusOK, configureResponse{
		Success: true,
		Message: "ESP32 configured successfully",
		Config:  result,
	})
}
