package api

import (
	"errors"
	"net/http"

	"esp32watch/models"
	"esp32watch/services"
)

type emailsSaveResponse struct {
	Success bool                       `json:"success"`
	Message string                     `json:"message"`
	Data    []models.NotificationEmail `json:"data"`
}

type testEmailRequest struct {
	TestMessage string `json:"testMessage"`
}

type testEmailResponse struct {
	Success bool                      `json:"success"`
	Message string                    `json:"message"`
	Details *services.TestEmailResult `json:"details"`
}

func (h *Handler) handleEmailsList(w http.ResponseWriter, r *http.Request) {
	emails, err := h.Emails.List(r.Context())
	if err != nil {
		h.internalError(w, r, "Failed to fetch emails", err)
		return
	}
	if emails == nil {
		emails = []models.NotificationEmail{}
	}
	writeJSON(w, http.StatusOK, emails)
}

func (h *Handler) handleEmailsSave(w http.ResponseWriter, r *http.Request) {
	var entries []models.EmailEntry
	if err := decodeJSON(w, r, &entries); err != nil || entries == nil {
		writeError(w, http.StatusBadRequest, "Request body must be an array of emails")
		return
	}

	saved, err := h.Emails.Save(r.Context(), entries)
	if errors.Is(err, services.ErrInvalidEmail) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.internalError(w, r, "Failed to update emails", err)
		return
	}
	if saved == nil {
		saved = []models.NotificationEmail{}
	}

	writeJSON(w, http.StatusOK, emailsSaveResponse{
		Success: true,
		Message: "Emails updated successfully",
		Data:    saved,
	})
}

func (h *Handler) handleTestEmail(w http.ResponseWriter, r *http.Request) {
	if h.Mailer == nil {
		writeError(w, http.StatusServiceUnavailable, "SMTP is not configured")
		return
	}

	var req testEmailRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	result, err := h.Mailer.SendTest(r.Context(), req.TestMessage)
	if errors.Is(err, services.ErrNoRecipients) {
		writeError(w, http.StatusBadRequest, "No emails configured, add a recipient first")
		return
	}
	if err != nil {
		h.internalError(w, r, "Failed to send test email", err)
		return
	}

	writeJSON(w, http.StatusOK, testEmailResponse{
		Success: true,
		Message: "Test email sent",
		Details: result,
	})
}
