package services

import (
	"context"
	"fmt"
	"time"

	"esp32watch/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier forwards detection alerts to an internal HTTP endpoint
type WebhookNotifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// WebhookPayload is the JSON body posted for every alert
type WebhookPayload struct {
	AlertType string                 `json:"alert_type"`
	Severity  string                 `json:"severity"`
	Alert     *models.DetectionAlert `json:"alert"`
}

func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "ESP32Watch/1.0")

	return &WebhookNotifier{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, alert *models.DetectionAlert) error {
	if len(alert.Events) == 0 {
		return nil
	}

	payload := WebhookPayload{
		AlertType: "human_detection",
		Severity:  severity(alert),
		Alert:     alert,
	}

	resp, err := w.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}

	if resp.IsError() {
		w.logger.Error("Alert webhook returned error",
			zap.String("url", w.url),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("status", resp.Status()))
		return fmt.Errorf("alert webhook error: %s", resp.Status())
	}

	w.logger.Info("Alert webhook sent",
		zap.Int("event_count", len(alert.Events)),
		zap.String("severity", payload.Severity),
		zap.Int("status_code", resp.StatusCode()))
	return nil
}

// severity grades the alert by its strongest confidence
func severity(alert *models.DetectionAlert) string {
	c := alert.MaxConfidence()
	switch {
	case c == nil:
		return "medium"
	case *c >= 0.9:
		return "critical"
	case *c >= 0.7:
		return "high"
	default:
		return "medium"
	}
}
