package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"esp32watch/models"

	"go.uber.org/zap"
)

var (
	// ErrConfiguratorUnavailable is returned when no device transport is configured
	ErrConfiguratorUnavailable = errors.New("device configuration transport not configured")
	// ErrInvalidConfig covers missing or malformed configuration fields
	ErrInvalidConfig = errors.New("invalid device configuration")
)

// broadcastDevice is the topic segment used when no device is named
const broadcastDevice = "all"

// Publisher sends a payload to a device topic
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// DeviceConfigurator pushes WiFi and notification settings to devices over MQTT
type DeviceConfigurator struct {
	publisher     Publisher
	topicTemplate string
	logger        *zap.Logger
	now           func() time.Time
}

// NewDeviceConfigurator accepts a nil publisher; Configure then reports ErrConfiguratorUnavailable
func NewDeviceConfigurator(publisher Publisher, topicTemplate string, logger *zap.Logger) *DeviceConfigurator {
	return &DeviceConfigurator{
		publisher:     publisher,
		topicTemplate: topicTemplate,
		logger:        logger,
		now:           time.Now,
	}
}

func (c *DeviceConfigurator) Configure(ctx context.Context, req models.DeviceConfigRequest) (*models.ConfigureResult, error) {
	if req.SSID == "" || req.Password == "" || req.AppToken == "" {
		return nil, fmt.Errorf("%w: missing required fields: ssid, password, or appToken", ErrInvalidConfig)
	}
	if len(req.Emails) == 0 {
		return nil, fmt.Errorf("%w: at least one email is required", ErrInvalidConfig)
	}
	var invalid []string
	for _, e := range req.Emails {
		if !ValidEmail(e) {
			invalid = append(invalid, e)
		}
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: invalid email format: %s", ErrInvalidConfig, strings.Join(invalid, ", "))
	}

	if c.publisher == nil {
		return nil, ErrConfiguratorUnavailable
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = broadcastDevice
	}
	now := c.now().UTC()

	payload, err := json.Marshal(models.DeviceConfig{
		WiFi:          models.WiFiConfig{SSID: req.SSID, Password: req.Password},
		Notifications: models.NotificationConfig{Emails: req.Emails, Token: req.AppToken},
		Timestamp:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal device config: %w", err)
	}

	topic := strings.ReplaceAll(c.topicTemplate, "{device_id}", deviceID)
	if err := c.publisher.Publish(ctx, topic, payload); err != nil {
		return nil, fmt.Errorf("failed to send device config: %w", err)
	}

	c.logger.Info("Device configuration sent",
		zap.String("device_id", deviceID),
		zap.String("topic", topic),
		zap.String("ssid", req.SSID),
		zap.Int("email_count", len(req.Emails)))

	return &models.ConfigureResult{
		DeviceID:   deviceID,
		Topic:      topic,
		SSID:       req.SSID,
		EmailCount: len(req.Emails),
		Timestamp:  now,
	}, nil
}
