package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"esp32watch/config"
	"esp32watch/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// HeartbeatRecorder accepts device heartbeats
type HeartbeatRecorder interface {
	RecordHeartbeat(ctx context.Context, hb models.Heartbeat) (models.DeviceRecord, error)
}

// MQTTService is the device-side transport: heartbeats come in, configuration goes out
type MQTTService struct {
	client         mqtt.Client
	heartbeatTopic string
	publishTimeout time.Duration
	logger         *zap.Logger
}

func NewMQTTService(cfg *config.Config, logger *zap.Logger) (*MQTTService, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetUsername(cfg.MQTTUsername)
	opts.SetPassword(cfg.MQTTPassword)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return NewMQTTServiceWithClient(client, cfg.MQTTHeartbeatTopic, logger), nil
}

// NewMQTTServiceWithClient wraps an already connected client
func NewMQTTServiceWithClient(client mqtt.Client, heartbeatTopic string, logger *zap.Logger) *MQTTService {
	return &MQTTService{
		client:         client,
		heartbeatTopic: heartbeatTopic,
		publishTimeout: 10 * time.Second,
		logger:         logger,
	}
}

// SubscribeHeartbeats routes every heartbeat message into the recorder
func (m *MQTTService) SubscribeHeartbeats(recorder HeartbeatRecorder) error {
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		m.handleHeartbeat(recorder, msg.Topic(), msg.Payload())
	}

	token := m.client.Subscribe(m.heartbeatTopic, 1, handler)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to heartbeat topic: %w", token.Error())
	}

	m.logger.Info("Subscribed to heartbeat topic", zap.String("topic", m.heartbeatTopic))
	return nil
}

func (m *MQTTService) handleHeartbeat(recorder HeartbeatRecorder, topic string, payload []byte) {
	var hb models.Heartbeat
	if err := json.Unmarshal(payload, &hb); err != nil {
		m.logger.Warn("Invalid heartbeat payload",
			zap.String("topic", topic),
			zap.Error(err))
		return
	}
	if hb.DeviceID == "" {
		hb.DeviceID = deviceFromTopic(topic)
	}

	if _, err := recorder.RecordHeartbeat(context.Background(), hb); err != nil {
		level := m.logger.Error
		if errors.Is(err, ErrInvalidHeartbeat) {
			level = m.logger.Warn
		}
		level("Failed to record MQTT heartbeat",
			zap.String("topic", topic),
			zap.String("device_id", hb.DeviceID),
			zap.Error(err))
	}
}

// deviceFromTopic extracts the device segment of esp32/{device_id}/heartbeat
func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 {
		return parts[len(parts)-2]
	}
	return ""
}

// Publish sends a QoS 1 message and waits for the broker acknowledgement
func (m *MQTTService) Publish(ctx context.Context, topic string, payload []byte) error {
	token := m.client.Publish(topic, 1, false, payload)

	timeout := m.publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	m.logger.Debug("Published MQTT message", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	return nil
}

func (m *MQTTService) Connected() bool {
	return m.client.IsConnectionOpen()
}

// Close disconnects from the broker
func (m *MQTTService) Close() {
	m.client.Disconnect(250)
	m.logger.Info("MQTT client disconnected")
}
