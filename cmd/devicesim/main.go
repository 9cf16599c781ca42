package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"esp32watch/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var (
	deviceID   = flag.String("device", "ESP32_Camera_AI", "Device ID to simulate")
	deviceType = flag.String("type", "camera", "Device type: camera or gateway")
	location   = flag.String("location", "Front Door", "Device location")
	interval   = flag.Duration("interval", 30*time.Second, "Heartbeat interval")
	dropAfter  = flag.Int("drop-after", 0, "Stop sending after N heartbeats to exercise the offline path (0 = never)")
	transport  = flag.String("transport", "mqtt", "Transport: mqtt or http")
	mqttBroker = flag.String("broker", "localhost:1883", "MQTT broker address (host:port)")
	mqttUser   = flag.String("user", "", "MQTT username")
	mqttPass   = flag.String("pass", "", "MQTT password")
	mqttTopic  = flag.String("topic", "esp32/{device_id}/heartbeat", "MQTT heartbeat topic")
	serverURL  = flag.String("server", "http://localhost:3000", "Dashboard base URL for the http transport")
)

// Sender delivers one heartbeat
type Sender interface {
	Send(ctx context.Context, hb models.Heartbeat) error
	Close()
}

type mqttSender struct {
	client mqtt.Client
	topic  string
}

func newMQTTSender(logger *zap.Logger) (*mqttSender, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", *mqttBroker))
	opts.SetClientID(fmt.Sprintf("%s-sim", *deviceID))
	opts.SetUsername(*mqttUser)
	opts.SetPassword(*mqttPass)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", *mqttBroker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &mqttSender{
		client: client,
		topic:  strings.ReplaceAll(*mqttTopic, "{device_id}", *deviceID),
	}, nil
}

func (m *mqttSender) Send(_ context.Context, hb models.Heartbeat) error {
	payload, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic, 1, false, payload)
	token.Wait()
	return token.Error()
}

func (m *mqttSender) Close() {
	m.client.Disconnect(250)
}

type httpSender struct {
	client *resty.Client
}

func newHTTPSender() *httpSender {
	return &httpSender{
		client: resty.New().
			SetBaseURL(*serverURL).
			SetTimeout(10*time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

func (h *httpSender) Send(ctx context.Context, hb models.Heartbeat) error {
	resp, err := h.client.R().SetContext(ctx).SetBody(hb).Post("/api/esp32/heartbeat")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("heartbeat rejected: %s", resp.Status())
	}
	return nil
}

func (h *httpSender) Close() {}

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	var sender Sender
	switch *transport {
	case "mqtt":
		s, err := newMQTTSender(logger)
		if err != nil {
			logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		sender = s
	case "http":
		sender = newHTTPSender()
	default:
		logger.Fatal("Unknown transport", zap.String("transport", *transport))
	}
	defer sender.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping simulator")
		cancel()
	}()

	logger.Info("ESP32 heartbeat simulator started",
		zap.String("device_id", *deviceID),
		zap.String("transport", *transport),
		zap.Duration("interval", *interval),
		zap.Int("drop_after", *dropAfter))

	start := time.Now()
	sent := 0
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		if *dropAfter == 0 || sent < *dropAfter {
			hb := buildHeartbeat(start)
			if err := sender.Send(ctx, hb); err != nil {
				logger.Error("Failed to send heartbeat", zap.Error(err))
			} else {
				sent++
				logger.Info("Heartbeat sent",
					zap.Int("count", sent),
					zap.Intp("wifi_strength", hb.WiFiStrength))
			}
		} else if sent == *dropAfter {
			logger.Warn("Heartbeats stopped, device should go offline after the server threshold")
			sent++
		}

		select {
		case <-ctx.Done():
			logger.Info("Simulator stopped", zap.Int("heartbeats_sent", sent))
			return
		case <-ticker.C:
		}
	}
}

func buildHeartbeat(start time.Time) models.Heartbeat {
	wifi := -40 - rand.Intn(40)
	uptime := int64(time.Since(start).Seconds())
	heap := int64(150000 + rand.Intn(50000))
	return models.Heartbeat{
		DeviceID:     *deviceID,
		Timestamp:    time.Now().UnixMilli(),
		Location:     *location,
		Version:      "1.0.0",
		WiFiStrength: &wifi,
		Uptime:       &uptime,
		FreeHeap:     &heap,
		DeviceType:   models.DeviceType(*deviceType),
		Status:       "online",
	}
}
