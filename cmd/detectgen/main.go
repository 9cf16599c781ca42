package main

import (
	"context"
	"encoding/json"
	"flag"
	"math"
	"math/rand"
	"time"

	"esp32watch/config"
	"esp32watch/models"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var (
	rabbitMQURL = flag.String("rabbitmq", "", "RabbitMQ URL (default from config)")
	deviceID    = flag.String("device", "ESP32_Camera_AI", "Device ID of the generated reports")
	location    = flag.String("location", "Front Door", "Location of the generated reports")
	count       = flag.Int("count", 5, "Number of reports in the batch")
	humanProb   = flag.Float64("human", 0.3, "Probability that a report sees a human (0.0-1.0)")
)

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	url := cfg.RabbitMQURL
	if *rabbitMQURL != "" {
		url = *rabbitMQURL
	}
	if url == "" {
		logger.Fatal("RabbitMQ URL is required (-rabbitmq or RABBITMQ_URL)")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer conn.Close()

	channel, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", zap.Error(err))
	}
	defer channel.Close()

	req := models.DetectionRequest{
		BatchID:    uuid.NewString(),
		Detections: generateReports(*deviceID, *location, *count, *humanProb),
	}

	body, err := json.Marshal(req)
	if err != nil {
		logger.Fatal("Failed to marshal detection batch", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = channel.PublishWithContext(ctx,
		cfg.RabbitMQExchange, // exchange
		cfg.RabbitMQQueue,    // routing key
		false,                // mandatory
		false,                // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		logger.Fatal("Failed to publish detection batch", zap.Error(err))
	}

	humans := 0
	for _, r := range req.Detections {
		if models.IsHumanDetected(r.HumanDetected, r.Confidence) {
			humans++
		}
	}

	logger.Info("Detection batch published",
		zap.String("batch_id", req.BatchID),
		zap.String("exchange", cfg.RabbitMQExchange),
		zap.String("routing_key", cfg.RabbitMQQueue),
		zap.Int("reports", len(req.Detections)),
		zap.Int("human_reports", humans),
		zap.Int("message_size", len(body)))
}

// generateReports produces reports shaped like the camera firmware output
func generateReports(deviceID, location string, n int, humanProb float64) []models.DetectionReport {
	reports := make([]models.DetectionReport, 0, n)
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		confidence := round2(rand.Float64() * 0.5)
		objects := []string{}
		if rand.Float64() < humanProb {
			confidence = round2(0.55 + rand.Float64()*0.44)
			objects = append(objects, "person")
		}
		dsp := round2(80 + rand.Float64()*40)
		classification := round2(160 + rand.Float64()*50)
		anomaly := round2(55 + rand.Float64()*30)

		reports = append(reports, models.DetectionReport{
			DeviceID:           deviceID,
			Location:           location,
			Confidence:         &confidence,
			DetectedObjects:    objects,
			DSPTime:            &dsp,
			ClassificationTime: &classification,
			AnomalyTime:        &anomaly,
			DetectionTime:      now.Add(time.Duration(i-n) * time.Second).Format(time.RFC3339),
		})
	}
	return reports
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
