package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"esp32watch/config"
	"esp32watch/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AlertRoutingKey is the routing key of published detection alerts
const AlertRoutingKey = "detection.alert"

// errDropMessage marks deliveries that carry no valid detection
var errDropMessage = errors.New("unprocessable message")

// DetectionRecorder stores detection requests
type DetectionRecorder interface {
	Record(ctx context.Context, batch models.DetectionBatch) (DetectionResult, error)
}

// RabbitMQService consumes queued detection reports and publishes detection alerts
type RabbitMQService struct {
	config    *config.Config
	mu        sync.RWMutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	recorder  DetectionRecorder
	logger    *zap.Logger
	reconnect chan bool
	isClosing atomic.Bool
}

// NewRabbitMQService connects to the broker and declares the exchange and queue
func NewRabbitMQService(cfg *config.Config, recorder DetectionRecorder, logger *zap.Logger) (*RabbitMQService, error) {
	service := &RabbitMQService{
		config:    cfg,
		recorder:  recorder,
		logger:    logger,
		reconnect: make(chan bool, 1),
	}

	if err := service.connect(); err != nil {
		return nil, err
	}

	return service, nil
}

// SetRecorder attaches the detection sink once it exists
func (r *RabbitMQService) SetRecorder(recorder DetectionRecorder) {
	r.recorder = recorder
}

func (r *RabbitMQService) connect() error {
	var (
		conn *amqp.Connection
		err  error
	)

	r.logger.Info("Connecting to RabbitMQ", zap.String("exchange", r.config.RabbitMQExchange))

	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(r.config.RabbitMQURL)
		if err == nil {
			break
		}

		r.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	r.logger.Info("Connected to RabbitMQ successfully")

	channel, err := r.setupChannel(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	r.mu.Lock()
	r.conn = conn
	r.channel = channel
	r.mu.Unlock()

	go r.handleReconnect(conn)

	return nil
}

func (r *RabbitMQService) setupChannel(conn *amqp.Connection) (*amqp.Channel, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.Qos(10, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	err = channel.ExchangeDeclare(
		r.config.RabbitMQExchange, // name
		"direct",                  // type
		true,                      // durable
		false,                     // auto-deleted
		false,                     // internal
		false,                     // no-wait
		nil,                       // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue, err := channel.QueueDeclare(
		r.config.RabbitMQQueue, // name
		true,                   // durable
		false,                  // delete when unused
		false,                  // exclusive
		false,                  // no-wait
		nil,                    // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := channel.QueueBind(queue.Name, r.config.RabbitMQQueue, r.config.RabbitMQExchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	// ESP32 boards publishing over the broker's MQTT plugin land on amq.topic
	if err := channel.QueueBind(queue.Name, r.config.RabbitMQQueue, "amq.topic", false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue to MQTT exchange: %w", err)
	}

	r.logger.Info("Queue bound",
		zap.String("queue", queue.Name),
		zap.String("exchange", r.config.RabbitMQExchange),
		zap.String("routing_key", r.config.RabbitMQQueue))

	return channel, nil
}

func (r *RabbitMQService) currentChannel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// handleReconnect re-establishes the connection when the broker drops it
func (r *RabbitMQService) handleReconnect(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if r.isClosing.Load() {
		r.logger.Info("RabbitMQ connection closed gracefully")
		return
	}

	r.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))

	for !r.isClosing.Load() {
		r.logger.Info("Attempting to reconnect to RabbitMQ...")
		if err := r.connect(); err == nil {
			r.logger.Info("Successfully reconnected to RabbitMQ")
			select {
			case r.reconnect <- true:
			default:
			}
			return
		} else {
			r.logger.Error("Failed to reconnect", zap.Error(err))
		}
		time.Sleep(5 * time.Second)
	}
}

// Consume feeds queued detection reports into the recorder until ctx is done
func (r *RabbitMQService) Consume(ctx context.Context) error {
	for {
		msgs, err := r.currentChannel().Consume(
			r.config.RabbitMQQueue, // queue
			"esp32watch",           // consumer tag
			false,                  // auto-ack
			false,                  // exclusive
			false,                  // no-local
			false,                  // no-wait
			nil,                    // args
		)
		if err != nil {
			return fmt.Errorf("failed to register consumer: %w", err)
		}

		r.logger.Info("Started consuming detection reports",
			zap.String("queue", r.config.RabbitMQQueue))

	consumeLoop:
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Stopping RabbitMQ consumer")
				return nil

			case <-r.reconnect:
				r.logger.Info("Reconnection detected, restarting consumer")
				break consumeLoop

			case msg, ok := <-msgs:
				if !ok {
					r.logger.Warn("Message channel closed, waiting for reconnection")
					select {
					case <-ctx.Done():
						return nil
					case <-r.reconnect:
					}
					break consumeLoop
				}
				r.acknowledge(msg, r.processMessage(ctx, msg.Body))
			}
		}
	}
}

// acknowledge acks every delivery. Failed messages are logged and dropped, never requeued,
// since a redelivered batch would store its committed reports a second time.
func (r *RabbitMQService) acknowledge(msg amqp.Delivery, err error) {
	switch {
	case err == nil:
	case errors.Is(err, errDropMessage):
		r.logger.Warn("Dropping detection message", zap.String("message_id", msg.MessageId), zap.Error(err))
	default:
		r.logger.Error("Failed to process detection message",
			zap.String("message_id", msg.MessageId),
			zap.Error(err))
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		r.logger.Error("Failed to ack detection message", zap.String("message_id", msg.MessageId), zap.Error(ackErr))
	}
}

// processMessage decodes one delivery and records it
func (r *RabbitMQService) processMessage(ctx context.Context, body []byte) error {
	var req models.DetectionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("%w: %v", errDropMessage, err)
	}

	result, err := r.recorder.Record(ctx, req.ToBatch())
	if errors.Is(err, ErrInvalidDetection) {
		return fmt.Errorf("%w: %v", errDropMessage, err)
	}
	if err != nil {
		return fmt.Errorf("stored %d detections before failure: %w", len(result.DetectionIDs), err)
	}

	r.logger.Debug("Recorded queued detections",
		zap.String("batch_id", result.BatchID),
		zap.Int("processed", result.Processed),
		zap.Int("human_detected", result.HumanDetectedCount))
	return nil
}

// Notify publishes the alert to the exchange for downstream consumers
func (r *RabbitMQService) Notify(ctx context.Context, alert *models.DetectionAlert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	err = r.currentChannel().PublishWithContext(ctx,
		r.config.RabbitMQExchange, // exchange
		AlertRoutingKey,           // routing key
		false,                     // mandatory
		false,                     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// Close gracefully closes the RabbitMQ connection
func (r *RabbitMQService) Close() error {
	r.isClosing.Store(true)

	r.logger.Info("Closing RabbitMQ connection")

	r.mu.RLock()
	conn, channel := r.conn, r.channel
	r.mu.RUnlock()

	if channel != nil {
		if err := channel.Close(); err != nil {
			r.logger.Error("Error closing channel", zap.Error(err))
		}
	}

	if conn != nil {
		if err := conn.Close(); err != nil {
			r.logger.Error("Error closing connection", zap.Error(err))
			return err
		}
	}

	r.logger.Info("RabbitMQ connection closed")
	return nil
}
