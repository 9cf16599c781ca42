package services

import (
	"context"
	"fmt"
	"time"

	"esp32watch/config"
	"esp32watch/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// AlertsRef is the Realtime Database path receiving detection alerts
const AlertsRef = "detection-alerts"

// FirebaseService mirrors detection alerts into Firebase Realtime Database for the mobile app
type FirebaseService struct {
	client *db.Client
	logger *zap.Logger
}

func NewFirebaseService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*FirebaseService, error) {
	conf := &firebase.Config{
		DatabaseURL: cfg.FirebaseDbUrl,
	}

	opt := option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %v", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %v", err)
	}

	fs := &FirebaseService{
		client: client,
		logger: logger,
	}

	if err := fs.testConnection(ctx); err != nil {
		logger.Error("Firebase connection test failed", zap.Error(err))
		return nil, fmt.Errorf("firebase connection test failed: %v", err)
	}

	return fs, nil
}

// testConnection reads the alerts node with a few retries
func (fs *FirebaseService) testConnection(ctx context.Context) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fs.logger.Info("Testing Firebase connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		var data interface{}
		err := fs.client.NewRef(AlertsRef).OrderByKey().LimitToLast(1).Get(ctx, &data)
		if err == nil {
			fs.logger.Info("Firebase connection successful")
			return nil
		}

		fs.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

// firebaseAlert is the record pushed under AlertsRef
type firebaseAlert struct {
	BatchID       string              `json:"batch_id,omitempty"`
	EventCount    int                 `json:"event_count"`
	Locations     []string            `json:"locations"`
	MaxConfidence *float64            `json:"max_confidence,omitempty"`
	Events        []models.HumanEvent `json:"events"`
	Timestamp     string              `json:"timestamp"`
}

// Notify pushes the alert as a new child of AlertsRef
func (fs *FirebaseService) Notify(ctx context.Context, alert *models.DetectionAlert) error {
	record := firebaseAlert{
		BatchID:       alert.BatchID,
		EventCount:    len(alert.Events),
		Locations:     alert.Locations(),
		MaxConfidence: alert.MaxConfidence(),
		Events:        alert.Events,
		Timestamp:     alert.CreatedAt.UTC().Format(time.RFC3339),
	}

	ref, err := fs.client.NewRef(AlertsRef).Push(ctx, record)
	if err != nil {
		return fmt.Errorf("error pushing alert to firebase: %v", err)
	}

	fs.logger.Debug("Alert pushed to Firebase",
		zap.String("key", ref.Key),
		zap.Int("event_count", record.EventCount))
	return nil
}

// Close closes the Firebase connection
func (fs *FirebaseService) Close() error {
	fs.logger.Info("Closing Firebase service")
	return nil
}
