package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"esp32watch/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidDetection is returned when a request holds no usable detection report
var ErrInvalidDetection = errors.New("missing required fields: device_id, location")

// DetectionRepository is the write side of the detection store
type DetectionRepository interface {
	CreateDetection(ctx context.Context, detection *models.Detection) error
	CreatePerformanceSample(ctx context.Context, sample *models.PerformanceSample) error
}

// DetectionResult summarises one ingestion request
type DetectionResult struct {
	BatchID            string `json:"batch_id,omitempty"`
	DetectionIDs       []uint `json:"detection_ids"`
	Processed          int    `json:"processed"`
	Skipped            int    `json:"skipped"`
	HumanDetectedCount int    `json:"human_detected_count"`
}

// HumanDetected reports whether any stored detection saw a human
func (r *DetectionResult) HumanDetected() bool {
	return r.HumanDetectedCount > 0
}

// DetectionService persists detection reports and raises one alert per request
type DetectionService struct {
	repo          DetectionRepository
	notifier      Notifier
	notifyTimeout time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func NewDetectionService(repo DetectionRepository, notifier Notifier, notifyTimeout time.Duration, logger *zap.Logger) *DetectionService {
	if notifyTimeout <= 0 {
		notifyTimeout = 15 * time.Second
	}
	return &DetectionService{
		repo:          repo,
		notifier:      notifier,
		notifyTimeout: notifyTimeout,
		logger:        logger,
		now:           time.Now,
	}
}

// WithClock replaces the wall clock, used by tests
func (s *DetectionService) WithClock(now func() time.Time) *DetectionService {
	s.now = now
	return s
}

// Record stores every valid report in order. Items are not atomic as a whole: on a
// storage error the ids written so far stay committed and are returned with the error.
func (s *DetectionService) Record(ctx context.Context, batch models.DetectionBatch) (DetectionResult, error) {
	result := DetectionResult{DetectionIDs: []uint{}}
	if batch.Batch {
		result.BatchID = batch.BatchID
		if result.BatchID == "" {
			result.BatchID = uuid.NewString()
		}
	}

	if len(batch.Reports) == 0 {
		return result, ErrInvalidDetection
	}
	if !batch.Batch && !batch.Reports[0].Valid() {
		return result, ErrInvalidDetection
	}

	alert := &models.DetectionAlert{BatchID: result.BatchID, CreatedAt: s.now().UTC()}

	for i := range batch.Reports {
		report := &batch.Reports[i]
		if !report.Valid() {
			result.Skipped++
			s.logger.Warn("Skipping invalid detection report",
				zap.Int("index", i),
				zap.String("device_id", report.DeviceID),
				zap.String("batch_id", result.BatchID))
			continue
		}

		detection, err := s.store(ctx, report, result.BatchID)
		if err != nil {
			return result, err
		}

		result.DetectionIDs = append(result.DetectionIDs, detection.ID)
		result.Processed++
		if detection.HumanDetected {
			result.HumanDetectedCount++
			alert.Events = append(alert.Events, models.HumanEvent{
				DetectionID:        detection.ID,
				DeviceID:           detection.DeviceID,
				Location:           detection.Location,
				DetectionTime:      detection.DetectionTime,
				Confidence:         report.Confidence,
				DSPTime:            report.DSPTime,
				ClassificationTime: report.ClassificationTime,
				AnomalyTime:        report.AnomalyTime,
			})
		}
	}

	if result.Processed == 0 {
		return result, ErrInvalidDetection
	}

	s.logger.Info("Detections stored",
		zap.String("batch_id", result.BatchID),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("human_detected", result.HumanDetectedCount))

	if len(alert.Events) > 0 {
		s.notify(ctx, alert)
	}

	return result, nil
}

func (s *DetectionService) store(ctx context.Context, report *models.DetectionReport, batchID string) (*models.Detection, error) {
	detection := &models.Detection{
		DeviceID:        report.DeviceID,
		Location:        report.Location,
		DetectionTime:   s.detectionTime(report),
		HumanDetected:   models.IsHumanDetected(report.HumanDetected, report.Confidence),
		Confidence:      report.Confidence,
		DetectedObjects: report.DetectedObjects,
		BatchID:         batchID,
	}
	if err := s.repo.CreateDetection(ctx, detection); err != nil {
		return nil, fmt.Errorf("failed to store detection: %w", err)
	}

	if report.HasTiming() {
		id := detection.ID
		sample := &models.PerformanceSample{
			DetectionID:        &id,
			DSPTime:            valueOrZero(report.DSPTime),
			ClassificationTime: valueOrZero(report.ClassificationTime),
			AnomalyTime:        valueOrZero(report.AnomalyTime),
		}
		if err := s.repo.CreatePerformanceSample(ctx, sample); err != nil {
			return nil, fmt.Errorf("failed to store performance sample: %w", err)
		}
	}
	return detection, nil
}

// detectionTime prefers the device clock when it sent a parseable RFC3339 time
func (s *DetectionService) detectionTime(report *models.DetectionReport) time.Time {
	if report.DetectionTime != "" {
		if t, err := time.Parse(time.RFC3339, report.DetectionTime); err == nil {
			return t.UTC()
		}
		s.logger.Debug("Ignoring unparseable detection_time",
			zap.String("device_id", report.DeviceID),
			zap.String("detection_time", report.DetectionTime))
	}
	return s.now().UTC()
}

// notify delivers the alert; failures are logged and never reach the caller
func (s *DetectionService) notify(ctx context.Context, alert *models.DetectionAlert) {
	if s.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	if err := s.notifier.Notify(notifyCtx, alert); err != nil {
		s.logger.Error("Detection alert delivery failed",
			zap.String("batch_id", alert.BatchID),
			zap.Int("event_count", len(alert.Events)),
			zap.Error(err))
	}
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
