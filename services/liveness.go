package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"esp32watch/models"

	"go.uber.org/zap"
)

// ErrInvalidHeartbeat is returned when a heartbeat misses device_id or timestamp
var ErrInvalidHeartbeat = errors.New("missing required fields: device_id or timestamp")

// HeartbeatStore keeps the last heartbeat of every device
type HeartbeatStore interface {
	// Save overwrites the record of the device and returns the record it replaced, if any
	Save(ctx context.Context, record models.DeviceRecord) (*models.DeviceRecord, error)
	// Get returns nil without error when the device never reported
	Get(ctx context.Context, deviceID string) (*models.DeviceRecord, error)
	List(ctx context.Context) ([]models.DeviceRecord, error)
}

// MemoryHeartbeatStore is a process-local HeartbeatStore
type MemoryHeartbeatStore struct {
	devices map[string]models.DeviceRecord
	mu      sync.RWMutex
}

func NewMemoryHeartbeatStore() *MemoryHeartbeatStore {
	return &MemoryHeartbeatStore{
		devices: make(map[string]models.DeviceRecord),
	}
}

func (m *MemoryHeartbeatStore) Save(_ context.Context, record models.DeviceRecord) (*models.DeviceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var previous *models.DeviceRecord
	if old, exists := m.devices[record.Heartbeat.DeviceID]; exists {
		previous = &old
	}
	m.devices[record.Heartbeat.DeviceID] = record
	return previous, nil
}

func (m *MemoryHeartbeatStore) Get(_ context.Context, deviceID string) (*models.DeviceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.devices[deviceID]
	if !exists {
		return nil, nil
	}
	return &record, nil
}

func (m *MemoryHeartbeatStore) List(_ context.Context) ([]models.DeviceRecord, error) {
	m.mu.RLock()
	records := make([]models.DeviceRecord, 0, len(m.devices))
	for _, record := range m.devices {
		records = append(records, record)
	}
	m.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].Heartbeat.DeviceID < records[j].Heartbeat.DeviceID
	})
	return records, nil
}

// LivenessService records heartbeats and classifies devices as online or offline.
// Status is computed when asked, from the server receive time only.
type LivenessService struct {
	store     HeartbeatStore
	threshold time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewLivenessService creates a liveness tracker with a fixed offline threshold
func NewLivenessService(store HeartbeatStore, threshold time.Duration, logger *zap.Logger) *LivenessService {
	return &LivenessService{
		store:     store,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the wall clock, used by tests
func (l *LivenessService) WithClock(now func() time.Time) *LivenessService {
	l.now = now
	return l
}

func (l *LivenessService) Threshold() time.Duration {
	return l.threshold
}

// RecordHeartbeat stores the heartbeat with the server receive time
func (l *LivenessService) RecordHeartbeat(ctx context.Context, hb models.Heartbeat) (models.DeviceRecord, error) {
	if hb.DeviceID == "" || hb.Timestamp == 0 {
		return models.DeviceRecord{}, ErrInvalidHeartbeat
	}

	record := models.DeviceRecord{
		Heartbeat:  hb,
		ReceivedAt: l.now().UTC(),
	}

	previous, err := l.store.Save(ctx, record)
	if err != nil {
		return models.DeviceRecord{}, fmt.Errorf("failed to store heartbeat: %w", err)
	}

	if previous == nil {
		l.logger.Info("New device registered for liveness tracking",
			zap.String("device_id", hb.DeviceID),
			zap.String("device_type", string(hb.DeviceType)),
			zap.String("location", hb.Location))
	} else if gap := record.ReceivedAt.Sub(previous.ReceivedAt); gap >= l.threshold {
		l.logger.Info("Device recovered from timeout",
			zap.String("device_id", hb.DeviceID),
			zap.Duration("down_duration", gap))
	}

	l.logger.Debug("Heartbeat received",
		zap.String("device_id", hb.DeviceID),
		zap.Int64("client_timestamp", hb.Timestamp),
		zap.Time("received_at", record.ReceivedAt))

	return record, nil
}

// Status evaluates the liveness of one device at the current time
func (l *LivenessService) Status(ctx context.Context, deviceID string) (models.DeviceStatus, error) {
	record, err := l.store.Get(ctx, deviceID)
	if err != nil {
		return models.DeviceStatus{}, fmt.Errorf("failed to load heartbeat: %w", err)
	}
	if record == nil {
		return models.DeviceStatus{DeviceID: deviceID, Online: false}, nil
	}
	return l.evaluate(*record), nil
}

// Statuses evaluates several devices, unknown ones included as offline
func (l *LivenessService) Statuses(ctx context.Context, deviceIDs []string) (map[string]models.DeviceStatus, error) {
	result := make(map[string]models.DeviceStatus, len(deviceIDs))
	for _, id := range deviceIDs {
		status, err := l.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		result[id] = status
	}
	return result, nil
}

// AllStatuses evaluates every device that ever sent a heartbeat
func (l *LivenessService) AllStatuses(ctx context.Context) ([]models.DeviceStatus, error) {
	records, err := l.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list heartbeats: %w", err)
	}
	statuses := make([]models.DeviceStatus, 0, len(records))
	for _, record := range records {
		statuses = append(statuses, l.evaluate(record))
	}
	return statuses, nil
}

func (l *LivenessService) evaluate(record models.DeviceRecord) models.DeviceStatus {
	elapsed := l.now().Sub(record.ReceivedAt)
	online := elapsed < l.threshold

	hb := record.Heartbeat
	lastSeen := record.ReceivedAt
	sinceSeconds := int64(elapsed / time.Second)
	timeoutSeconds := int64(l.threshold / time.Second)

	status := models.DeviceStatus{
		DeviceID:          hb.DeviceID,
		Online:            online,
		LastSeen:          &lastSeen,
		Location:          orDefault(hb.Location, "unknown"),
		Version:           orDefault(hb.Version, "1.0.0"),
		SignalStrength:    hb.WiFiStrength,
		Uptime:            hb.Uptime,
		FreeHeap:          hb.FreeHeap,
		DeviceType:        models.DeviceType(orDefault(string(hb.DeviceType), "unknown")),
		TimeSinceLastSeen: &sinceSeconds,
		TimeoutUsed:       &timeoutSeconds,
	}
	if status.SignalStrength == nil {
		fallback := -50
		status.SignalStrength = &fallback
	}

	l.logger.Debug("Status check",
		zap.String("device_id", hb.DeviceID),
		zap.Duration("elapsed", elapsed),
		zap.Duration("threshold", l.threshold),
		zap.Bool("online", online))

	return status
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
