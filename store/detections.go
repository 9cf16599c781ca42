package store

import (
	"context"
	"time"

	"esp32watch/models"
)

// DetectionStore persists detection events and their performance samples
type DetectionStore struct {
	store *Store
}

func NewDetectionStore(s *Store) *DetectionStore {
	return &DetectionStore{store: s}
}

func (d *DetectionStore) CreateDetection(ctx context.Context, detection *models.Detection) error {
	return d.store.DB.WithContext(ctx).Create(detection).Error
}

func (d *DetectionStore) CreatePerformanceSample(ctx context.Context, sample *models.PerformanceSample) error {
	return d.store.DB.WithContext(ctx).Create(sample).Error
}

// CountDetections counts all detections, or only those at or after since when it is set
func (d *DetectionStore) CountDetections(ctx context.Context, since *time.Time) (int64, error) {
	var count int64
	q := d.store.DB.WithContext(ctx).Model(&models.Detection{})
	if since != nil {
		q = q.Where("detection_time >= ?", since.UTC())
	}
	err := q.Count(&count).Error
	return count, err
}

func (d *DetectionStore) CountHumanDetections(ctx context.Context) (int64, error) {
	var count int64
	err := d.store.DB.WithContext(ctx).Model(&models.Detection{}).
		Where("human_detected = ?", true).
		Count(&count).Error
	return count, err
}

func (d *DetectionStore) CountDistinctDevices(ctx context.Context) (int64, error) {
	var count int64
	err := d.store.DB.WithContext(ctx).Model(&models.Detection{}).
		Distinct("device_id").
		Count(&count).Error
	return count, err
}

// DetectionTimesSince returns the detection timestamps at or after since, in UTC
func (d *DetectionStore) DetectionTimesSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	var times []time.Time
	err := d.store.DB.WithContext(ctx).Model(&models.Detection{}).
		Where("detection_time >= ?", since.UTC()).
		Order("detection_time ASC").
		Pluck("detection_time", &times).Error
	if err != nil {
		return nil, err
	}
	for i := range times {
		times[i] = times[i].UTC()
	}
	return times, nil
}

// ListDetections returns one page of detections, newest first
func (d *DetectionStore) ListDetections(ctx context.Context, offset, limit int) ([]models.Detection, error) {
	var detections []models.Detection
	err := d.store.DB.WithContext(ctx).
		Order("detection_time DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&detections).Error
	return detections, err
}

// DetectionsBetween returns detections in [from, to), oldest first
func (d *DetectionStore) DetectionsBetween(ctx context.Context, from, to time.Time) ([]models.Detection, error) {
	var detections []models.Detection
	err := d.store.DB.WithContext(ctx).
		Where("detection_time >= ? AND detection_time < ?", from.UTC(), to.UTC()).
		Order("detection_time ASC").
		Order("id ASC").
		Find(&detections).Error
	return detections, err
}

// PerformanceForDetections groups the samples linked to the given detections by detection id
func (d *DetectionStore) PerformanceForDetections(ctx context.Context, ids []uint) (map[uint][]models.PerformanceSample, error) {
	result := make(map[uint][]models.PerformanceSample)
	if len(ids) == 0 {
		return result, nil
	}
	var samples []models.PerformanceSample
	err := d.store.DB.WithContext(ctx).
		Where("detection_id IN ?", ids).
		Order("id ASC").
		Find(&samples).Error
	if err != nil {
		return nil, err
	}
	for _, s := range samples {
		if s.DetectionID != nil {
			result[*s.DetectionID] = append(result[*s.DetectionID], s)
		}
	}
	return result, nil
}

// RecentPerformance returns the latest samples in insertion order
func (d *DetectionStore) RecentPerformance(ctx context.Context, limit int) ([]models.PerformanceSample, error) {
	var samples []models.PerformanceSample
	err := d.store.DB.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&samples).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}
