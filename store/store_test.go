package store

import (
	"context"
	"testing"
	"time"

	"esp32watch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestStore(t *testing.T) *Store {
	s, err := Open(context.Background(), "sqlite", ":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "dsn", zap.NewNop())
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func seedDetection(t *testing.T, d *DetectionStore, device string, at time.Time, human bool) *models.Detection {
	det := &models.Detection{DeviceID: device, Location: "Front Door", DetectionTime: at, HumanDetected: human}
	require.NoError(t, d.CreateDetection(context.Background(), det))
	return det
}

func TestDetectionStore_Counts(t *testing.T) {
	d := NewDetectionStore(setupTestStore(t))
	ctx := context.Background()
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	seedDetection(t, d, "cam-a", base.Add(-time.Hour), true)
	seedDetection(t, d, "cam-a", base.Add(-48*time.Hour), false)
	seedDetection(t, d, "cam-b", base, true)

	total, err := d.CountDetections(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	since := base.Add(-2 * time.Hour)
	recent, err := d.CountDetections(ctx, &since)
	require.NoError(t, err)
	assert.Equal(t, int64(2), recent)

	humans, err := d.CountHumanDetections(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), humans)

	devices, err := d.CountDistinctDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), devices)
}

func TestDetectionStore_ListAndRange(t *testing.T) {
	d := NewDetectionStore(setupTestStore(t))
	ctx := context.Background()
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		seedDetection(t, d, "cam", base.Add(time.Duration(i)*time.Minute), false)
	}

	page, err := d.ListDetections(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, base.Add(4*time.Minute).Equal(page[0].DetectionTime))
	assert.True(t, base.Add(3*time.Minute).Equal(page[1].DetectionTime))

	rest, err := d.ListDetections(ctx, 4, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	between, err := d.DetectionsBetween(ctx, base.Add(time.Minute), base.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, between, 2)
	assert.True(t, base.Add(time.Minute).Equal(between[0].DetectionTime))

	times, err := d.DetectionTimesSince(ctx, base.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, times, 2)
	assert.Equal(t, time.UTC, times[0].Location())
	assert.True(t, base.Add(3*time.Minute).Equal(times[0]))
}

func TestDetectionStore_DetectedObjectsRoundTrip(t *testing.T) {
	d := NewDetectionStore(setupTestStore(t))
	ctx := context.Background()
	confidence := 0.75

	require.NoError(t, d.CreateDetection(ctx, &models.Detection{
		DeviceID:        "cam",
		Location:        "Hall",
		DetectionTime:   time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
		Confidence:      &confidence,
		DetectedObjects: []string{"person", "cat"},
		BatchID:         "b-1",
	}))

	rows, err := d.ListDetections(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"person", "cat"}, rows[0].DetectedObjects)
	require.NotNil(t, rows[0].Confidence)
	assert.Equal(t, 0.75, *rows[0].Confidence)
	assert.Equal(t, "b-1", rows[0].BatchID)
}

func TestDetectionStore_Performance(t *testing.T) {
	d := NewDetectionStore(setupTestStore(t))
	ctx := context.Background()
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	first := seedDetection(t, d, "cam", base, true)
	second := seedDetection(t, d, "cam", base.Add(time.Minute), false)

	for i := 0; i < 12; i++ {
		id := first.ID
		if i%2 == 1 {
			id = second.ID
		}
		require.NoError(t, d.CreatePerformanceSample(ctx, &models.PerformanceSample{
			DetectionID: &id,
			DSPTime:     float64(i),
		}))
	}

	grouped, err := d.PerformanceForDetections(ctx, []uint{first.ID})
	require.NoError(t, err)
	assert.Len(t, grouped[first.ID], 6)
	assert.Empty(t, grouped[second.ID])

	empty, err := d.PerformanceForDetections(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	recent, err := d.RecentPerformance(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	assert.Equal(t, 2.0, recent[0].DSPTime)
	assert.Equal(t, 11.0, recent[9].DSPTime)
}

func TestEmailStore_ApplyEmailPlan(t *testing.T) {
	e := NewEmailStore(setupTestStore(t))
	ctx := context.Background()

	require.NoError(t, e.ApplyEmailPlan(ctx, models.EmailPlan{Creates: []string{"old@x.com", "c@x.com"}}))

	emails, err := e.ListEmails(ctx)
	require.NoError(t, err)
	require.Len(t, emails, 2)

	err = e.ApplyEmailPlan(ctx, models.EmailPlan{
		Deletes: []uint{emails[1].ID},
		Updates: []models.NotificationEmail{{ID: emails[0].ID, Email: "a@x.com"}},
		Creates: []string{"b@x.com"},
	})
	require.NoError(t, err)

	emails, err = e.ListEmails(ctx)
	require.NoError(t, err)
	require.Len(t, emails, 2)
	assert.Equal(t, "a@x.com", emails[0].Email)
	assert.Equal(t, "b@x.com", emails[1].Email)

	count, err := e.CountEmails(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
