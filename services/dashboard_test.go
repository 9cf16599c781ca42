package services

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"esp32watch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDetectionReader struct {
	detections []models.Detection
	samples    []models.PerformanceSample
}

func (f *fakeDetectionReader) CountDetections(_ context.Context, since *time.Time) (int64, error) {
	var n int64
	for _, d := range f.detections {
		if since == nil || !d.DetectionTime.Before(*since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeDetectionReader) CountHumanDetections(_ context.Context) (int64, error) {
	var n int64
	for _, d := range f.detections {
		if d.HumanDetected {
			n++
		}
	}
	return n, nil
}

func (f *fakeDetectionReader) CountDistinctDevices(_ context.Context) (int64, error) {
	seen := make(map[string]bool)
	for _, d := range f.detections {
		seen[d.DeviceID] = true
	}
	return int64(len(seen)), nil
}

func (f *fakeDetectionReader) DetectionTimesSince(_ context.Context, since time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, d := range f.detections {
		if !d.DetectionTime.Before(since) {
			out = append(out, d.DetectionTime)
		}
	}
	return out, nil
}

func (f *fakeDetectionReader) ListDetections(_ context.Context, offset, limit int) ([]models.Detection, error) {
	sorted := make([]models.Detection, len(f.detections))
	copy(sorted, f.detections)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DetectionTime.After(sorted[j].DetectionTime) })
	if offset >= len(sorted) {
		return nil, nil
	}
	end := offset + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	return sorted[offset:end], nil
}

func (f *fakeDetectionReader) PerformanceForDetections(_ context.Context, ids []uint) (map[uint][]models.PerformanceSample, error) {
	wanted := make(map[uint]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	out := make(map[uint][]models.PerformanceSample)
	for _, s := range f.samples {
		if s.DetectionID != nil && wanted[*s.DetectionID] {
			out[*s.DetectionID] = append(out[*s.DetectionID], s)
		}
	}
	return out, nil
}

func (f *fakeDetectionReader) RecentPerformance(_ context.Context, limit int) ([]models.PerformanceSample, error) {
	if len(f.samples) > limit {
		return f.samples[:limit], nil
	}
	return f.samples, nil
}

type fakeEmailCounter int64

func (f fakeEmailCounter) CountEmails(context.Context) (int64, error) { return int64(f), nil }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func detectionAt(id uint, device string, t time.Time, human bool) models.Detection {
	return models.Detection{ID: id, DeviceID: device, Location: "Front Door", DetectionTime: t, HumanDetected: human}
}

func TestDashboardService_Stats(t *testing.T) {
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	reader := &fakeDetectionReader{detections: []models.Detection{
		detectionAt(1, "cam-a", now.Add(-time.Hour), true),
		detectionAt(2, "cam-a", now.Add(-10*time.Hour), false),
		detectionAt(3, "cam-b", now.Add(-30*time.Hour), true),
		detectionAt(4, "cam-b", now.Add(-72*time.Hour), false),
	}}

	liveness, clock := setupLiveness(t)
	clock.now = now
	_, err := liveness.RecordHeartbeat(context.Background(), heartbeat("ESP32_Camera_AI"))
	require.NoError(t, err)

	svc := NewDashboardService(reader, fakeEmailCounter(3), fakePinger{}, liveness, DashboardOptions{
		DeviceIDs:    []string{"ESP32_Camera_AI", "ESP32_Gateway"},
		EmailEnabled: true,
	}, zap.NewNop()).WithClock(clock.Now)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.EmailCount)
	assert.Equal(t, int64(1), stats.TodayDetectionCount)
	assert.Equal(t, int64(4), stats.TotalDetectionCount)
	assert.Equal(t, int64(2), stats.Last24HoursCount)
	assert.Equal(t, int64(2), stats.HumanDetectionCount)
	assert.Equal(t, int64(2), stats.UniqueDeviceCount)

	assert.True(t, stats.ESP32Status.Online)
	assert.Len(t, stats.ESP32Status.Devices, 2)
	assert.True(t, stats.SystemStatus.Database)
	assert.True(t, stats.SystemStatus.Email)
	assert.Equal(t, map[string]bool{"ESP32_Camera_AI": true, "ESP32_Gateway": false}, stats.SystemStatus.Devices)
}

func TestDashboardService_Stats_DatabaseDown(t *testing.T) {
	liveness, clock := setupLiveness(t)
	svc := NewDashboardService(&fakeDetectionReader{}, fakeEmailCounter(0), fakePinger{err: errors.New("down")}, liveness,
		DashboardOptions{}, zap.NewNop()).WithClock(clock.Now)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)

	assert.False(t, stats.SystemStatus.Database)
	assert.False(t, stats.ESP32Status.Online)
}

func TestDashboardService_ChartData(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)
	id1 := uint(1)
	reader := &fakeDetectionReader{
		detections: []models.Detection{
			detectionAt(1, "cam", time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC), true),
			detectionAt(2, "cam", time.Date(2024, 5, 10, 14, 10, 0, 0, time.UTC), false),
			detectionAt(3, "cam", time.Date(2024, 5, 10, 14, 50, 0, 0, time.UTC), false),
			detectionAt(4, "cam", time.Date(2024, 5, 9, 23, 0, 0, 0, time.UTC), false),
			detectionAt(5, "cam", time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC), false),
			detectionAt(6, "cam", time.Date(2024, 5, 3, 23, 59, 59, 0, time.UTC), false),
		},
		samples: []models.PerformanceSample{
			{ID: 2, DetectionID: &id1, DSPTime: 90, ClassificationTime: 180, AnomalyTime: 60},
			{ID: 1, DSPTime: 100, ClassificationTime: 170, AnomalyTime: 70},
		},
	}

	liveness, _ := setupLiveness(t)
	svc := NewDashboardService(reader, fakeEmailCounter(0), nil, liveness, DashboardOptions{}, zap.NewNop()).
		WithClock(func() time.Time { return now })

	data, err := svc.ChartData(context.Background())
	require.NoError(t, err)

	require.Len(t, data.DetectionTrends, 7)
	assert.Equal(t, models.TrendPoint{Date: "2024-05-04", Label: "May 4", Detections: 1}, data.DetectionTrends[0])
	assert.Equal(t, 1, data.DetectionTrends[5].Detections)
	assert.Equal(t, models.TrendPoint{Date: "2024-05-10", Label: "May 10", Detections: 3}, data.DetectionTrends[6])

	require.Len(t, data.HourlyData, 24)
	assert.Equal(t, "00:00", data.HourlyData[0].Hour)
	assert.Equal(t, 1, data.HourlyData[8].Detections)
	assert.Equal(t, 2, data.HourlyData[14].Detections)
	assert.Equal(t, 0, data.HourlyData[23].Detections)

	dist := data.DetectionStats
	assert.Equal(t, 5, dist.TotalDetections)
	require.Len(t, dist.TimeDistribution, 4)
	assert.Equal(t, 1, dist.TimeDistribution[0].Value)
	assert.Equal(t, 2, dist.TimeDistribution[1].Value)
	assert.Equal(t, 0, dist.TimeDistribution[2].Value)
	assert.Equal(t, 2, dist.TimeDistribution[3].Value)
	assert.Equal(t, 40.0, dist.TimeDistribution[1].Percentage)
	assert.Equal(t, "#D1C4E9", dist.TimeDistribution[3].Color)

	require.Len(t, data.PerformanceData, 2)
	assert.Equal(t, 1, data.PerformanceData[0].Index)
	assert.Equal(t, 90.0, data.PerformanceData[0].DSPTime)
}

func TestDashboardService_ChartData_Timezone(t *testing.T) {
	bangkok := time.FixedZone("ICT", 7*60*60)
	// 18:30 UTC on May 9 is 01:30 on May 10 in Bangkok
	now := time.Date(2024, 5, 9, 18, 30, 0, 0, time.UTC)
	reader := &fakeDetectionReader{detections: []models.Detection{
		detectionAt(1, "cam", time.Date(2024, 5, 9, 17, 30, 0, 0, time.UTC), true),
		detectionAt(2, "cam", time.Date(2024, 5, 9, 16, 30, 0, 0, time.UTC), true),
	}}

	liveness, _ := setupLiveness(t)
	svc := NewDashboardService(reader, fakeEmailCounter(0), nil, liveness, DashboardOptions{Location: bangkok}, zap.NewNop()).
		WithClock(func() time.Time { return now })

	data, err := svc.ChartData(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2024-05-10", data.DetectionTrends[6].Date)
	assert.Equal(t, 1, data.DetectionTrends[6].Detections)
	assert.Equal(t, 1, data.DetectionTrends[5].Detections)
	assert.Equal(t, 1, data.HourlyData[0].Detections)
	assert.Equal(t, 2, data.DetectionStats.TimeDistribution[3].Value)
}

func TestDashboardService_ChartData_Empty(t *testing.T) {
	liveness, clock := setupLiveness(t)
	svc := NewDashboardService(&fakeDetectionReader{}, fakeEmailCounter(0), nil, liveness, DashboardOptions{}, zap.NewNop()).
		WithClock(clock.Now)

	data, err := svc.ChartData(context.Background())
	require.NoError(t, err)

	assert.Len(t, data.DetectionTrends, 7)
	assert.Equal(t, 0, data.DetectionStats.TotalDetections)
	for _, slot := range data.DetectionStats.TimeDistribution {
		assert.Equal(t, 0.0, slot.Percentage)
	}
	assert.NotNil(t, data.PerformanceData)
	assert.Empty(t, data.PerformanceData)
}

func TestDashboardService_LatestDetections(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	reader := &fakeDetectionReader{}
	for i := 1; i <= 8; i++ {
		reader.detections = append(reader.detections, detectionAt(uint(i), "cam", now.Add(-time.Duration(i)*time.Hour), false))
	}
	id := uint(8)
	reader.samples = []models.PerformanceSample{{ID: 1, DetectionID: &id, DSPTime: 99}}

	liveness, _ := setupLiveness(t)
	svc := NewDashboardService(reader, fakeEmailCounter(0), nil, liveness, DashboardOptions{}, zap.NewNop()).
		WithClock(func() time.Time { return now })

	first, err := svc.LatestDetections(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, first.ItemsPerPage)
	assert.Equal(t, 2, first.TotalPages)
	assert.Equal(t, int64(8), first.TotalCount)
	require.Len(t, first.LatestDetections, 6)
	assert.Equal(t, uint(1), first.LatestDetections[0].ID)
	assert.NotNil(t, first.LatestDetections[0].ProcessingPerformance)
	assert.Empty(t, first.LatestDetections[0].ProcessingPerformance)

	second, err := svc.LatestDetections(context.Background(), 1, 6)
	require.NoError(t, err)
	assert.Equal(t, 1, second.CurrentPage)
	require.Len(t, second.LatestDetections, 2)
	assert.Equal(t, uint(8), second.LatestDetections[1].ID)
	require.Len(t, second.LatestDetections[1].ProcessingPerformance, 1)
	assert.Equal(t, 99.0, second.LatestDetections[1].ProcessingPerformance[0].DSPTime)
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		name       string
		page, size int
		total      int64
		want       Page
	}{
		{"defaults", 0, 0, 13, Page{Number: 0, Size: 6, Offset: 0, TotalPages: 3}},
		{"second page", 1, 5, 10, Page{Number: 1, Size: 5, Offset: 5, TotalPages: 2}},
		{"negative page", -3, 5, 10, Page{Number: 0, Size: 5, Offset: 0, TotalPages: 2}},
		{"size clamped", 0, 1000, 250, Page{Number: 0, Size: 100, Offset: 0, TotalPages: 3}},
		{"no rows", 2, 6, 0, Page{Number: 2, Size: 6, Offset: 12, TotalPages: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Paginate(tt.page, tt.size, tt.total))
		})
	}
}

func TestTimeSlot(t *testing.T) {
	assert.Equal(t, 3, timeSlot(0))
	assert.Equal(t, 3, timeSlot(5))
	assert.Equal(t, 0, timeSlot(6))
	assert.Equal(t, 0, timeSlot(11))
	assert.Equal(t, 1, timeSlot(12))
	assert.Equal(t, 1, timeSlot(17))
	assert.Equal(t, 2, timeSlot(18))
	assert.Equal(t, 2, timeSlot(21))
	assert.Equal(t, 3, timeSlot(22))
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0.0, percentage(0, 0))
	assert.Equal(t, 33.3, percentage(1, 3))
	assert.Equal(t, 66.7, percentage(2, 3))
	assert.Equal(t, 100.0, percentage(4, 4))
}
