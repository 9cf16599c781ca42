package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"esp32watch/models"

	"go.uber.org/zap"
)

const (
	trendDays          = 7
	performanceSamples = 10
	defaultPageSize    = 6
	maxPageSize        = 100
)

// DetectionReader is the read side of the detection store used by dashboards
type DetectionReader interface {
	CountDetections(ctx context.Context, since *time.Time) (int64, error)
	CountHumanDetections(ctx context.Context) (int64, error)
	CountDistinctDevices(ctx context.Context) (int64, error)
	DetectionTimesSince(ctx context.Context, since time.Time) ([]time.Time, error)
	ListDetections(ctx context.Context, offset, limit int) ([]models.Detection, error)
	PerformanceForDetections(ctx context.Context, ids []uint) (map[uint][]models.PerformanceSample, error)
	RecentPerformance(ctx context.Context, limit int) ([]models.PerformanceSample, error)
}

// EmailCounter reports how many recipients are stored
type EmailCounter interface {
	CountEmails(ctx context.Context) (int64, error)
}

// Pinger checks that a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// DeviceStatusSource evaluates device liveness
type DeviceStatusSource interface {
	Statuses(ctx context.Context, deviceIDs []string) (map[string]models.DeviceStatus, error)
}

// DashboardService computes the aggregates shown on the dashboard. Nothing is cached.
type DashboardService struct {
	detections  DetectionReader
	emails      EmailCounter
	db          Pinger
	devices     DeviceStatusSource
	deviceIDs   []string
	emailActive bool
	location    *time.Location
	logger      *zap.Logger
	now         func() time.Time
}

type DashboardOptions struct {
	// DeviceIDs are the devices always listed on the dashboard, reported or not
	DeviceIDs []string
	// EmailEnabled is true when SMTP credentials are configured
	EmailEnabled bool
	// Location sets day and hour boundaries; UTC when nil
	Location *time.Location
}

func NewDashboardService(detections DetectionReader, emails EmailCounter, db Pinger, devices DeviceStatusSource, opts DashboardOptions, logger *zap.Logger) *DashboardService {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &DashboardService{
		detections:  detections,
		emails:      emails,
		db:          db,
		devices:     devices,
		deviceIDs:   opts.DeviceIDs,
		emailActive: opts.EmailEnabled,
		location:    loc,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock replaces the wall clock, used by tests
func (d *DashboardService) WithClock(now func() time.Time) *DashboardService {
	d.now = now
	return d
}

// dayStart is the start of the calendar day of t in the dashboard location
func (d *DashboardService) dayStart(t time.Time) time.Time {
	local := t.In(d.location)
	y, m, day := local.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, d.location)
}

func (d *DashboardService) Stats(ctx context.Context) (*models.DashboardStats, error) {
	now := d.now()
	today := d.dayStart(now)
	dayAgo := now.Add(-24 * time.Hour)

	stats := &models.DashboardStats{}
	var err error

	if stats.EmailCount, err = d.emails.CountEmails(ctx); err != nil {
		return nil, fmt.Errorf("failed to count emails: %w", err)
	}
	if stats.TodayDetectionCount, err = d.detections.CountDetections(ctx, &today); err != nil {
		return nil, fmt.Errorf("failed to count today's detections: %w", err)
	}
	if stats.TotalDetectionCount, err = d.detections.CountDetections(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to count detections: %w", err)
	}
	if stats.Last24HoursCount, err = d.detections.CountDetections(ctx, &dayAgo); err != nil {
		return nil, fmt.Errorf("failed to count last 24h detections: %w", err)
	}
	if stats.HumanDetectionCount, err = d.detections.CountHumanDetections(ctx); err != nil {
		return nil, fmt.Errorf("failed to count human detections: %w", err)
	}
	if stats.UniqueDeviceCount, err = d.detections.CountDistinctDevices(ctx); err != nil {
		return nil, fmt.Errorf("failed to count devices: %w", err)
	}

	statuses, err := d.devices.Statuses(ctx, d.deviceIDs)
	if err != nil {
		return nil, err
	}

	stats.ESP32Status = models.FleetStatus{Devices: statuses}
	online := make(map[string]bool, len(statuses))
	for id, s := range statuses {
		online[id] = s.Online
		if s.Online {
			stats.ESP32Status.Online = true
		}
	}

	stats.SystemStatus = models.SystemStatus{
		Database: d.db == nil || d.db.Ping(ctx) == nil,
		Email:    d.emailActive,
		Devices:  online,
	}
	return stats, nil
}

func (d *DashboardService) ChartData(ctx context.Context) (*models.ChartData, error) {
	now := d.now()
	today := d.dayStart(now)
	windowStart := today.AddDate(0, 0, -(trendDays - 1))

	times, err := d.detections.DetectionTimesSince(ctx, windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to load detection times: %w", err)
	}

	samples, err := d.detections.RecentPerformance(ctx, performanceSamples)
	if err != nil {
		return nil, fmt.Errorf("failed to load performance samples: %w", err)
	}

	data := &models.ChartData{
		DetectionTrends: d.trends(windowStart, times),
		HourlyData:      d.hourly(today, times),
		DetectionStats:  d.distribution(times),
		PerformanceData: make([]models.PerformancePoint, 0, len(samples)),
	}
	for i, s := range samples {
		data.PerformanceData = append(data.PerformanceData, models.PerformancePoint{
			Index:              i + 1,
			DSPTime:            s.DSPTime,
			ClassificationTime: s.ClassificationTime,
			AnomalyTime:        s.AnomalyTime,
		})
	}
	return data, nil
}

func (d *DashboardService) trends(windowStart time.Time, times []time.Time) []models.TrendPoint {
	points := make([]models.TrendPoint, trendDays)
	for i := range points {
		day := windowStart.AddDate(0, 0, i)
		points[i] = models.TrendPoint{
			Date:  day.Format("2006-01-02"),
			Label: day.Format("Jan 2"),
		}
	}
	for _, t := range times {
		idx := daysBetween(windowStart, d.dayStart(t))
		if idx >= 0 && idx < trendDays {
			points[idx].Detections++
		}
	}
	return points
}

func (d *DashboardService) hourly(today time.Time, times []time.Time) []models.HourPoint {
	points := make([]models.HourPoint, 24)
	for h := range points {
		points[h].Hour = fmt.Sprintf("%02d:00", h)
	}
	for _, t := range times {
		local := t.In(d.location)
		if d.dayStart(local).Equal(today) {
			points[local.Hour()].Detections++
		}
	}
	return points
}

func (d *DashboardService) distribution(times []time.Time) models.DetectionDistribution {
	slots := []models.TimeSlot{
		{Name: "Morning (06-12)", Color: "#A7C7E7"},
		{Name: "Afternoon (12-18)", Color: "#B8E6B8"},
		{Name: "Evening (18-22)", Color: "#FFD1A9"},
		{Name: "Night (22-06)", Color: "#D1C4E9"},
	}
	for _, t := range times {
		slots[timeSlot(t.In(d.location).Hour())].Value++
	}
	total := len(times)
	for i := range slots {
		slots[i].Percentage = percentage(slots[i].Value, total)
	}
	return models.DetectionDistribution{
		TotalDetections:  total,
		TimeDistribution: slots,
	}
}

// timeSlot maps an hour of day to morning, afternoon, evening or night
func timeSlot(hour int) int {
	switch {
	case hour >= 6 && hour < 12:
		return 0
	case hour >= 12 && hour < 18:
		return 1
	case hour >= 18 && hour < 22:
		return 2
	default:
		return 3
	}
}

func percentage(value, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(value)/float64(total)*1000) / 10
}

// daysBetween counts calendar days from a to b, both day starts in the same location
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// Page describes one page of a listing
type Page struct {
	Number     int
	Size       int
	Offset     int
	TotalPages int
}

// Paginate normalises zero-based page and size and computes the offset and page count
func Paginate(page, size int, total int64) Page {
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	if page < 0 {
		page = 0
	}
	return Page{
		Number:     page,
		Size:       size,
		Offset:     page * size,
		TotalPages: int((total + int64(size) - 1) / int64(size)),
	}
}

// LatestDetections returns one page of detections, newest first, with their performance samples
func (d *DashboardService) LatestDetections(ctx context.Context, page, size int) (*models.LatestDetections, error) {
	now := d.now()
	today := d.dayStart(now)
	dayAgo := now.Add(-24 * time.Hour)

	total, err := d.detections.CountDetections(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count detections: %w", err)
	}
	todayCount, err := d.detections.CountDetections(ctx, &today)
	if err != nil {
		return nil, fmt.Errorf("failed to count today's detections: %w", err)
	}
	last24, err := d.detections.CountDetections(ctx, &dayAgo)
	if err != nil {
		return nil, fmt.Errorf("failed to count last 24h detections: %w", err)
	}

	p := Paginate(page, size, total)
	rows, err := d.detections.ListDetections(ctx, p.Offset, p.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}

	ids := make([]uint, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	perf, err := d.detections.PerformanceForDetections(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load performance samples: %w", err)
	}

	items := make([]models.DetectionWithPerformance, 0, len(rows))
	for _, r := range rows {
		samples := perf[r.ID]
		if samples == nil {
			samples = []models.PerformanceSample{}
		}
		items = append(items, models.DetectionWithPerformance{Detection: r, ProcessingPerformance: samples})
	}

	d.logger.Debug("Latest detections",
		zap.Int("page", p.Number),
		zap.Int("returned", len(items)),
		zap.Int64("total", total))

	return &models.LatestDetections{
		LatestDetections: items,
		TodayCount:       todayCount,
		Last24HoursCount: last24,
		TotalCount:       total,
		CurrentPage:      p.Number,
		TotalPages:       p.TotalPages,
		ItemsPerPage:     p.Size,
	}, nil
}
