package models

// DashboardStats is the payload of the aggregate stats endpoint
type DashboardStats struct {
	EmailCount          int64        `json:"emailCount"`
	TodayDetectionCount int64        `json:"todayDetectionCount"`
	TotalDetectionCount int64        `json:"totalDetectionCount"`
	Last24HoursCount    int64        `json:"last24HoursCount"`
	HumanDetectionCount int64        `json:"humanDetectionCount"`
	UniqueDeviceCount   int64        `json:"uniqueDeviceCount"`
	ESP32Status         FleetStatus  `json:"esp32Status"`
	SystemStatus        SystemStatus `json:"systemStatus"`
}

// FleetStatus summarises the dashboard devices
type FleetStatus struct {
	Online  bool                    `json:"online"`
	Devices map[string]DeviceStatus `json:"devices"`
}

// SystemStatus flags the health of each subsystem
type SystemStatus struct {
	Database bool            `json:"database"`
	Email    bool            `json:"email"`
	Devices  map[string]bool `json:"devices"`
}

// TrendPoint is the detection count of one day
type TrendPoint struct {
	Date       string `json:"date"`
	Label      string `json:"label"`
	Detections int    `json:"detections"`
}

// HourPoint is the detection count of one hour of the current day
type HourPoint struct {
	Hour       string `json:"hour"`
	Detections int    `json:"detections"`
}

// TimeSlot is one coarse time-of-day bucket
type TimeSlot struct {
	Name       string  `json:"name"`
	Value      int     `json:"value"`
	Color      string  `json:"color"`
	Percentage float64 `json:"percentage"`
}

// DetectionDistribution groups detections by time of day
type DetectionDistribution struct {
	TotalDetections  int        `json:"totalDetections"`
	TimeDistribution []TimeSlot `json:"timeDistribution"`
}

// PerformancePoint is one indexed latency sample for the performance chart
type PerformancePoint struct {
	Index              int     `json:"index"`
	DSPTime            float64 `json:"dsp_time"`
	ClassificationTime float64 `json:"classification_time"`
	AnomalyTime        float64 `json:"anomaly_time"`
}

// ChartData is the payload of the chart-data endpoint
type ChartData struct {
	DetectionTrends []TrendPoint          `json:"detectionTrends"`
	HourlyData      []HourPoint           `json:"hourlyData"`
	DetectionStats  DetectionDistribution `json:"detectionStats"`
	PerformanceData []PerformancePoint    `json:"performanceData"`
}

// DetectionWithPerformance is a detection row joined with its latency samples
type DetectionWithPerformance struct {
	Detection
	ProcessingPerformance []PerformanceSample `json:"processing_performance"`
}

// LatestDetections is the payload of the paginated detections endpoint
type LatestDetections struct {
	LatestDetections []DetectionWithPerformance `json:"latestDetections"`
	TodayCount       int64                      `json:"todayCount"`
	Last24HoursCount int64                      `json:"last24HoursCount"`
	TotalCount       int64                      `json:"totalCount"`
	CurrentPage      int                        `json:"currentPage"`
	TotalPages       int                        `json:"totalPages"`
	ItemsPerPage     int                        `json:"itemsPerPage"`
}
