package models

import (
	"time"
)

// HumanConfidenceThreshold is the confidence above which a report without an
// explicit flag counts as a human detection
const HumanConfidenceThreshold = 0.5

// Detection is one stored detection event
type Detection struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	DeviceID        string    `gorm:"size:64;not null;index" json:"device_id"`
	Location        string    `gorm:"size:128;not null" json:"location"`
	DetectionTime   time.Time `gorm:"not null;index" json:"detection_time"`
	HumanDetected   bool      `gorm:"not null;default:false" json:"detection_human"`
	Confidence      *float64  `json:"confidence,omitempty"`
	DetectedObjects []string  `gorm:"serializer:json" json:"detected_objects,omitempty"`
	BatchID         string    `gorm:"size:64;index" json:"batch_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func (Detection) TableName() string {
	return "detections"
}

// PerformanceSample holds the processing latencies reported with a detection, in milliseconds.
// DetectionID is informational only, there is no foreign key.
type PerformanceSample struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	DetectionID        *uint     `gorm:"index" json:"detection_id,omitempty"`
	DSPTime            float64   `json:"dsp_time"`
	ClassificationTime float64   `json:"classification_time"`
	AnomalyTime        float64   `json:"anomaly_time"`
	CreatedAt          time.Time `json:"created_at"`
}

func (PerformanceSample) TableName() string {
	return "processing_performance"
}

// NotificationEmail is one alert recipient
type NotificationEmail struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	Email string `gorm:"size:255;not null" json:"email"`
}

func (NotificationEmail) TableName() string {
	return "emails"
}

// DetectionReport is the inbound payload of a single detection
type DetectionReport struct {
	DeviceID           string   `json:"device_id"`
	Location           string   `json:"location"`
	DSPTime            *float64 `json:"dsp_time,omitempty"`
	ClassificationTime *float64 `json:"classification_time,omitempty"`
	AnomalyTime        *float64 `json:"anomaly_time,omitempty"`
	Confidence         *float64 `json:"confidence,omitempty"`
	HumanDetected      *bool    `json:"human_detected,omitempty"`
	DetectedObjects    []string `json:"detected_objects,omitempty"`
	DetectionTime      string   `json:"detection_time,omitempty"`
}

// Valid reports whether the report carries the required fields
func (r *DetectionReport) Valid() bool {
	return r.DeviceID != "" && r.Location != ""
}

// HasTiming reports whether any latency measurement was supplied
func (r *DetectionReport) HasTiming() bool {
	return r.DSPTime != nil || r.ClassificationTime != nil || r.AnomalyTime != nil
}

// IsHumanDetected is the single definition of "a human was present": the explicit
// flag wins, otherwise confidence must exceed HumanConfidenceThreshold.
func IsHumanDetected(flag *bool, confidence *float64) bool {
	if flag != nil {
		return *flag
	}
	if confidence != nil {
		return *confidence > HumanConfidenceThreshold
	}
	return false
}

// DetectionBatch is a request carrying one or more reports
type DetectionBatch struct {
	BatchID string
	Reports []DetectionReport
	// Batch is false for the single-report form, where an invalid report fails the request
	Batch bool
}

// DetectionRequest is the wire form shared by the HTTP endpoint and queued reports:
// either one flat report, or a batch under "detections"
type DetectionRequest struct {
	DetectionReport
	BatchID    string            `json:"batch_id,omitempty"`
	Detections []DetectionReport `json:"detections,omitempty"`
}

// ToBatch converts the request into the batch processed by the detection service
func (r *DetectionRequest) ToBatch() DetectionBatch {
	if r.Detections != nil {
		return DetectionBatch{BatchID: r.BatchID, Reports: r.Detections, Batch: true}
	}
	return DetectionBatch{Reports: []DetectionReport{r.DetectionReport}}
}
