package models

import "time"

// HumanEvent is one human detection summarised in an alert
type HumanEvent struct {
	DetectionID        uint      `json:"detection_id"`
	DeviceID           string    `json:"device_id"`
	Location           string    `json:"location"`
	DetectionTime      time.Time `json:"detection_time"`
	Confidence         *float64  `json:"confidence,omitempty"`
	DSPTime            *float64  `json:"dsp_time,omitempty"`
	ClassificationTime *float64  `json:"classification_time,omitempty"`
	AnomalyTime        *float64  `json:"anomaly_time,omitempty"`
}

// DetectionAlert is the single notification sent per ingestion request
type DetectionAlert struct {
	BatchID   string       `json:"batch_id,omitempty"`
	Events    []HumanEvent `json:"events"`
	CreatedAt time.Time    `json:"created_at"`
}

// Locations returns the distinct locations of the alert in first-seen order
func (a *DetectionAlert) Locations() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range a.Events {
		if !seen[e.Location] {
			seen[e.Location] = true
			out = append(out, e.Location)
		}
	}
	return out
}

// MaxConfidence returns the highest reported confidence, or nil when none was reported
func (a *DetectionAlert) MaxConfidence() *float64 {
	var best *float64
	for _, e := range a.Events {
		if e.Confidence == nil {
			continue
		}
		if best == nil || *e.Confidence > *best {
			c := *e.Confidence
			best = &c
		}
	}
	return best
}
