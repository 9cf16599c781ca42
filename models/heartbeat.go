package models

import (
	"time"
)

// DeviceType tags what kind of ESP32 board sent a heartbeat
type DeviceType string

const (
	DeviceCamera  DeviceType = "camera"
	DeviceGateway DeviceType = "gateway"
)

// Heartbeat represents the periodic alive signal posted by ESP32 devices
type Heartbeat struct {
	DeviceID     string     `json:"device_id"`
	Timestamp    int64      `json:"timestamp"`
	Location     string     `json:"location,omitempty"`
	Version      string     `json:"version,omitempty"`
	WiFiStrength *int       `json:"wifi_strength,omitempty"`
	Uptime       *int64     `json:"uptime,omitempty"`
	FreeHeap     *int64     `json:"free_heap,omitempty"`
	DeviceType   DeviceType `json:"device_type,omitempty"`
	Status       string     `json:"status,omitempty"`
}

// DeviceRecord is the last heartbeat of a device together with the server receive time.
// ReceivedAt is the only timestamp used for liveness.
type DeviceRecord struct {
	Heartbeat  Heartbeat `json:"heartbeat"`
	ReceivedAt time.Time `json:"received_at"`
}

// DeviceStatus is the liveness view of a device returned to dashboards
type DeviceStatus struct {
	DeviceID          string     `json:"device_id,omitempty"`
	Online            bool       `json:"online"`
	LastSeen          *time.Time `json:"lastSeen"`
	Location          string     `json:"location,omitempty"`
	Version           string     `json:"version,omitempty"`
	SignalStrength    *int       `json:"signal_strength,omitempty"`
	Uptime            *int64     `json:"uptime,omitempty"`
	FreeHeap          *int64     `json:"free_heap,omitempty"`
	DeviceType        DeviceType `json:"device_type,omitempty"`
	TimeSinceLastSeen *int64     `json:"timeSinceLastSeen,omitempty"`
	TimeoutUsed       *int64     `json:"timeout_used,omitempty"`
}
