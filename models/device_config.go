package models

import "time"

// DeviceConfigRequest is the configuration pushed to an ESP32 from the dashboard
type DeviceConfigRequest struct {
	DeviceID string   `json:"device_id,omitempty"`
	SSID     string   `json:"ssid"`
	Password string   `json:"password"`
	Emails   []string `json:"emails"`
	AppToken string   `json:"appToken"`
}

type WiFiConfig struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

type NotificationConfig struct {
	Emails []string `json:"emails"`
	Token  string   `json:"token"`
}

// DeviceConfig is the message the firmware reads from its config topic
type DeviceConfig struct {
	WiFi          WiFiConfig         `json:"wifi"`
	Notifications NotificationConfig `json:"notifications"`
	Timestamp     time.Time          `json:"timestamp"`
}

// ConfigureResult echoes what was sent without the secrets
type ConfigureResult struct {
	DeviceID   string    `json:"device_id"`
	Topic      string    `json:"topic"`
	SSID       string    `json:"ssid"`
	EmailCount int       `json:"emailCount"`
	Timestamp  time.Time `json:"timestamp"`
}
