package db

import (
	"time"

	"github.com/google/uuid"
)

// Contact is an emergency contact. Phones are free text with no uniqueness
// constraint; the same number may back several contacts.
type Contact struct {
	ID        uuid.UUID `json:"id"`
	DeviceID  string    `json:"device_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Relation  string    `json:"relation"`
	CreatedAt time.Time `json:"created_at"`
}

// Alert status constants
const (
	AlertStatusSent      = "sent"
	AlertStatusResponded = "responded"
	AlertStatusResolved  = "resolved"
)

// EmergencyAlert is one recorded dispatch attempt, successful or not.
// Alerts are appended to the front of the history and never deleted by
// the system; only the status field changes after creation (responder
// flow: sent -> responded -> resolved).
type EmergencyAlert struct {
	ID           uuid.UUID `json:"id"`
	DeviceID     string    `json:"device_id"`
	Timestamp    int64     `json:"timestamp"` // epoch milliseconds
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	AudioClipURL *string   `json:"audio_clip_url,omitempty"` // data URI
	PhotoURL     *string   `json:"photo_url,omitempty"`      // data URI
	Status       string    `json:"status"`
	Message      string    `json:"message"`
	ChannelUsed  *string   `json:"channel_used,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
