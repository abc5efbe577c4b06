package events

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/guardianlink/guardian/internal/db"
)

func TestAlertEvent_Marshal(t *testing.T) {
	channel := "all"
	alert := &db.EmergencyAlert{
		ID:          uuid.New(),
		DeviceID:    "device-1",
		Timestamp:   1724800000000,
		Lat:         12.9716,
		Lng:         77.5946,
		Status:      db.AlertStatusSent,
		Message:     "🚨 GUARDIAN SOS 🚨",
		ChannelUsed: &channel,
	}

	evt := AlertEvent{
		EventType:   EventAlertTriggered,
		AlertID:     alert.ID.String(),
		DeviceID:    alert.DeviceID,
		Timestamp:   alert.Timestamp,
		Lat:         alert.Lat,
		Lng:         alert.Lng,
		Status:      alert.Status,
		Message:     alert.Message,
		ChannelUsed: *alert.ChannelUsed,
		PublishedAt: 1234567890,
	}

	body, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded AlertEvent
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.EventType != EventAlertTriggered {
		t.Errorf("event type mismatch: got %s, want %s", decoded.EventType, EventAlertTriggered)
	}
	if decoded.AlertID != evt.AlertID {
		t.Errorf("alert id mismatch: got %s, want %s", decoded.AlertID, evt.AlertID)
	}
	if decoded.Lat != evt.Lat || decoded.Lng != evt.Lng {
		t.Errorf("coordinates mismatch: got (%f,%f), want (%f,%f)", decoded.Lat, decoded.Lng, evt.Lat, evt.Lng)
	}
	if decoded.ChannelUsed != "all" {
		t.Errorf("channel mismatch: got %s, want all", decoded.ChannelUsed)
	}
}

func TestAlertEvent_OmitsEmptyChannel(t *testing.T) {
	evt := AlertEvent{
		EventType: EventAlertResolved,
		AlertID:   uuid.New().String(),
		DeviceID:  "device-1",
		Status:    db.AlertStatusResolved,
	}

	body, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if _, present := raw["channel_used"]; present {
		t.Error("channel_used should be omitted when empty")
	}
	if _, present := raw["message"]; present {
		t.Error("message should be omitted when empty")
	}
}
