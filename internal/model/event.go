package model

import (
	"time"
)

// EventType represents the type of session event.
type EventType string

const (
	EventImageReceived      EventType = "image_received"
	EventServicesIdentified EventType = "services_identified"
	EventResultDisplayed    EventType = "result_displayed"
	EventFollowUp           EventType = "follow_up"
	EventTurnFailed         EventType = "turn_failed"
	EventSessionEnded       EventType = "session_ended"
)

// SessionEvent is a lifecycle notification for a session.
type SessionEvent struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	Type      EventType      `json:"type"`
	Stage     Stage          `json:"stage,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
