package model

import (
	"time"
)

// TurnStatus is the outcome of one turn.
type TurnStatus string

const (
	TurnOK     TurnStatus = "ok"
	TurnFailed TurnStatus = "failed"
)

// Turn records one request/response exchange with the model.
type Turn struct {
	Stage  Stage      `json:"stage"`
	Status TurnStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
	At     time.Time  `json:"at"`
}

// CreateSessionRequest is the request to start a session.
type CreateSessionRequest struct {
	Mode      Mode                   `json:"mode"`
	Selection *ArchitectureSelection `json:"selection,omitempty"`
}

// SessionView is the display form of a session.
type SessionView struct {
	ID             string                 `json:"id"`
	Mode           Mode                   `json:"mode"`
	State          string                 `json:"state"`
	Selection      *ArchitectureSelection `json:"selection,omitempty"`
	Image          *ImageInfo             `json:"image,omitempty"`
	Identification string                 `json:"identification,omitempty"`
	Result         *Result                `json:"result,omitempty"`
	MessageCount   int                    `json:"message_count"`
	Turns          []Turn                 `json:"turns"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}
