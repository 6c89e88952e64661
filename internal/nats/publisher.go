package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/capitalize-ai/cost-estimator/internal/model"
)

// SubjectPrefix is the prefix for all session subjects.
const SubjectPrefix = "costest"

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
}

// EventPublisher fans session events out on core NATS subjects. Delivery is
// fire-and-forget; nothing is retained by the server.
type EventPublisher struct {
	conn conn
}

// NewEventPublisher creates a publisher on the client's connection.
func NewEventPublisher(client *Client) *EventPublisher {
	return &EventPublisher{conn: client.Conn()}
}

// EventSubject returns the subject for a session event.
func EventSubject(userID, sessionID string, eventType model.EventType) string {
	if userID == "" {
		userID = "anonymous"
	}
	return fmt.Sprintf("%s.%s.%s.event.%s", SubjectPrefix, userID, sessionID, eventType)
}

// SessionFilter returns the wildcard subject for every event of a session.
func SessionFilter(userID, sessionID string) string {
	if userID == "" {
		userID = "anonymous"
	}
	return fmt.Sprintf("%s.%s.%s.>", SubjectPrefix, userID, sessionID)
}

// PublishEvent publishes event on its session subject.
func (p *EventPublisher) PublishEvent(ctx context.Context, event *model.SessionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := EventSubject(event.UserID, event.SessionID, event.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
