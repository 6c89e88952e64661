package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/cost-estimator/internal/model"
	"github.com/capitalize-ai/cost-estimator/pkg/logger"
)

// EventPublisher receives session lifecycle events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.SessionEvent) error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) PublishEvent(context.Context, *model.SessionEvent) error {
	return nil
}

// publish never fails the turn; a lost notification is only logged.
func publish(ctx context.Context, p EventPublisher, log *logger.Logger, sess *Session, typ model.EventType, stage model.Stage, reason string, meta map[string]any) {
	event := &model.SessionEvent{
		ID:        newID(),
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Type:      typ,
		Stage:     stage,
		Reason:    reason,
		Metadata:  meta,
		CreatedAt: time.Now(),
	}
	if err := p.PublishEvent(ctx, event); err != nil {
		log.Warn("failed to publish session event",
			zap.String("session_id", sess.ID),
			zap.String("event", string(typ)),
			zap.Error(err),
		)
	}
}
