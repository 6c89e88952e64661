package handler

import (
	"net/http"

	"github.com/capitalize-ai/cost-estimator/internal/model"
	"github.com/capitalize-ai/cost-estimator/internal/service"
	"github.com/capitalize-ai/cost-estimator/pkg/logger"
)

// MessageHandler handles conversation history endpoints.
type MessageHandler struct {
	sessions *service.SessionService
	logger   *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(sessions *service.SessionService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		sessions: sessions,
		logger:   log,
	}
}

// List handles GET /api/v1/sessions/:id/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	sess, ok := loadSession(w, r, h.sessions, h.logger)
	if !ok {
		return
	}

	conv := sess.Conversation()
	writeJSON(w, http.StatusOK, &model.ListMessagesResponse{
		ConversationID: conv.ID,
		Messages:       conv.Views(),
	})
}
