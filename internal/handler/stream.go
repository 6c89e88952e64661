package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/cost-estimator/internal/middleware"
	"github.com/capitalize-ai/cost-estimator/internal/model"
	"github.com/capitalize-ai/cost-estimator/internal/service"
	"github.com/capitalize-ai/cost-estimator/pkg/logger"
	"github.com/capitalize-ai/cost-estimator/pkg/metrics"
)

// StreamHandler streams follow-up replies over SSE.
type StreamHandler struct {
	sessions     *service.SessionService
	orchestrator *service.Orchestrator
	logger       *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(sessions *service.SessionService, orch *service.Orchestrator, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		sessions:     sessions,
		orchestrator: orch,
		logger:       log,
	}
}

// Send handles POST /api/v1/sessions/:id/messages
// Errors before the first fragment are plain JSON responses; once the stream
// has started they arrive as an "error" event.
func (h *StreamHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, ok := loadSession(w, r, h.sessions, h.logger)
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		metrics.IncrementSSEConnections()
	}
	defer func() {
		if started {
			metrics.DecrementSSEConnections()
		}
	}()

	complete, err := h.orchestrator.FollowUp(ctx, sess, req.Content, func(token string, index int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		start()
		return sendSSEEvent(w, flusher, "token", &model.TokenEvent{
			Token: token,
			Index: index,
		})
	})

	if err != nil {
		if !started {
			writeServiceError(w, h.logger, err)
			return
		}
		if ctx.Err() != nil {
			h.logger.Info("SSE client disconnected", zap.String("session_id", sess.ID))
			return
		}
		_, msg := errorStatus(err)
		sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
			Code:    errorCode(err),
			Message: msg,
		})
		return
	}

	start()
	sendSSEEvent(w, flusher, "message_complete", complete)
	sendSSEEvent(w, flusher, "done", map[string]bool{"success": true})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrSessionBusy):
		return "session_busy"
	case errors.Is(err, service.ErrInvalidTransition):
		return "invalid_state"
	default:
		return "model_request_failed"
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
