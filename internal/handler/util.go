package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/cost-estimator/internal/diagram"
	"github.com/capitalize-ai/cost-estimator/internal/llm"
	"github.com/capitalize-ai/cost-estimator/internal/middleware"
	"github.com/capitalize-ai/cost-estimator/internal/model"
	"github.com/capitalize-ai/cost-estimator/internal/service"
	"github.com/capitalize-ai/cost-estimator/pkg/logger"
)

// modelFailureNotice is shown instead of the backend's error text.
const modelFailureNotice = "The model request failed. Please try again."

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// errorStatus maps a domain error to an HTTP status and a client-safe message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, service.ErrSessionBusy):
		return http.StatusConflict, "session is busy with another request"
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrInvalidMode), errors.Is(err, model.ErrInvalidSelection):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, diagram.ErrUnsupportedImageFormat):
		return http.StatusUnsupportedMediaType, "diagram must be a PNG or JPEG image"
	case errors.Is(err, diagram.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge, "diagram is too large"
	case errors.Is(err, diagram.ErrEmptyImage):
		return http.StatusBadRequest, "diagram is empty"
	case errors.Is(err, service.ErrNothingIdentified):
		return http.StatusUnprocessableEntity, "no cloud services were identified in the diagram"
	case errors.Is(err, llm.ErrModelRequestFailed):
		return http.StatusBadGateway, modelFailureNotice
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeServiceError writes err as a JSON error. Server-side causes are logged,
// never returned.
func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, msg)
}

// loadSession resolves the {id} URL parameter to a session owned by the caller.
func loadSession(w http.ResponseWriter, r *http.Request, sessions *service.SessionService, log *logger.Logger) (*service.Session, bool) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	sess, err := sessions.Get(r.Context(), middleware.GetUserID(r.Context()), sessionID)
	if err != nil {
		writeServiceError(w, log, err)
		return nil, false
	}
	return sess, true
}
