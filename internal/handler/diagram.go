package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/capitalize-ai/cost-estimator/internal/diagram"
	"github.com/capitalize-ai/cost-estimator/internal/service"
	"github.com/capitalize-ai/cost-estimator/pkg/logger"
)

// DiagramFormField is the multipart field carrying the diagram.
const DiagramFormField = "diagram"

// multipartOverhead leaves room for the form envelope around the image.
const multipartOverhead = 1 << 20

// DiagramHandler handles diagram upload and retry.
type DiagramHandler struct {
	sessions     *service.SessionService
	orchestrator *service.Orchestrator
	maxBytes     int
	logger       *logger.Logger
}

// NewDiagramHandler creates a new diagram handler.
func NewDiagramHandler(sessions *service.SessionService, orch *service.Orchestrator, maxBytes int, log *logger.Logger) *DiagramHandler {
	return &DiagramHandler{
		sessions:     sessions,
		orchestrator: orch,
		maxBytes:     maxBytes,
		logger:       log,
	}
}

// Upload handles POST /api/v1/sessions/:id/diagram
// The response is sent once identification and the stage-2 call finish.
func (h *DiagramHandler) Upload(w http.ResponseWriter, r *http.Request) {
	sess, ok := loadSession(w, r, h.sessions, h.logger)
	if !ok {
		return
	}

	// A zero limit means no limit, as in diagram.Decode.
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxBytes)+multipartOverhead)
	}

	file, _, err := r.FormFile(DiagramFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeServiceError(w, h.logger, diagram.ErrImageTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"diagram\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read diagram")
		return
	}

	resp, err := h.orchestrator.Upload(r.Context(), sess, data)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Retry handles POST /api/v1/sessions/:id/retry
func (h *DiagramHandler) Retry(w http.ResponseWriter, r *http.Request) {
	sess, ok := loadSession(w, r, h.sessions, h.logger)
	if !ok {
		return
	}

	resp, err := h.orchestrator.Retry(r.Context(), sess)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
