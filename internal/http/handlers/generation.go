package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lumenlearn/coursegen-backend/internal/http/response"
	apperrors "github.com/lumenlearn/coursegen-backend/internal/pkg/errors"
	"github.com/lumenlearn/coursegen-backend/internal/pkg/logger"
	"github.com/lumenlearn/coursegen-backend/internal/services"
	"github.com/lumenlearn/coursegen-backend/internal/sse"
)

// GenerationHandler exposes the generation run lifecycle over HTTP. There
// is no auth layer here; callers identify themselves with X-User-ID.
type GenerationHandler struct {
	log *logger.Logger
	svc services.CourseGenerationService
	hub *sse.Hub
}

func NewGenerationHandler(baseLog *logger.Logger, svc services.CourseGenerationService, hub *sse.Hub) *GenerationHandler {
	return &GenerationHandler{
		log: baseLog.With("handler", "GenerationHandler"),
		svc: svc,
		hub: hub,
	}
}

func userIDFrom(c *gin.Context) uuid.UUID {
	id, err := uuid.Parse(c.GetHeader("X-User-ID"))
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Enqueue handles POST /api/generations.
func (h *GenerationHandler) Enqueue(c *gin.Context) {
	userID := userIDFrom(c)
	if userID == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "missing_user", nil)
		return
	}

	var in services.EnqueueInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	run, err := h.svc.Enqueue(c.Request.Context(), userID, in)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidArgument) {
			response.RespondError(c, http.StatusBadRequest, "invalid_input", err)
			return
		}
		h.log.Error("Enqueue failed", "user_id", userID, "error", err.Error())
		response.RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}
	response.RespondAccepted(c, gin.H{"run": run})
}

// GetRun handles GET /api/generations/:id.
func (h *GenerationHandler) GetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "bad_run_id", err)
		return
	}
	run, err := h.svc.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			response.RespondError(c, http.StatusNotFound, "run_not_found", nil)
			return
		}
		h.log.Error("GetRun failed", "run_id", runID, "error", err.Error())
		response.RespondError(c, http.StatusInternalServerError, "load_run_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"run": run})
}

// GetCourseRun handles GET /api/courses/:id/generation.
func (h *GenerationHandler) GetCourseRun(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "bad_course_id", err)
		return
	}
	run, err := h.svc.GetLatestRunByCourse(c.Request.Context(), courseID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			response.RespondError(c, http.StatusNotFound, "run_not_found", nil)
			return
		}
		h.log.Error("GetCourseRun failed", "course_id", courseID, "error", err.Error())
		response.RespondError(c, http.StatusInternalServerError, "load_run_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"run": run})
}

// Cancel handles POST /api/generations/:id/cancel.
func (h *GenerationHandler) Cancel(c *gin.Context) {
	userID := userIDFrom(c)
	if userID == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "missing_user", nil)
		return
	}
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "bad_run_id", err)
		return
	}
	if err := h.svc.Cancel(c.Request.Context(), userID, runID); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			response.RespondError(c, http.StatusNotFound, "run_not_found", nil)
		case errors.Is(err, apperrors.ErrConflict):
			response.RespondError(c, http.StatusConflict, "run_finished", err)
		default:
			h.log.Error("Cancel failed", "run_id", runID, "error", err.Error())
			response.RespondError(c, http.StatusInternalServerError, "cancel_failed", err)
		}
		return
	}
	response.RespondOK(c, gin.H{"canceled": true})
}

// Stream handles GET /api/courses/:id/events and attaches the caller to the
// course's SSE channel until the connection drops.
func (h *GenerationHandler) Stream(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "bad_course_id", err)
		return
	}

	client := h.hub.NewClient(userIDFrom(c))
	h.hub.AddChannel(client, sse.CourseChannel(courseID))
	defer h.hub.CloseClient(client)

	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
