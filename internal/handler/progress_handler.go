package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/gate-backend/internal/middleware"
	"github.com/stemsi/gate-backend/internal/model"
	"github.com/stemsi/gate-backend/internal/response"
	"github.com/stemsi/gate-backend/internal/service"
	"github.com/stemsi/gate-backend/internal/validator"
)

// ProgressHandler serves lesson progress, notes and achievements.
type ProgressHandler struct {
	progressService *service.ProgressService
}

// NewProgressHandler creates a new ProgressHandler.
func NewProgressHandler(progressService *service.ProgressService) *ProgressHandler {
	return &ProgressHandler{progressService: progressService}
}

// RecordVideo godoc
// PUT /api/v1/progress/videos/:lesson_id
func (h *ProgressHandler) RecordVideo(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.RecordVideoProgressRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	progress, unlocked, err := h.progressService.RecordVideoProgress(c.Request.Context(),
		claims.UserID, c.Param("lesson_id"), req.PositionSeconds, req.DurationSeconds)
	if err != nil {
		fail(c, err)
		return
	}
	if unlocked == nil {
		unlocked = []model.Achievement{}
	}
	response.Success(c, http.StatusOK, gin.H{"progress": progress, "unlocked": unlocked})
}

// GetVideo godoc
// GET /api/v1/progress/videos/:lesson_id
func (h *ProgressHandler) GetVideo(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	progress, err := h.progressService.VideoProgress(c.Request.Context(), claims.UserID, c.Param("lesson_id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, progress)
}

// ListVideos godoc
// GET /api/v1/progress/videos
func (h *ProgressHandler) ListVideos(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	videos, err := h.progressService.ListVideoProgress(c.Request.Context(), claims.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"videos": videos})
}

// AddNote godoc
// POST /api/v1/progress/notes
func (h *ProgressHandler) AddNote(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.AddNoteRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	note, err := h.progressService.AddNote(c.Request.Context(), claims.UserID, req.LessonID, req.Text, req.AtSeconds)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, note)
}

// ListNotes godoc
// GET /api/v1/progress/notes/:lesson_id
func (h *ProgressHandler) ListNotes(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	notes, err := h.progressService.ListNotes(c.Request.Context(), claims.UserID, c.Param("lesson_id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"notes": notes})
}

// DeleteNote godoc
// DELETE /api/v1/progress/notes/:note_id
func (h *ProgressHandler) DeleteNote(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	noteID, ok := parseUUIDParam(c, "note_id")
	if !ok {
		return
	}

	if err := h.progressService.DeleteNote(c.Request.Context(), claims.UserID, noteID); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// ListAchievements godoc
// GET /api/v1/progress/achievements
func (h *ProgressHandler) ListAchievements(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	achievements, err := h.progressService.ListAchievements(c.Request.Context(), claims.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"achievements": achievements})
}
