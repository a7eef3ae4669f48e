package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/gate-backend/internal/middleware"
	"github.com/stemsi/gate-backend/internal/model"
	"github.com/stemsi/gate-backend/internal/response"
	"github.com/stemsi/gate-backend/internal/service"
	"github.com/stemsi/gate-backend/internal/validator"
)

// SessionHandler drives live test sessions over REST.
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// StartSession godoc
// POST /api/v1/tests/:id/sessions
// Starts a timed session, or returns the learner's unfinished one (200).
func (h *SessionHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	testID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	view, err := h.sessionService.Start(c.Request.Context(), claims.UserID, testID)
	switch {
	case errors.Is(err, service.ErrSessionAlreadyActive):
		response.Success(c, http.StatusOK, view)
	case err != nil:
		fail(c, err)
	default:
		response.Success(c, http.StatusCreated, view)
	}
}

// GetSession godoc
// GET /api/v1/sessions/:id
// Returns the current state of a session. A completed session also carries
// its graded attempt until it is evicted.
func (h *SessionHandler) GetSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	sessionID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	view, err := h.sessionService.Get(c.Request.Context(), claims.UserID, sessionID)
	if err != nil {
		fail(c, err)
		return
	}

	attempt, done, err := h.sessionService.Attempt(claims.UserID, sessionID)
	if err != nil {
		fail(c, err)
		return
	}
	if !done {
		response.Success(c, http.StatusOK, gin.H{"session": view})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": view, "attempt": attempt})
}

// Dispatch godoc
// POST /api/v1/sessions/:id/actions
// Applies one learner intent and returns the resulting state.
func (h *SessionHandler) Dispatch(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	sessionID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var intent model.Intent
	if fields := validator.Bind(c, &intent); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.sessionService.Dispatch(c.Request.Context(), claims.UserID, sessionID, intent)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}
