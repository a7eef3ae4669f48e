package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/gate-backend/internal/assessment"
	"github.com/stemsi/gate-backend/internal/response"
	"github.com/stemsi/gate-backend/internal/service"
)

// statusFor maps domain errors to an HTTP status and error code.
func statusFor(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, response.ErrInvalidCredentials
	case errors.Is(err, service.ErrTestNotFound):
		return http.StatusNotFound, response.ErrTestNotFound
	case errors.Is(err, service.ErrTestNotPublished):
		return http.StatusNotFound, response.ErrTestNotPublished
	case errors.Is(err, service.ErrDuplicateTitle):
		return http.StatusConflict, response.ErrConflict
	case errors.Is(err, service.ErrTestNotDraft):
		return http.StatusConflict, response.ErrTestNotDraft
	case errors.Is(err, service.ErrNoQuestions):
		return http.StatusUnprocessableEntity, response.ErrNoQuestions
	case errors.Is(err, service.ErrInvalidAnswerKey), errors.Is(err, service.ErrDuplicateLabel):
		return http.StatusBadRequest, response.ErrInvalidAnswerKey
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotFound
	case errors.Is(err, service.ErrSessionNotOwned):
		return http.StatusForbidden, response.ErrForbidden
	case errors.Is(err, service.ErrUnknownAction):
		return http.StatusBadRequest, response.ErrInvalidPayload
	case errors.Is(err, assessment.ErrInvalidIndex):
		return http.StatusBadRequest, response.ErrInvalidIndex
	case errors.Is(err, assessment.ErrUnknownOption):
		return http.StatusBadRequest, response.ErrUnknownOption
	case errors.Is(err, service.ErrNoteNotFound):
		return http.StatusNotFound, response.ErrNoteNotFound
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

func fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		zerolog.Ctx(c.Request.Context()).Error().Err(err).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}

// parseUUIDParam reads a UUID path parameter, writing a 400 on failure.
func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
