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

// AttemptHandler serves persisted attempt history.
type AttemptHandler struct {
	attemptService *service.AttemptService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService) *AttemptHandler {
	return &AttemptHandler{attemptService: attemptService}
}

// MyAttempts godoc
// GET /api/v1/attempts
// Lists the learner's completed attempts.
func (h *AttemptHandler) MyAttempts(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attempts, err := h.attemptService.History(c.Request.Context(), claims.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// ListByTest godoc
// GET /api/v1/admin/tests/:id/attempts?page=&per_page=
// Lists a test's attempts with pagination.
func (h *AttemptHandler) ListByTest(c *gin.Context) {
	testID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var q model.PageQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempts, pagination, err := h.attemptService.ListByTest(c.Request.Context(), testID, q.Page, q.PerPage)
	if err != nil {
		fail(c, err)
		return
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": attempts}, pagination)
}
