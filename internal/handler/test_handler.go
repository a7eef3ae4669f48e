package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/gate-backend/internal/model"
	"github.com/stemsi/gate-backend/internal/response"
	"github.com/stemsi/gate-backend/internal/service"
	"github.com/stemsi/gate-backend/internal/validator"
)

// TestHandler serves the learner catalog and the admin test console.
type TestHandler struct {
	testService *service.TestService
}

// NewTestHandler creates a new TestHandler.
func NewTestHandler(testService *service.TestService) *TestHandler {
	return &TestHandler{testService: testService}
}

// ListTests godoc
// GET /api/v1/tests?subject=
// Lists published tests, optionally narrowed to one subject.
func (h *TestHandler) ListTests(c *gin.Context) {
	subject := model.Subject(strings.ToUpper(c.Query("subject")))
	switch subject {
	case "", model.SubjectAbstractReasoning, model.SubjectReadingComprehension, model.SubjectWriting:
	default:
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{"subject": "subject must be one of ABSTRACT_REASONING READING_COMPREHENSION WRITING"})
		return
	}

	tests, err := h.testService.ListPublished(c.Request.Context(), subject)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"tests": tests})
}

// GetPaper godoc
// GET /api/v1/tests/:id
// Returns a published test's questions without the answer key.
func (h *TestHandler) GetPaper(c *gin.Context) {
	testID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	paper, err := h.testService.GetPaper(c.Request.Context(), testID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, paper)
}

// CreateTest godoc
// POST /api/v1/admin/tests
// Creates a draft test.
func (h *TestHandler) CreateTest(c *gin.Context) {
	var req model.CreateTestRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	t, err := h.testService.Create(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, t)
}

// AddQuestions godoc
// POST /api/v1/admin/tests/:id/questions
// Appends questions to a draft test.
func (h *TestHandler) AddQuestions(c *gin.Context) {
	testID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req model.AddQuestionsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	questions, err := h.testService.AddQuestions(c.Request.Context(), testID, req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"questions": questions})
}

// Publish godoc
// POST /api/v1/admin/tests/:id/publish
// Opens a draft test to learners.
func (h *TestHandler) Publish(c *gin.Context) {
	testID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	t, err := h.testService.Publish(c.Request.Context(), testID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, t)
}
