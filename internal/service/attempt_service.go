package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/gate-backend/internal/model"
	"github.com/stemsi/gate-backend/internal/response"
)

// AttemptLister reads persisted attempts.
type AttemptLister interface {
	ListByTest(ctx context.Context, testID uuid.UUID, limit, offset int) ([]model.Attempt, int64, error)
	ListByUser(ctx context.Context, userID int) ([]model.Attempt, error)
}

// AttemptService exposes attempt history to learners and administrators.
type AttemptService struct {
	attempts AttemptLister
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(attempts AttemptLister) *AttemptService {
	return &AttemptService{attempts: attempts}
}

// History returns a learner's attempts, newest first.
func (s *AttemptService) History(ctx context.Context, userID int) ([]model.Attempt, error) {
	attempts, err := s.attempts.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	return attempts, nil
}

// ListByTest returns a page of a test's attempts for the console.
func (s *AttemptService) ListByTest(ctx context.Context, testID uuid.UUID, page, perPage int) ([]model.Attempt, *response.Pagination, error) {
	page, perPage, limit, offset := response.NormalizePage(page, perPage)

	attempts, total, err := s.attempts.ListByTest(ctx, testID, limit, offset)
	if err != nil {
		return nil, nil, fmt.Errorf("list attempts: %w", err)
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	return attempts, response.NewPagination(page, perPage, total), nil
}
