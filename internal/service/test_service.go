package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/gate-backend/internal/config"
	"github.com/stemsi/gate-backend/internal/model"
	"golang.org/x/sync/singleflight"
)

// Domain errors.
var (
	ErrTestNotFound     = errors.New("test not found")
	ErrTestNotPublished = errors.New("test status is not PUBLISHED")
	ErrTestNotDraft     = errors.New("test status is not DRAFT")
	ErrNoQuestions      = errors.New("test has no questions")
	ErrInvalidAnswerKey = errors.New("correct option is not among the question's options")
	ErrDuplicateLabel   = errors.New("option labels must be unique within a question")
	ErrDuplicateTitle   = errors.New("a test with this title already exists")
)

// TestStore is the test persistence TestService depends on.
type TestStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error)
	ListByStatus(ctx context.Context, status model.TestStatus, subject model.Subject) ([]model.Test, error)
	Create(ctx context.Context, t *model.Test) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.TestStatus) error
	ExistsByTitle(ctx context.Context, title string) (bool, error)
}

// QuestionStore is the question persistence TestService depends on.
type QuestionStore interface {
	ListByTest(ctx context.Context, testID uuid.UUID) ([]model.Question, error)
	AppendBatch(ctx context.Context, testID uuid.UUID, qs []model.Question) error
}

// TestService owns the test catalog and keeps published papers cached in Redis.
type TestService struct {
	tests     TestStore
	questions QuestionStore
	rdb       *redis.Client
	ttl       time.Duration
	sf        singleflight.Group
	log       zerolog.Logger
}

// NewTestService creates a new TestService.
func NewTestService(tests TestStore, questions QuestionStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *TestService {
	return &TestService{
		tests:     tests,
		questions: questions,
		rdb:       rdb,
		ttl:       ttl,
		log:       log.With().Str("component", "test_service").Logger(),
	}
}

// GetByID retrieves a test, mapping a missing row to ErrTestNotFound.
func (s *TestService) GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	t, err := s.tests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("get test: %w", err)
	}
	return t, nil
}

// ListPublished returns the learner catalog, optionally filtered by subject.
func (s *TestService) ListPublished(ctx context.Context, subject model.Subject) ([]model.Test, error) {
	tests, err := s.tests.ListByStatus(ctx, model.TestStatusPublished, subject)
	if err != nil {
		return nil, fmt.Errorf("list published tests: %w", err)
	}
	if tests == nil {
		tests = []model.Test{}
	}
	return tests, nil
}

// Create inserts a new draft test. Titles are unique.
func (s *TestService) Create(ctx context.Context, req model.CreateTestRequest) (*model.Test, error) {
	exists, err := s.tests.ExistsByTitle(ctx, req.Title)
	if err != nil {
		return nil, fmt.Errorf("check title: %w", err)
	}
	if exists {
		return nil, ErrDuplicateTitle
	}

	t := &model.Test{
		Title:           req.Title,
		Subject:         model.Subject(req.Subject),
		DurationSeconds: req.DurationSeconds,
		Status:          model.TestStatusDraft,
	}
	if err := s.tests.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create test: %w", err)
	}
	s.log.Info().Str("test_id", t.ID.String()).Str("subject", string(t.Subject)).Msg("Test created")
	return t, nil
}

// AddQuestions appends questions to a draft test.
func (s *TestService) AddQuestions(ctx context.Context, testID uuid.UUID, req model.AddQuestionsRequest) ([]model.Question, error) {
	t, err := s.GetByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TestStatusDraft {
		return nil, ErrTestNotDraft
	}

	qs := make([]model.Question, len(req.Questions))
	for i, r := range req.Questions {
		if err := checkOptions(r.Options, r.CorrectOption); err != nil {
			return nil, fmt.Errorf("question %d: %w", i+1, err)
		}
		qs[i] = model.Question{
			Content: model.QuestionContent{
				Prompt:   r.Prompt,
				Passage:  r.Passage,
				ImageURL: r.ImageURL,
			},
			Options:       r.Options,
			CorrectOption: r.CorrectOption,
		}
	}

	if err := s.questions.AppendBatch(ctx, testID, qs); err != nil {
		return nil, fmt.Errorf("append questions: %w", err)
	}
	return qs, nil
}

// Publish opens a draft test to learners and warms its cache.
func (s *TestService) Publish(ctx context.Context, testID uuid.UUID) (*model.Test, error) {
	t, err := s.GetByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TestStatusDraft {
		return nil, ErrTestNotDraft
	}

	questions, err := s.questions.ListByTest(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	if err := s.tests.UpdateStatus(ctx, testID, model.TestStatusPublished); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	t.Status = model.TestStatusPublished

	if _, err := s.warm(ctx, t, questions); err != nil {
		// The paper is rebuilt lazily on the next read.
		s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Failed to warm cache after publish")
	}

	s.log.Info().Str("test_id", testID.String()).Int("questions", len(questions)).Msg("Test published")
	return t, nil
}

const paperLoadTimeout = 10 * time.Second

// GetPaper returns the learner-facing paper of a published test. Concurrent
// misses for the same test share one database load.
func (s *TestService) GetPaper(ctx context.Context, testID uuid.UUID) (*model.TestPaper, error) {
	if paper, ok := s.cachedPaper(ctx, testID); ok {
		return paper, nil
	}

	v, err, _ := s.sf.Do(testID.String(), func() (any, error) {
		// Followers share this load, so it must outlive the leader's request.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), paperLoadTimeout)
		defer cancel()

		if paper, ok := s.cachedPaper(ctx, testID); ok {
			return paper, nil
		}

		t, err := s.GetByID(ctx, testID)
		if err != nil {
			return nil, err
		}
		if t.Status != model.TestStatusPublished {
			return nil, ErrTestNotPublished
		}
		questions, err := s.questions.ListByTest(ctx, testID)
		if err != nil {
			return nil, fmt.Errorf("list questions: %w", err)
		}
		if len(questions) == 0 {
			return nil, ErrNoQuestions
		}
		return s.warm(ctx, t, questions)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.TestPaper), nil
}

// GetAnswerKey returns question ID -> correct option label for a published test.
func (s *TestService) GetAnswerKey(ctx context.Context, testID uuid.UUID) (map[string]string, error) {
	key := config.CacheKey.TestAnswerKey(testID.String())
	result, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}
	if len(result) > 0 {
		return result, nil
	}

	// Paper and key expire together; rebuilding the paper restores both.
	if err := s.rdb.Del(ctx, config.CacheKey.TestPaperKey(testID.String())).Err(); err != nil {
		return nil, fmt.Errorf("drop stale paper: %w", err)
	}
	if _, err := s.GetPaper(ctx, testID); err != nil {
		return nil, err
	}
	result, err = s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}
	return result, nil
}

// PrewarmAllCaches loads every published test into Redis on startup.
func (s *TestService) PrewarmAllCaches(ctx context.Context) error {
	tests, err := s.tests.ListByStatus(ctx, model.TestStatusPublished, "")
	if err != nil {
		return fmt.Errorf("list published tests: %w", err)
	}

	if len(tests) == 0 {
		s.log.Info().Msg("No published tests to prewarm")
		return nil
	}

	warmed := 0
	for i := range tests {
		questions, err := s.questions.ListByTest(ctx, tests[i].ID)
		if err == nil && len(questions) == 0 {
			err = ErrNoQuestions
		}
		if err == nil {
			_, err = s.warm(ctx, &tests[i], questions)
		}
		if err != nil {
			s.log.Warn().
				Err(err).
				Str("test_id", tests[i].ID.String()).
				Msg("Failed to warm test, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(tests)).
		Msg("Prewarming complete")
	return nil
}

func (s *TestService) cachedPaper(ctx context.Context, testID uuid.UUID) (*model.TestPaper, bool) {
	data, err := s.rdb.Get(ctx, config.CacheKey.TestPaperKey(testID.String())).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Paper cache read failed")
		}
		return nil, false
	}

	var paper model.TestPaper
	if err := json.Unmarshal(data, &paper); err != nil {
		s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Corrupt paper cache entry")
		return nil, false
	}
	return &paper, true
}

// warm writes the paper and its answer key to Redis in one pipeline.
func (s *TestService) warm(ctx context.Context, t *model.Test, questions []model.Question) (*model.TestPaper, error) {
	paper := &model.TestPaper{
		TestID:          t.ID,
		Title:           t.Title,
		Subject:         t.Subject,
		DurationSeconds: t.DurationSeconds,
		Questions:       make([]model.PaperQuestion, len(questions)),
	}
	answerKey := make(map[string]any, len(questions))
	for i, q := range questions {
		paper.Questions[i] = model.PaperQuestion{
			ID:      q.ID,
			Options: q.Options,
			Content: q.Content,
		}
		answerKey[q.ID.String()] = q.CorrectOption
	}

	payload, err := json.Marshal(paper)
	if err != nil {
		return nil, fmt.Errorf("marshal paper: %w", err)
	}

	paperKey := config.CacheKey.TestPaperKey(t.ID.String())
	keyKey := config.CacheKey.TestAnswerKey(t.ID.String())

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, paperKey, payload, s.ttl)
	pipe.Del(ctx, keyKey)
	pipe.HSet(ctx, keyKey, answerKey)
	if s.ttl > 0 {
		pipe.Expire(ctx, keyKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("test_id", t.ID.String()).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return paper, nil
}

func checkOptions(options []model.Option, correct string) error {
	seen := make(map[string]struct{}, len(options))
	found := false
	for _, o := range options {
		if _, dup := seen[o.Label]; dup {
			return ErrDuplicateLabel
		}
		seen[o.Label] = struct{}{}
		if o.Label == correct {
			found = true
		}
	}
	if !found {
		return ErrInvalidAnswerKey
	}
	return nil
}
