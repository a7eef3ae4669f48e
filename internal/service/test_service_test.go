package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/gate-backend/internal/config"
	"github.com/stemsi/gate-backend/internal/model"
)

func newTestTestService(t *testing.T) (*TestService, *fakeTests, *fakeQuestions) {
	t.Helper()
	_, rdb := newRedis(t)
	tests, questions := newFakeTests(), newFakeQuestions()
	return NewTestService(tests, questions, rdb, time.Hour, zerolog.Nop()), tests, questions
}

func draftWithQuestions(t *testing.T, svc *TestService, n int) *model.Test {
	t.Helper()
	ctx := context.Background()
	test, err := svc.Create(ctx, model.CreateTestRequest{
		Title: "Series " + uuid.NewString()[:8], Subject: string(model.SubjectAbstractReasoning), DurationSeconds: 600,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n == 0 {
		return test
	}

	req := model.AddQuestionsRequest{}
	for i := 0; i < n; i++ {
		req.Questions = append(req.Questions, model.AddQuestionRequest{
			Prompt: "Pick one", Options: threeOptions(), CorrectOption: "B",
		})
	}
	if _, err := svc.AddQuestions(ctx, test.ID, req); err != nil {
		t.Fatalf("add questions: %v", err)
	}
	return test
}

func TestPublishRequiresQuestions(t *testing.T) {
	svc, _, _ := newTestTestService(t)
	test := draftWithQuestions(t, svc, 0)

	if _, err := svc.Publish(context.Background(), test.ID); !errors.Is(err, ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
}

func TestPublishWarmsPaperAndKey(t *testing.T) {
	ctx := context.Background()
	svc, _, questions := newTestTestService(t)
	test := draftWithQuestions(t, svc, 2)

	published, err := svc.Publish(ctx, test.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if published.Status != model.TestStatusPublished {
		t.Fatalf("expected PUBLISHED, got %s", published.Status)
	}

	listsBefore := questions.lists
	paper, err := svc.GetPaper(ctx, test.ID)
	if err != nil {
		t.Fatalf("get paper: %v", err)
	}
	if questions.lists != listsBefore {
		t.Fatalf("expected paper served from cache")
	}
	if len(paper.Questions) != 2 || len(paper.Questions[0].Options) != 3 {
		t.Fatalf("unexpected paper: %+v", paper)
	}

	key, err := svc.GetAnswerKey(ctx, test.ID)
	if err != nil {
		t.Fatalf("answer key: %v", err)
	}
	if key[paper.Questions[1].ID.String()] != "B" {
		t.Fatalf("unexpected key: %v", key)
	}

	if _, err := svc.Publish(ctx, test.ID); !errors.Is(err, ErrTestNotDraft) {
		t.Fatalf("expected ErrTestNotDraft on second publish, got %v", err)
	}
}

func TestAddQuestionsRejectsBadKey(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestTestService(t)
	test := draftWithQuestions(t, svc, 0)

	_, err := svc.AddQuestions(ctx, test.ID, model.AddQuestionsRequest{Questions: []model.AddQuestionRequest{
		{Prompt: "Pick", Options: threeOptions(), CorrectOption: "D"},
	}})
	if !errors.Is(err, ErrInvalidAnswerKey) {
		t.Fatalf("expected ErrInvalidAnswerKey, got %v", err)
	}

	dup := []model.Option{{Label: "A", Text: "x"}, {Label: "A", Text: "y"}}
	_, err = svc.AddQuestions(ctx, test.ID, model.AddQuestionsRequest{Questions: []model.AddQuestionRequest{
		{Prompt: "Pick", Options: dup, CorrectOption: "A"},
	}})
	if !errors.Is(err, ErrDuplicateLabel) {
		t.Fatalf("expected ErrDuplicateLabel, got %v", err)
	}

	if _, err := svc.AddQuestions(ctx, uuid.New(), model.AddQuestionsRequest{}); !errors.Is(err, ErrTestNotFound) {
		t.Fatalf("expected ErrTestNotFound, got %v", err)
	}
}

func TestGetPaperRejectsDraft(t *testing.T) {
	svc, _, _ := newTestTestService(t)
	test := draftWithQuestions(t, svc, 1)

	if _, err := svc.GetPaper(context.Background(), test.ID); !errors.Is(err, ErrTestNotPublished) {
		t.Fatalf("expected ErrTestNotPublished, got %v", err)
	}
}

func TestGetPaperSharesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	svc, tests, _ := newTestTestService(t)
	test := draftWithQuestions(t, svc, 3)
	if _, err := svc.Publish(ctx, test.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := svc.rdb.Del(ctx, config.CacheKey.TestPaperKey(test.ID.String())).Err(); err != nil {
		t.Fatalf("evict: %v", err)
	}
	getsBefore := tests.gets

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.GetPaper(ctx, test.ID); err != nil {
				t.Errorf("get paper: %v", err)
			}
		}()
	}
	wg.Wait()

	if loads := tests.gets - getsBefore; loads < 1 || loads > 20 {
		t.Fatalf("unexpected load count %d", loads)
	}
	if _, err := svc.rdb.Get(ctx, config.CacheKey.TestPaperKey(test.ID.String())).Result(); err != nil {
		t.Fatalf("expected paper re-cached: %v", err)
	}
}

func TestAnswerKeyRebuiltAfterExpiry(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestTestService(t)
	test := draftWithQuestions(t, svc, 2)
	if _, err := svc.Publish(ctx, test.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := svc.rdb.Del(ctx, config.CacheKey.TestAnswerKey(test.ID.String())).Err(); err != nil {
		t.Fatalf("evict key: %v", err)
	}

	key, err := svc.GetAnswerKey(ctx, test.ID)
	if err != nil {
		t.Fatalf("answer key: %v", err)
	}
	if len(key) != 2 {
		t.Fatalf("expected 2 entries after rebuild, got %v", key)
	}
}

func TestListPublishedFiltersBySubject(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestTestService(t)
	test := draftWithQuestions(t, svc, 1)
	if _, err := svc.Publish(ctx, test.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	draftWithQuestions(t, svc, 1)

	all, err := svc.ListPublished(ctx, "")
	if err != nil || len(all) != 1 {
		t.Fatalf("expected 1 published test, got %d (%v)", len(all), err)
	}
	none, err := svc.ListPublished(ctx, model.SubjectWriting)
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil list, got %v (%v)", none, err)
	}
}

func TestCreateRejectsDuplicateTitle(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestTestService(t)
	req := model.CreateTestRequest{Title: "Mock 1", Subject: string(model.SubjectWriting), DurationSeconds: 1800}

	if _, err := svc.Create(ctx, req); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, req); !errors.Is(err, ErrDuplicateTitle) {
		t.Fatalf("expected ErrDuplicateTitle, got %v", err)
	}
}

func TestGetPaperLoadOutlivesCanceledCaller(t *testing.T) {
	svc, _, _ := newTestTestService(t)
	test := draftWithQuestions(t, svc, 2)
	if _, err := svc.Publish(context.Background(), test.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := svc.rdb.Del(context.Background(), config.CacheKey.TestPaperKey(test.ID.String())).Err(); err != nil {
		t.Fatalf("evict: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	paper, err := svc.GetPaper(ctx, test.ID)
	if err != nil {
		t.Fatalf("shared load should not inherit cancellation: %v", err)
	}
	if len(paper.Questions) != 2 {
		t.Fatalf("unexpected paper: %+v", paper)
	}
}
