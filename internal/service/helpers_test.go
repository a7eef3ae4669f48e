package service

import (
	"context"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/gate-backend/internal/model"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// fakeTests is an in-memory TestStore.
type fakeTests struct {
	mu    sync.Mutex
	tests map[uuid.UUID]*model.Test
	gets  int
}

func newFakeTests() *fakeTests {
	return &fakeTests{tests: make(map[uuid.UUID]*model.Test)}
}

func (f *fakeTests) GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	t, ok := f.tests[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTests) ListByStatus(_ context.Context, status model.TestStatus, subject model.Subject) ([]model.Test, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Test
	for _, t := range f.tests {
		if t.Status == status && (subject == "" || t.Subject == subject) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTests) Create(_ context.Context, t *model.Test) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = uuid.New()
	cp := *t
	f.tests[t.ID] = &cp
	return nil
}

func (f *fakeTests) UpdateStatus(_ context.Context, id uuid.UUID, status model.TestStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tests[id]
	if !ok {
		return pgx.ErrNoRows
	}
	t.Status = status
	return nil
}

func (f *fakeTests) ExistsByTitle(_ context.Context, title string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tests {
		if t.Title == title {
			return true, nil
		}
	}
	return false, nil
}

// fakeQuestions is an in-memory QuestionStore.
type fakeQuestions struct {
	mu     sync.Mutex
	byTest map[uuid.UUID][]model.Question
	lists  int
}

func newFakeQuestions() *fakeQuestions {
	return &fakeQuestions{byTest: make(map[uuid.UUID][]model.Question)}
}

func (f *fakeQuestions) ListByTest(_ context.Context, testID uuid.UUID) ([]model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return append([]model.Question(nil), f.byTest[testID]...), nil
}

func (f *fakeQuestions) AppendBatch(_ context.Context, testID uuid.UUID, qs []model.Question) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := len(f.byTest[testID]) + 1
	for i := range qs {
		qs[i].ID = uuid.New()
		qs[i].TestID = testID
		qs[i].OrderNum = next + i
	}
	f.byTest[testID] = append(f.byTest[testID], qs...)
	return nil
}

// fakePapers serves one fixed paper and key.
type fakePapers struct {
	paper *model.TestPaper
	key   map[string]string
}

func (f *fakePapers) GetPaper(_ context.Context, testID uuid.UUID) (*model.TestPaper, error) {
	if f.paper == nil || f.paper.TestID != testID {
		return nil, ErrTestNotFound
	}
	return f.paper, nil
}

func (f *fakePapers) GetAnswerKey(_ context.Context, testID uuid.UUID) (map[string]string, error) {
	if f.paper == nil || f.paper.TestID != testID {
		return nil, ErrTestNotFound
	}
	return f.key, nil
}

// newPaper builds a paper whose questions all offer A to C. correct holds
// the key in question order.
func newPaper(durationSec int, correct ...string) *fakePapers {
	p := &fakePapers{
		paper: &model.TestPaper{
			TestID:          uuid.New(),
			Title:           "Series",
			Subject:         model.SubjectAbstractReasoning,
			DurationSeconds: durationSec,
		},
		key: make(map[string]string),
	}
	for i, c := range correct {
		q := model.PaperQuestion{
			ID:      uuid.New(),
			Options: threeOptions(),
			Content: model.QuestionContent{Prompt: "Question " + string(rune('1'+i))},
		}
		p.paper.Questions = append(p.paper.Questions, q)
		p.key[q.ID.String()] = c
	}
	return p
}

func threeOptions() []model.Option {
	return []model.Option{{Label: "A", Text: "one"}, {Label: "B", Text: "two"}, {Label: "C", Text: "three"}}
}

// recordingObserver remembers every reported score.
type recordingObserver struct {
	mu     sync.Mutex
	scores []float64
}

func (o *recordingObserver) AttemptCompleted(_ context.Context, _ int, _ uuid.UUID, score float64) ([]model.Achievement, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scores = append(o.scores, score)
	return nil, nil
}

func (o *recordingObserver) Scores() []float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]float64(nil), o.scores...)
}
