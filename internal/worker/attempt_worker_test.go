package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/gate-backend/internal/config"
	"github.com/stemsi/gate-backend/internal/model"
)

type fakeWriter struct {
	mu       sync.Mutex
	batchErr error
	reject   map[uuid.UUID]bool
	batches  int
	saved    []model.Attempt
}

func (f *fakeWriter) InsertBatch(_ context.Context, batch []model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return f.batchErr
	}
	f.batches++
	f.saved = append(f.saved, batch...)
	return nil
}

func (f *fakeWriter) Insert(_ context.Context, a *model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject[a.SessionID] {
		return errors.New("constraint violation")
	}
	f.saved = append(f.saved, *a)
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeKeys map[uuid.UUID]map[string]string

func (f fakeKeys) GetAnswerKey(_ context.Context, testID uuid.UUID) (map[string]string, error) {
	key, ok := f[testID]
	if !ok {
		return nil, errors.New("test not found")
	}
	return key, nil
}

func newTestWorker(t *testing.T, writer AttemptWriter) (*AttemptWorker, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	w := NewAttemptWorker(writer, nil, rdb, zerolog.Nop())
	w.pollTimeout = 50 * time.Millisecond
	return w, mr, rdb
}

func queueAttempt(t *testing.T, rdb *redis.Client, a model.Attempt) {
	t.Helper()
	raw, _ := json.Marshal(a)
	if err := rdb.RPush(context.Background(), config.WorkerKey.PersistAttemptsQueue, raw).Err(); err != nil {
		t.Fatalf("rpush: %v", err)
	}
}

func TestWorkerBatchesQueuedAttempts(t *testing.T) {
	writer := &fakeWriter{}
	w, _, rdb := newTestWorker(t, writer)
	w.batchTimeout = 20 * time.Millisecond

	for i := 0; i < 3; i++ {
		queueAttempt(t, rdb, model.Attempt{ID: uuid.New(), SessionID: uuid.New(), Score: float64(i)})
	}
	if err := rdb.RPush(context.Background(), config.WorkerKey.PersistAttemptsQueue, "not json").Err(); err != nil {
		t.Fatalf("rpush: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for writer.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d attempts persisted", writer.count())
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if writer.count() != 3 {
		t.Fatalf("expected 3 attempts, got %d", writer.count())
	}
}

func TestWorkerFlushesOnShutdown(t *testing.T) {
	writer := &fakeWriter{}
	w, mr, rdb := newTestWorker(t, writer)
	w.batchTimeout = time.Hour

	queueAttempt(t, rdb, model.Attempt{ID: uuid.New(), SessionID: uuid.New()})
	queueAttempt(t, rdb, model.Attempt{ID: uuid.New(), SessionID: uuid.New()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for mr.Exists(config.WorkerKey.PersistAttemptsQueue) {
		if time.Now().After(deadline) {
			t.Fatalf("queue never drained")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if writer.count() != 0 {
		t.Fatalf("batch should wait for its timeout")
	}

	cancel()
	<-done
	if writer.count() != 2 {
		t.Fatalf("expected 2 attempts flushed on shutdown, got %d", writer.count())
	}
}

func TestFlushFallsBackAndRequeues(t *testing.T) {
	bad := uuid.New()
	writer := &fakeWriter{
		batchErr: errors.New("batch failed"),
		reject:   map[uuid.UUID]bool{bad: true},
	}
	w, mr, _ := newTestWorker(t, writer)

	w.flushSafe(context.Background(), []model.Attempt{
		{ID: uuid.New(), SessionID: uuid.New()},
		{ID: uuid.New(), SessionID: bad},
	})

	if writer.count() != 1 {
		t.Fatalf("expected 1 attempt saved row by row, got %d", writer.count())
	}
	queued, err := mr.List(config.WorkerKey.PersistAttemptsQueue)
	if err != nil || len(queued) != 1 {
		t.Fatalf("expected rejected attempt requeued, got %v (%v)", queued, err)
	}
	var a model.Attempt
	if err := json.Unmarshal([]byte(queued[0]), &a); err != nil || a.SessionID != bad {
		t.Fatalf("requeued wrong attempt: %+v (%v)", a, err)
	}
}

func TestFlushGradesPendingAttempts(t *testing.T) {
	writer := &fakeWriter{}
	w, _, _ := newTestWorker(t, writer)
	known, unknown := uuid.New(), uuid.New()
	w.keys = fakeKeys{known: {"q1": "A", "q2": "B"}}

	w.flushSafe(context.Background(), []model.Attempt{
		{SessionID: uuid.New(), TestID: known, QuestionIDs: []string{"q1", "q2"}, Answers: []string{"A", "C"}},
		{SessionID: uuid.New(), TestID: unknown, QuestionIDs: []string{"q9"}, Answers: []string{"A"}},
		{SessionID: uuid.New(), TestID: known, Graded: true, Score: 100},
	})

	if writer.count() != 3 {
		t.Fatalf("expected all attempts stored, got %d", writer.count())
	}
	graded, ungraded, kept := writer.saved[0], writer.saved[1], writer.saved[2]
	if !graded.Graded || graded.CorrectCount != 1 || graded.Score != 50 {
		t.Fatalf("expected pending attempt graded, got %+v", graded)
	}
	if ungraded.Graded {
		t.Fatalf("attempt without a key must stay ungraded: %+v", ungraded)
	}
	if kept.Score != 100 {
		t.Fatalf("graded attempt was regraded: %+v", kept)
	}
}

func TestRequeueFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	writer := &fakeWriter{batchErr: errors.New("batch failed"), reject: map[uuid.UUID]bool{}}
	w, mr, _ := newTestWorker(t, writer)
	w.log = zerolog.New(&buf)

	bad := uuid.New()
	writer.reject[bad] = true
	mr.Close()

	w.flushSafe(context.Background(), []model.Attempt{{SessionID: bad}})

	if !strings.Contains(buf.String(), "Requeue failed") || !strings.Contains(buf.String(), bad.String()) {
		t.Fatalf("expected requeue failure logged, got %s", buf.String())
	}
}
