package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/gate-backend/internal/assessment"
	"github.com/stemsi/gate-backend/internal/config"
	"github.com/stemsi/gate-backend/internal/model"
)

type sessionFixture struct {
	svc      *SessionService
	papers   *fakePapers
	observer *recordingObserver
	clock    *assessment.ManualClock
	mr       *miniredis.Miniredis
}

func newSessionFixture(t *testing.T, durationSec int, correct ...string) *sessionFixture {
	t.Helper()
	mr, rdb := newRedis(t)
	f := &sessionFixture{
		papers:   newPaper(durationSec, correct...),
		observer: &recordingObserver{},
		clock:    assessment.NewManualClock(),
		mr:       mr,
	}
	cfg := &config.Config{TickInterval: time.Second, SessionRetention: time.Minute}
	f.svc = NewSessionService(cfg, f.papers, f.observer, rdb, zerolog.Nop(),
		WithClock(func() assessment.Clock { return f.clock }),
	)
	t.Cleanup(f.svc.Shutdown)
	return f
}

func (f *sessionFixture) start(t *testing.T, userID int) *model.SessionView {
	t.Helper()
	view, err := f.svc.Start(context.Background(), userID, f.papers.paper.TestID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return view
}

func (f *sessionFixture) do(t *testing.T, userID int, id uuid.UUID, intent model.Intent) *model.SessionView {
	t.Helper()
	view, err := f.svc.Dispatch(context.Background(), userID, id, intent)
	if err != nil {
		t.Fatalf("%s: %v", intent.Action, err)
	}
	return view
}

func TestStartResumesUnfinishedSession(t *testing.T) {
	f := newSessionFixture(t, 300, "A", "B")
	first := f.start(t, 7)

	if first.State.Phase != assessment.PhaseRunning || first.State.TimeRemainingSeconds != 300 {
		t.Fatalf("unexpected initial state: %+v", first.State)
	}
	if !f.mr.Exists(config.CacheKey.UserActiveSessionKey(7, first.TestID.String())) {
		t.Fatalf("expected active session recorded in redis")
	}

	again, err := f.svc.Start(context.Background(), 7, first.TestID)
	if !errors.Is(err, ErrSessionAlreadyActive) {
		t.Fatalf("expected ErrSessionAlreadyActive, got %v", err)
	}
	if again.SessionID != first.SessionID {
		t.Fatalf("expected the same session to resume")
	}

	other := f.start(t, 8)
	if other.SessionID == first.SessionID {
		t.Fatalf("another learner must get a separate session")
	}
}

func TestSessionOwnership(t *testing.T) {
	f := newSessionFixture(t, 300, "A")
	view := f.start(t, 7)

	if _, err := f.svc.Get(context.Background(), 8, view.SessionID); !errors.Is(err, ErrSessionNotOwned) {
		t.Fatalf("expected ErrSessionNotOwned, got %v", err)
	}
	if _, err := f.svc.Get(context.Background(), 7, uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestDispatchValidatesArguments(t *testing.T) {
	f := newSessionFixture(t, 300, "A", "B")
	view := f.start(t, 7)
	ctx := context.Background()

	if _, err := f.svc.Dispatch(ctx, 7, view.SessionID, model.Intent{Action: model.ActionGoTo}); !errors.Is(err, assessment.ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex for missing index, got %v", err)
	}
	five := 5
	if _, err := f.svc.Dispatch(ctx, 7, view.SessionID, model.Intent{Action: model.ActionGoTo, Index: &five}); !errors.Is(err, assessment.ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
	if _, err := f.svc.Dispatch(ctx, 7, view.SessionID, model.Intent{Action: model.ActionSelectAnswer, OptionID: "Z"}); !errors.Is(err, assessment.ErrUnknownOption) {
		t.Fatalf("expected ErrUnknownOption, got %v", err)
	}
	if _, err := f.svc.Dispatch(ctx, 7, view.SessionID, model.Intent{Action: "shout"}); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestSubmitGradesAndQueuesAttempt(t *testing.T) {
	f := newSessionFixture(t, 300, "A", "C")
	view := f.start(t, 7)
	id := view.SessionID

	f.do(t, 7, id, model.Intent{Action: model.ActionSelectAnswer, OptionID: "A"})
	f.do(t, 7, id, model.Intent{Action: model.ActionAdvance})
	f.do(t, 7, id, model.Intent{Action: model.ActionSelectAnswer, OptionID: "B"})
	f.clock.Advance(12)
	done := f.do(t, 7, id, model.Intent{Action: model.ActionAdvance})

	if done.State.Phase != assessment.PhaseCompleted {
		t.Fatalf("clean sheet should complete directly, got %s", done.State.Phase)
	}

	attempt, ok, err := f.svc.Attempt(7, id)
	if err != nil || !ok {
		t.Fatalf("expected graded attempt, got ok=%v err=%v", ok, err)
	}
	if attempt.CorrectCount != 1 || attempt.QuestionCount != 2 || attempt.Score != 50 {
		t.Fatalf("unexpected grade: %+v", attempt)
	}
	if attempt.TimeUsedSeconds != 12 || attempt.Reason != string(assessment.ReasonSubmitted) {
		t.Fatalf("unexpected timing: %+v", attempt)
	}

	queued, err := f.mr.List(config.WorkerKey.PersistAttemptsQueue)
	if err != nil || len(queued) != 1 {
		t.Fatalf("expected one queued attempt, got %v (%v)", queued, err)
	}
	var persisted model.Attempt
	if err := json.Unmarshal([]byte(queued[0]), &persisted); err != nil {
		t.Fatalf("decode queued attempt: %v", err)
	}
	if persisted.SessionID != id || persisted.UserID != 7 {
		t.Fatalf("queued attempt mismatch: %+v", persisted)
	}

	if scores := f.observer.Scores(); len(scores) != 1 || scores[0] != 50 {
		t.Fatalf("observer saw %v", scores)
	}
	if f.mr.Exists(config.CacheKey.UserActiveSessionKey(7, view.TestID.String())) {
		t.Fatalf("active session key should be cleared")
	}

	// A finished session no longer blocks a new one.
	next := f.start(t, 7)
	if next.SessionID == id {
		t.Fatalf("expected a fresh session after completion")
	}
}

func TestSubmitGateNeedsConfirmation(t *testing.T) {
	f := newSessionFixture(t, 300, "A", "B", "C")
	id := f.start(t, 7).SessionID

	f.do(t, 7, id, model.Intent{Action: model.ActionSelectAnswer, OptionID: "A"})
	f.do(t, 7, id, model.Intent{Action: model.ActionToggleFlag})
	view := f.do(t, 7, id, model.Intent{Action: model.ActionSubmitRequest})

	st := view.State
	if st.Phase != assessment.PhaseAwaitingSubmitConfirmation || st.Summary == nil {
		t.Fatalf("expected confirmation gate, got %+v", st)
	}
	if len(st.Summary.Unanswered) != 2 || st.Summary.Unanswered[0] != 2 || len(st.Summary.Flagged) != 1 {
		t.Fatalf("unexpected summary: %+v", st.Summary)
	}

	view = f.do(t, 7, id, model.Intent{Action: model.ActionCancelSubmit})
	if view.State.Phase != assessment.PhaseRunning || view.State.Summary != nil {
		t.Fatalf("cancel should reopen the session: %+v", view.State)
	}

	f.do(t, 7, id, model.Intent{Action: model.ActionSubmitRequest})
	view = f.do(t, 7, id, model.Intent{Action: model.ActionConfirmSubmit})
	if view.State.Phase != assessment.PhaseCompleted {
		t.Fatalf("expected COMPLETED, got %s", view.State.Phase)
	}
}

func TestExpiryStreamsEventsInOrder(t *testing.T) {
	f := newSessionFixture(t, 3, "A")
	id := f.start(t, 7).SessionID

	events, cancel, err := f.svc.Subscribe(7, id)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if ev := <-events; ev.Type != SessionEventState || ev.State.TimeRemainingSeconds != 3 {
		t.Fatalf("expected initial state, got %+v", ev)
	}

	f.clock.Advance(5)

	var got []SessionEventType
	var completed SessionEvent
	for len(got) < 5 {
		select {
		case ev := <-events:
			got = append(got, ev.Type)
			if ev.Type == SessionEventCompleted {
				completed = ev
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out, received %v", got)
		}
	}

	want := []SessionEventType{
		SessionEventState, SessionEventState,
		SessionEventTimeExpired, SessionEventCompleted, SessionEventState,
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %v", i, want[i], got)
		}
	}
	if completed.Result == nil || completed.Result.Reason != assessment.ReasonTimeExpired || completed.Attempt == nil {
		t.Fatalf("completed event missing result: %+v", completed)
	}
	if completed.Attempt.Score != 0 || completed.Attempt.TimeUsedSeconds != 3 {
		t.Fatalf("unexpected expiry grade: %+v", completed.Attempt)
	}
	if f.clock.Active() != 0 {
		t.Fatalf("countdown should stop on completion")
	}
}

func TestShutdownClosesStreams(t *testing.T) {
	f := newSessionFixture(t, 60, "A")
	id := f.start(t, 7).SessionID

	events, _, err := f.svc.Subscribe(7, id)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	<-events

	f.svc.Shutdown()
	if _, open := <-events; open {
		t.Fatalf("expected stream closed after shutdown")
	}
	if f.clock.Active() != 0 {
		t.Fatalf("expected countdown halted")
	}
	if _, err := f.svc.Get(context.Background(), 7, id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session dropped, got %v", err)
	}
}

func TestDeliverDropsOldest(t *testing.T) {
	ch := make(chan SessionEvent, 2)
	for i := 1; i <= 3; i++ {
		deliver(ch, SessionEvent{State: &assessment.State{CurrentIndex: i}})
	}

	first, second := <-ch, <-ch
	if first.State.CurrentIndex != 2 || second.State.CurrentIndex != 3 {
		t.Fatalf("expected newest two events, got %d and %d", first.State.CurrentIndex, second.State.CurrentIndex)
	}
}

// keylessPapers serves the paper but cannot reach the answer key.
type keylessPapers struct {
	*fakePapers
}

func (keylessPapers) GetAnswerKey(context.Context, uuid.UUID) (map[string]string, error) {
	return nil, errors.New("redis: connection refused")
}

func TestAttemptQueuedWhenAnswerKeyUnavailable(t *testing.T) {
	mr, rdb := newRedis(t)
	papers := keylessPapers{newPaper(300, "A", "B")}
	observer := &recordingObserver{}
	clock := assessment.NewManualClock()
	cfg := &config.Config{TickInterval: time.Second, SessionRetention: time.Minute}
	svc := NewSessionService(cfg, papers, observer, rdb, zerolog.Nop(),
		WithClock(func() assessment.Clock { return clock }),
	)
	t.Cleanup(svc.Shutdown)

	view, err := svc.Start(context.Background(), 7, papers.paper.TestID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := view.SessionID
	ctx := context.Background()
	if _, err := svc.Dispatch(ctx, 7, id, model.Intent{Action: model.ActionSelectAnswer, OptionID: "A"}); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := svc.Dispatch(ctx, 7, id, model.Intent{Action: model.ActionSubmitRequest}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := svc.Dispatch(ctx, 7, id, model.Intent{Action: model.ActionConfirmSubmit})
	if err != nil || done.State.Phase != assessment.PhaseCompleted {
		t.Fatalf("expected COMPLETED, got %+v (%v)", done, err)
	}

	attempt, ok, err := svc.Attempt(7, id)
	if err != nil || !ok {
		t.Fatalf("expected attempt available, got ok=%v err=%v", ok, err)
	}
	if attempt.Graded || attempt.Answers[0] != "A" || len(attempt.QuestionIDs) != 2 {
		t.Fatalf("expected ungraded attempt carrying answers, got %+v", attempt)
	}

	queued, err := mr.List(config.WorkerKey.PersistAttemptsQueue)
	if err != nil || len(queued) != 1 {
		t.Fatalf("expected one queued attempt, got %v (%v)", queued, err)
	}
	var persisted model.Attempt
	if err := json.Unmarshal([]byte(queued[0]), &persisted); err != nil {
		t.Fatalf("decode queued attempt: %v", err)
	}
	persisted.Grade(papers.key)
	if persisted.CorrectCount != 1 || persisted.Score != 50 {
		t.Fatalf("queued attempt cannot be graded later: %+v", persisted)
	}
	if len(observer.Scores()) != 0 {
		t.Fatalf("ungraded attempt must not reach the observer")
	}
}

func TestStateStreamFollowsMutationOrder(t *testing.T) {
	_, rdb := newRedis(t)
	papers := newPaper(100000, "A", "B", "C")
	cfg := &config.Config{TickInterval: 50 * time.Microsecond, SessionRetention: time.Minute}
	svc := NewSessionService(cfg, papers, nil, rdb, zerolog.Nop(),
		WithClock(func() assessment.Clock { return assessment.TickerClock{} }),
	)
	t.Cleanup(svc.Shutdown)

	view, err := svc.Start(context.Background(), 7, papers.paper.TestID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := view.SessionID
	events, cancel, err := svc.Subscribe(7, id)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if _, err := svc.Dispatch(context.Background(), 7, id, model.Intent{Action: model.ActionToggleFlag}); err != nil {
					t.Errorf("toggle: %v", err)
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		for _, action := range []model.Action{model.ActionSubmitRequest, model.ActionConfirmSubmit} {
			if _, err := svc.Dispatch(context.Background(), 7, id, model.Intent{Action: action}); err != nil {
				t.Errorf("%s: %v", action, err)
			}
		}
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	last := math.MaxInt
	completed := false
	regressions := 0
	for ev := range events {
		if ev.Type != SessionEventState {
			continue
		}
		if completed && ev.State.Phase != assessment.PhaseCompleted {
			t.Fatalf("state %s delivered after COMPLETED", ev.State.Phase)
		}
		if ev.State.TimeRemainingSeconds > last {
			regressions++
			t.Logf("remaining went %d -> %d", last, ev.State.TimeRemainingSeconds)
		}
		last = ev.State.TimeRemainingSeconds
		completed = ev.State.Phase == assessment.PhaseCompleted
	}
	if regressions > 0 {
		t.Fatalf("observed %d time_remaining regressions on the state stream", regressions)
	}
	if !completed {
		t.Fatalf("expected the stream to end on COMPLETED")
	}
}

func TestSubscribeAfterCompletionReplaysAttempt(t *testing.T) {
	f := newSessionFixture(t, 60, "A")
	id := f.start(t, 7).SessionID
	f.do(t, 7, id, model.Intent{Action: model.ActionSelectAnswer, OptionID: "A"})
	f.do(t, 7, id, model.Intent{Action: model.ActionSubmitRequest})

	events, cancel, err := f.svc.Subscribe(7, id)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if ev := <-events; ev.Type != SessionEventState || ev.State.Phase != assessment.PhaseCompleted {
		t.Fatalf("expected completed state first, got %+v", ev)
	}
	ev := <-events
	if ev.Type != SessionEventCompleted || ev.Attempt == nil || ev.Attempt.Score != 100 {
		t.Fatalf("expected completed attempt replayed, got %+v", ev)
	}
}
