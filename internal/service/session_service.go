package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/gate-backend/internal/assessment"
	"github.com/stemsi/gate-backend/internal/config"
	"github.com/stemsi/gate-backend/internal/model"
)

// Session errors.
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionNotOwned      = errors.New("session belongs to another user")
	ErrSessionAlreadyActive = errors.New("an unfinished session already exists for this test")
	ErrUnknownAction        = errors.New("unknown action")
)

// SessionEventType names the messages streamed to session subscribers.
type SessionEventType string

const (
	SessionEventState                       SessionEventType = "state"
	SessionEventSubmitConfirmationRequested SessionEventType = SessionEventType(assessment.EventSubmitConfirmationRequested)
	SessionEventTimeExpired                 SessionEventType = SessionEventType(assessment.EventTimeExpired)
	SessionEventCompleted                   SessionEventType = SessionEventType(assessment.EventCompleted)
)

// SessionEvent is one message on a session stream.
type SessionEvent struct {
	Type      SessionEventType    `json:"event"`
	SessionID uuid.UUID           `json:"session_id"`
	State     *assessment.State   `json:"state,omitempty"`
	Summary   *assessment.Summary `json:"summary,omitempty"`
	Result    *assessment.Result  `json:"result,omitempty"`
	Attempt   *model.Attempt      `json:"attempt,omitempty"`
}

// subscriberBuffer bounds each subscriber; a slow reader loses its oldest events.
const subscriberBuffer = 16

// PaperSource supplies cached papers and answer keys.
type PaperSource interface {
	GetPaper(ctx context.Context, testID uuid.UUID) (*model.TestPaper, error)
	GetAnswerKey(ctx context.Context, testID uuid.UUID) (map[string]string, error)
}

// AttemptObserver is told about every graded attempt.
type AttemptObserver interface {
	AttemptCompleted(ctx context.Context, userID int, testID uuid.UUID, score float64) ([]model.Achievement, error)
}

// SessionOption customizes a SessionService.
type SessionOption func(*SessionService)

// WithClock replaces the wall-clock ticker used to drive new sessions.
func WithClock(newClock func() assessment.Clock) SessionOption {
	return func(s *SessionService) { s.newClock = newClock }
}

// WithNow replaces the time source used for attempt timestamps.
func WithNow(now func() time.Time) SessionOption {
	return func(s *SessionService) { s.now = now }
}

type liveSession struct {
	id        uuid.UUID
	userID    int
	testID    uuid.UUID
	startedAt time.Time
	ctrl      *assessment.Controller[model.QuestionContent]

	mu      sync.Mutex
	subs    map[int]chan SessionEvent
	nextSub int
	attempt *model.Attempt
	closed  bool
}

// SessionService hosts live assessment controllers keyed by session ID.
type SessionService struct {
	papers    PaperSource
	observer  AttemptObserver
	rdb       *redis.Client
	interval  time.Duration
	retention time.Duration
	newClock  func() assessment.Clock
	now       func() time.Time
	log       zerolog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*liveSession
	active   map[string]uuid.UUID // userID:testID -> unfinished session
}

// NewSessionService creates a new SessionService.
func NewSessionService(cfg *config.Config, papers PaperSource, observer AttemptObserver, rdb *redis.Client, log zerolog.Logger, opts ...SessionOption) *SessionService {
	s := &SessionService{
		papers:    papers,
		observer:  observer,
		rdb:       rdb,
		interval:  cfg.TickInterval,
		retention: cfg.SessionRetention,
		newClock:  func() assessment.Clock { return assessment.TickerClock{} },
		now:       time.Now,
		log:       log.With().Str("component", "session_service").Logger(),
		sessions:  make(map[uuid.UUID]*liveSession),
		active:    make(map[string]uuid.UUID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens a timed session on a published test. A learner has at most one
// unfinished session per test; asking again returns it with
// ErrSessionAlreadyActive so the client can resume.
func (s *SessionService) Start(ctx context.Context, userID int, testID uuid.UUID) (*model.SessionView, error) {
	activeKey := fmt.Sprintf("%d:%s", userID, testID)

	s.mu.Lock()
	if id, ok := s.active[activeKey]; ok {
		if ls, ok := s.sessions[id]; ok {
			s.mu.Unlock()
			return viewOf(ls), ErrSessionAlreadyActive
		}
	}
	s.mu.Unlock()

	paper, err := s.papers.GetPaper(ctx, testID)
	if err != nil {
		return nil, err
	}

	questions := make([]assessment.Question[model.QuestionContent], len(paper.Questions))
	for i, q := range paper.Questions {
		questions[i] = assessment.Question[model.QuestionContent]{
			ID:      q.ID.String(),
			Options: q.Labels(),
			Content: q.Content,
		}
	}

	ls := &liveSession{
		id:        uuid.New(),
		userID:    userID,
		testID:    testID,
		startedAt: s.now(),
		subs:      make(map[int]chan SessionEvent),
	}
	ctrl, err := assessment.New(questions, paper.DurationSeconds,
		assessment.WithTickInterval(s.interval),
		assessment.WithListener(func(ev assessment.Event) { s.onEvent(ls, ev) }),
	)
	if err != nil {
		return nil, fmt.Errorf("build session: %w", err)
	}
	ls.ctrl = ctrl

	s.mu.Lock()
	if id, ok := s.active[activeKey]; ok {
		if existing, ok := s.sessions[id]; ok {
			s.mu.Unlock()
			return viewOf(existing), ErrSessionAlreadyActive
		}
	}
	s.sessions[ls.id] = ls
	s.active[activeKey] = ls.id
	s.mu.Unlock()

	ttl := time.Duration(paper.DurationSeconds)*time.Second + s.retention
	if err := s.rdb.Set(ctx, config.CacheKey.UserActiveSessionKey(userID, testID.String()), ls.id.String(), ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", ls.id.String()).Msg("Failed to record active session")
	}

	ctrl.Run(&observedClock{inner: s.newClock(), after: func() { s.broadcastState(ls) }})

	s.log.Info().
		Str("session_id", ls.id.String()).
		Str("test_id", testID.String()).
		Int("user_id", userID).
		Int("questions", len(questions)).
		Msg("Session started")
	return viewOf(ls), nil
}

// Get returns the learner's view of a session.
func (s *SessionService) Get(_ context.Context, userID int, sessionID uuid.UUID) (*model.SessionView, error) {
	ls, err := s.lookup(userID, sessionID)
	if err != nil {
		return nil, err
	}
	return viewOf(ls), nil
}

// Dispatch applies one learner intent and returns the resulting view.
// Intents that do not apply in the current phase leave the state unchanged.
func (s *SessionService) Dispatch(_ context.Context, userID int, sessionID uuid.UUID, intent model.Intent) (*model.SessionView, error) {
	ls, err := s.lookup(userID, sessionID)
	if err != nil {
		return nil, err
	}

	c := ls.ctrl
	switch intent.Action {
	case model.ActionSelectAnswer:
		err = c.SelectAnswer(intent.OptionID)
	case model.ActionClearAnswer:
		c.ClearAnswer()
	case model.ActionToggleFlag:
		c.ToggleFlag()
	case model.ActionGoTo:
		if intent.Index == nil {
			return nil, assessment.ErrInvalidIndex
		}
		err = c.GoTo(*intent.Index)
	case model.ActionAdvance:
		c.Advance()
	case model.ActionRetreat:
		c.Retreat()
	case model.ActionSubmitRequest:
		c.RequestSubmit()
	case model.ActionConfirmSubmit:
		c.ConfirmSubmit()
	case model.ActionCancelSubmit:
		c.CancelSubmit()
	default:
		return nil, ErrUnknownAction
	}
	if err != nil {
		return nil, err
	}

	s.broadcastState(ls)
	return viewOf(ls), nil
}

// Attempt returns the graded attempt once the session has completed.
func (s *SessionService) Attempt(userID int, sessionID uuid.UUID) (*model.Attempt, bool, error) {
	ls, err := s.lookup(userID, sessionID)
	if err != nil {
		return nil, false, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.attempt == nil {
		return nil, false, nil
	}
	a := *ls.attempt
	return &a, true, nil
}

// Subscribe streams a session's events. The current state is delivered
// first. The channel closes when the session is evicted or cancel is called.
func (s *SessionService) Subscribe(userID int, sessionID uuid.UUID) (<-chan SessionEvent, func(), error) {
	ls, err := s.lookup(userID, sessionID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan SessionEvent, subscriberBuffer)

	// Registration and the first snapshot share ls.mu with broadcastState,
	// so no event can fall between them.
	ls.mu.Lock()
	st := ls.ctrl.Snapshot()
	ch <- SessionEvent{Type: SessionEventState, SessionID: ls.id, State: &st}
	if ls.attempt != nil {
		a := *ls.attempt
		ch <- SessionEvent{Type: SessionEventCompleted, SessionID: ls.id, Attempt: &a}
	}
	if ls.closed {
		ls.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	id := ls.nextSub
	ls.nextSub++
	ls.subs[id] = ch
	ls.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			ls.mu.Lock()
			defer ls.mu.Unlock()
			if sub, ok := ls.subs[id]; ok {
				delete(ls.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel, nil
}

// Shutdown halts every countdown and closes all streams. Unfinished sessions
// are abandoned.
func (s *SessionService) Shutdown() {
	s.mu.Lock()
	all := make([]*liveSession, 0, len(s.sessions))
	for _, ls := range s.sessions {
		all = append(all, ls)
	}
	s.sessions = make(map[uuid.UUID]*liveSession)
	s.active = make(map[string]uuid.UUID)
	s.mu.Unlock()

	for _, ls := range all {
		ls.ctrl.Close()
		ls.closeSubs()
	}
	s.log.Info().Int("sessions", len(all)).Msg("Session service stopped")
}

func (s *SessionService) lookup(userID int, sessionID uuid.UUID) (*liveSession, error) {
	s.mu.Lock()
	ls, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if ls.userID != userID {
		return nil, ErrSessionNotOwned
	}
	return ls, nil
}

func (s *SessionService) onEvent(ls *liveSession, ev assessment.Event) {
	out := SessionEvent{
		Type:      SessionEventType(ev.Type),
		SessionID: ls.id,
		Summary:   ev.Summary,
		Result:    ev.Result,
	}

	if ev.Type == assessment.EventCompleted && ev.Result != nil {
		out.Attempt = s.finalize(ls, *ev.Result)
	}
	s.broadcast(ls, out)
}

// finalize builds the attempt from a completed session, grades it when the
// answer key is reachable, queues it for persistence and schedules eviction.
// An attempt is always queued; ungraded ones are graded by the worker.
func (s *SessionService) finalize(ls *liveSession, res assessment.Result) *model.Attempt {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log := s.log.With().Str("session_id", ls.id.String()).Logger()

	s.mu.Lock()
	delete(s.active, fmt.Sprintf("%d:%s", ls.userID, ls.testID))
	s.mu.Unlock()
	if err := s.rdb.Del(ctx, config.CacheKey.UserActiveSessionKey(ls.userID, ls.testID.String())).Err(); err != nil {
		log.Warn().Err(err).Msg("Failed to clear active session")
	}

	time.AfterFunc(s.retention, func() { s.evict(ls.id) })

	questions := ls.ctrl.Questions()
	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}

	attempt := &model.Attempt{
		ID:              uuid.New(),
		SessionID:       ls.id,
		TestID:          ls.testID,
		UserID:          ls.userID,
		QuestionIDs:     ids,
		Answers:         res.Answers,
		Flags:           res.Flags,
		QuestionCount:   len(questions),
		TimeUsedSeconds: res.TimeUsedSeconds,
		Reason:          string(res.Reason),
		StartedAt:       ls.startedAt,
		FinishedAt:      s.now(),
	}

	if key, err := s.papers.GetAnswerKey(ctx, ls.testID); err != nil {
		log.Error().Err(err).Msg("Answer key unavailable, queueing attempt ungraded")
	} else {
		attempt.Grade(key)
	}

	payload, err := json.Marshal(attempt)
	if err == nil {
		err = s.rdb.RPush(ctx, config.WorkerKey.PersistAttemptsQueue, payload).Err()
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to queue attempt")
	}

	if s.observer != nil && attempt.Graded {
		if _, err := s.observer.AttemptCompleted(ctx, ls.userID, ls.testID, attempt.Score); err != nil {
			log.Warn().Err(err).Msg("Failed to record attempt progress")
		}
	}

	log.Info().
		Str("reason", attempt.Reason).
		Bool("graded", attempt.Graded).
		Int("correct", attempt.CorrectCount).
		Float64("score", attempt.Score).
		Msg("Session completed")

	return attempt
}

func (s *SessionService) evict(id uuid.UUID) {
	s.mu.Lock()
	ls, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		ls.closeSubs()
	}
}

// broadcastState snapshots under ls.mu so that subscribers receive states in
// the order the controller produced them.
func (s *SessionService) broadcastState(ls *liveSession) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	st := ls.ctrl.Snapshot()
	ev := SessionEvent{Type: SessionEventState, SessionID: ls.id, State: &st}
	for _, ch := range ls.subs {
		deliver(ch, ev)
	}
}

func (s *SessionService) broadcast(ls *liveSession, ev SessionEvent) {
	ls.mu.Lock()
	if ev.Type == SessionEventCompleted && ev.Attempt != nil {
		a := *ev.Attempt
		ls.attempt = &a
	}
	for _, ch := range ls.subs {
		deliver(ch, ev)
	}
	ls.mu.Unlock()

	// Only phase-changing events go to Redis.
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.rdb.Publish(ctx, config.CacheKey.SessionEventsChannel(ls.id.String()), payload).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", ls.id.String()).Msg("Failed to publish session event")
	}
}

// deliver sends ev without blocking, discarding the oldest queued event
// when the subscriber is full.
func deliver(ch chan SessionEvent, ev SessionEvent) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (ls *liveSession) closeSubs() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.closed = true
	for id, ch := range ls.subs {
		delete(ls.subs, id)
		close(ch)
	}
}

func viewOf(ls *liveSession) *model.SessionView {
	return &model.SessionView{
		SessionID: ls.id,
		TestID:    ls.testID,
		State:     ls.ctrl.Snapshot(),
	}
}

// observedClock calls after once each tick has been applied.
type observedClock struct {
	inner assessment.Clock
	after func()
}

func (c *observedClock) Every(d time.Duration, fn func()) func() {
	return c.inner.Every(d, func() {
		fn()
		c.after()
	})
}
