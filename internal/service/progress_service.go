package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/gate-backend/internal/config"
	"github.com/stemsi/gate-backend/internal/model"
	"github.com/stemsi/gate-backend/internal/storage"
)

// ErrNoteNotFound is returned when deleting a note the learner does not own.
var ErrNoteNotFound = errors.New("note not found")

const fiveLessons = 5

// ProgressService tracks lesson videos, notes and achievements per learner.
// Each learner's documents live as JSON values in a storage.Store; writes for
// one learner are serialized.
type ProgressService struct {
	store           storage.Store
	completePercent float64
	now             func() time.Time
	locks           sync.Map // userID -> *sync.Mutex
	log             zerolog.Logger
}

// NewProgressService creates a new ProgressService.
func NewProgressService(store storage.Store, completePercent float64, log zerolog.Logger) *ProgressService {
	return &ProgressService{
		store:           store,
		completePercent: completePercent,
		now:             time.Now,
		log:             log.With().Str("component", "progress_service").Logger(),
	}
}

// RecordVideoProgress stores the furthest watched position of a lesson.
// Returns the updated progress and any achievements unlocked by it.
func (s *ProgressService) RecordVideoProgress(ctx context.Context, userID int, lessonID string, positionSec, durationSec int) (*model.VideoProgress, []model.Achievement, error) {
	if durationSec <= 0 {
		return nil, nil, fmt.Errorf("duration must be positive")
	}

	unlock := s.lock(userID)
	defer unlock()

	videos := map[string]model.VideoProgress{}
	if err := s.load(ctx, config.CacheKey.VideoProgressKey(userID), &videos); err != nil {
		return nil, nil, err
	}

	p := videos[lessonID]
	p.LessonID = lessonID
	p.DurationSeconds = durationSec
	if positionSec > durationSec {
		positionSec = durationSec
	}
	if positionSec > p.PositionSeconds {
		p.PositionSeconds = positionSec
	}
	p.Percent = clampPercent(float64(p.PositionSeconds) / float64(durationSec) * 100)
	wasComplete := p.Completed
	// Completion is sticky once reached.
	p.Completed = p.Completed || p.Percent >= s.completePercent
	p.UpdatedAt = s.now()
	videos[lessonID] = p

	if err := s.save(ctx, config.CacheKey.VideoProgressKey(userID), videos); err != nil {
		return nil, nil, err
	}

	var unlocked []model.Achievement
	if p.Completed && !wasComplete {
		completed := 0
		for _, v := range videos {
			if v.Completed {
				completed++
			}
		}
		codes := []model.AchievementCode{}
		if completed >= 1 {
			codes = append(codes, model.AchievementFirstLesson)
		}
		if completed >= fiveLessons {
			codes = append(codes, model.AchievementFiveLessons)
		}
		var err error
		if unlocked, err = s.unlockLocked(ctx, userID, codes...); err != nil {
			return nil, nil, err
		}
	}
	return &p, unlocked, nil
}

// VideoProgress returns one lesson's progress; an unseen lesson reports zero.
func (s *ProgressService) VideoProgress(ctx context.Context, userID int, lessonID string) (*model.VideoProgress, error) {
	videos := map[string]model.VideoProgress{}
	if err := s.load(ctx, config.CacheKey.VideoProgressKey(userID), &videos); err != nil {
		return nil, err
	}
	p, ok := videos[lessonID]
	if !ok {
		p = model.VideoProgress{LessonID: lessonID}
	}
	return &p, nil
}

// ListVideoProgress returns every tracked lesson, ordered by lesson ID.
func (s *ProgressService) ListVideoProgress(ctx context.Context, userID int) ([]model.VideoProgress, error) {
	videos := map[string]model.VideoProgress{}
	if err := s.load(ctx, config.CacheKey.VideoProgressKey(userID), &videos); err != nil {
		return nil, err
	}
	out := make([]model.VideoProgress, 0, len(videos))
	for _, v := range videos {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessonID < out[j].LessonID })
	return out, nil
}

// AddNote attaches a timestamped note to a lesson.
func (s *ProgressService) AddNote(ctx context.Context, userID int, lessonID, text string, atSec int) (*model.Note, error) {
	unlock := s.lock(userID)
	defer unlock()

	var notes []model.Note
	if err := s.load(ctx, config.CacheKey.NotesKey(userID), &notes); err != nil {
		return nil, err
	}

	n := model.Note{
		ID:        uuid.New(),
		LessonID:  lessonID,
		Text:      text,
		AtSeconds: atSec,
		CreatedAt: s.now(),
	}
	notes = append(notes, n)
	if err := s.save(ctx, config.CacheKey.NotesKey(userID), notes); err != nil {
		return nil, err
	}
	return &n, nil
}

// ListNotes returns a lesson's notes ordered by video timestamp.
func (s *ProgressService) ListNotes(ctx context.Context, userID int, lessonID string) ([]model.Note, error) {
	var notes []model.Note
	if err := s.load(ctx, config.CacheKey.NotesKey(userID), &notes); err != nil {
		return nil, err
	}

	out := make([]model.Note, 0, len(notes))
	for _, n := range notes {
		if n.LessonID == lessonID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AtSeconds < out[j].AtSeconds })
	return out, nil
}

// DeleteNote removes one of the learner's notes.
func (s *ProgressService) DeleteNote(ctx context.Context, userID int, noteID uuid.UUID) error {
	unlock := s.lock(userID)
	defer unlock()

	var notes []model.Note
	if err := s.load(ctx, config.CacheKey.NotesKey(userID), &notes); err != nil {
		return err
	}

	for i, n := range notes {
		if n.ID == noteID {
			notes = append(notes[:i], notes[i+1:]...)
			return s.save(ctx, config.CacheKey.NotesKey(userID), notes)
		}
	}
	return ErrNoteNotFound
}

// AttemptCompleted records a finished test and unlocks test achievements.
func (s *ProgressService) AttemptCompleted(ctx context.Context, userID int, testID uuid.UUID, score float64) ([]model.Achievement, error) {
	unlock := s.lock(userID)
	defer unlock()

	completed := map[string]time.Time{}
	if err := s.load(ctx, config.CacheKey.CompletedTestsKey(userID), &completed); err != nil {
		return nil, err
	}
	if _, seen := completed[testID.String()]; !seen {
		completed[testID.String()] = s.now()
		if err := s.save(ctx, config.CacheKey.CompletedTestsKey(userID), completed); err != nil {
			return nil, err
		}
	}

	codes := []model.AchievementCode{model.AchievementFirstTest}
	if score >= 100 {
		codes = append(codes, model.AchievementPerfectScore)
	}
	return s.unlockLocked(ctx, userID, codes...)
}

// ListAchievements returns unlocked achievements in unlock order.
func (s *ProgressService) ListAchievements(ctx context.Context, userID int) ([]model.Achievement, error) {
	achievements := []model.Achievement{}
	if err := s.load(ctx, config.CacheKey.AchievementsKey(userID), &achievements); err != nil {
		return nil, err
	}
	return achievements, nil
}

// unlockLocked adds codes not yet held and returns only the new ones.
// The caller holds the learner's lock.
func (s *ProgressService) unlockLocked(ctx context.Context, userID int, codes ...model.AchievementCode) ([]model.Achievement, error) {
	var held []model.Achievement
	if err := s.load(ctx, config.CacheKey.AchievementsKey(userID), &held); err != nil {
		return nil, err
	}

	has := make(map[model.AchievementCode]bool, len(held))
	for _, a := range held {
		has[a.Code] = true
	}

	var fresh []model.Achievement
	for _, code := range codes {
		if has[code] {
			continue
		}
		has[code] = true
		a := model.Achievement{Code: code, UnlockedAt: s.now()}
		held = append(held, a)
		fresh = append(fresh, a)
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	if err := s.save(ctx, config.CacheKey.AchievementsKey(userID), held); err != nil {
		return nil, err
	}
	for _, a := range fresh {
		s.log.Info().Int("user_id", userID).Str("code", string(a.Code)).Msg("Achievement unlocked")
	}
	return fresh, nil
}

func (s *ProgressService) lock(userID int) func() {
	v, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *ProgressService) load(ctx context.Context, key string, dst any) error {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *ProgressService) save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.store.Set(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
