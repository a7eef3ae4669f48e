package model

import (
	"time"

	"github.com/google/uuid"
)

// VideoProgress tracks how far a learner has watched a lesson.
type VideoProgress struct {
	LessonID        string    `json:"lesson_id"`
	PositionSeconds int       `json:"position_seconds"`
	DurationSeconds int       `json:"duration_seconds"`
	Percent         float64   `json:"percent"`
	Completed       bool      `json:"completed"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RecordVideoProgressRequest reports the player position.
type RecordVideoProgressRequest struct {
	PositionSeconds int `json:"position_seconds" binding:"min=0"`
	DurationSeconds int `json:"duration_seconds" binding:"required,min=1"`
}

// Note is a learner's timestamped note on a lesson.
type Note struct {
	ID        uuid.UUID `json:"id"`
	LessonID  string    `json:"lesson_id"`
	Text      string    `json:"text"`
	AtSeconds int       `json:"at_seconds"`
	CreatedAt time.Time `json:"created_at"`
}

// AddNoteRequest is the payload for adding a note.
type AddNoteRequest struct {
	LessonID  string `json:"lesson_id" binding:"required,max=100"`
	Text      string `json:"text" binding:"required,min=1,max=2000"`
	AtSeconds int    `json:"at_seconds" binding:"min=0"`
}

// AchievementCode identifies an unlockable badge.
type AchievementCode string

const (
	AchievementFirstLesson  AchievementCode = "first-lesson"
	AchievementFiveLessons  AchievementCode = "five-lessons"
	AchievementFirstTest    AchievementCode = "first-test"
	AchievementPerfectScore AchievementCode = "perfect-score"
)

// Achievement is an unlocked badge.
type Achievement struct {
	Code       AchievementCode `json:"code"`
	UnlockedAt time.Time       `json:"unlocked_at"`
}
