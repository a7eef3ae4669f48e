package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Attempt is the persisted outcome of one completed session.
type Attempt struct {
	ID              uuid.UUID `json:"id"`
	SessionID       uuid.UUID `json:"session_id"`
	TestID          uuid.UUID `json:"test_id"`
	UserID          int       `json:"user_id"`
	QuestionIDs     []string  `json:"question_ids"`
	Answers         []string  `json:"answers"`
	Flags           []bool    `json:"flags"`
	CorrectCount    int       `json:"correct_count"`
	QuestionCount   int       `json:"question_count"`
	Score           float64   `json:"score"`
	Graded          bool      `json:"graded"`
	TimeUsedSeconds int       `json:"time_used_seconds"`
	Reason          string    `json:"reason"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Grade scores the attempt against an answer key keyed by question ID.
// Unanswered questions count as wrong.
func (a *Attempt) Grade(key map[string]string) {
	correct := 0
	for i, id := range a.QuestionIDs {
		if i < len(a.Answers) && a.Answers[i] != "" && a.Answers[i] == key[id] {
			correct++
		}
	}
	a.CorrectCount = correct
	a.QuestionCount = len(a.QuestionIDs)
	a.Score = ScorePercent(correct, a.QuestionCount)
	a.Graded = true
}

// ScorePercent is the percentage of correct answers, rounded to two decimals.
func ScorePercent(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(correct)/float64(total)*10000) / 100
}

// PageQuery carries the page and per_page query parameters.
type PageQuery struct {
	Page    int `form:"page" binding:"omitempty,min=1"`
	PerPage int `form:"per_page" binding:"omitempty,min=1,max=100"`
}
