package model

import (
	"time"

	"github.com/google/uuid"
)

// Subject enumerates the practice sections of the GATE paper.
type Subject string

const (
	SubjectAbstractReasoning    Subject = "ABSTRACT_REASONING"
	SubjectReadingComprehension Subject = "READING_COMPREHENSION"
	SubjectWriting              Subject = "WRITING"
)

// TestStatus enumerates the lifecycle of a practice test.
type TestStatus string

const (
	TestStatusDraft     TestStatus = "DRAFT"
	TestStatusPublished TestStatus = "PUBLISHED"
)

// Test is a timed practice or mock test.
type Test struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Subject         Subject    `json:"subject"`
	DurationSeconds int        `json:"duration_seconds"`
	QuestionCount   int        `json:"question_count"`
	Status          TestStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CreateTestRequest is the payload for creating a new test.
type CreateTestRequest struct {
	Title           string `json:"title" binding:"required,min=3,max=255"`
	Subject         string `json:"subject" binding:"required,oneof=ABSTRACT_REASONING READING_COMPREHENSION WRITING"`
	DurationSeconds int    `json:"duration_seconds" binding:"required,min=60,max=28800"`
}

// TestPaper is the Redis-cached payload sent to learners (no correct answers).
type TestPaper struct {
	TestID          uuid.UUID       `json:"test_id"`
	Title           string          `json:"title"`
	Subject         Subject         `json:"subject"`
	DurationSeconds int             `json:"duration_seconds"`
	Questions       []PaperQuestion `json:"questions"`
}

// PaperQuestion is a question without its correct option.
type PaperQuestion struct {
	ID      uuid.UUID       `json:"id"`
	Options []Option        `json:"options"`
	Content QuestionContent `json:"content"`
}

// Labels returns the option labels in display order.
func (q PaperQuestion) Labels() []string {
	labels := make([]string, len(q.Options))
	for i, o := range q.Options {
		labels[i] = o.Label
	}
	return labels
}
