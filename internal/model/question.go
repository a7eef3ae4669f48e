package model

import (
	"github.com/google/uuid"
)

// Option is one selectable choice. Label is the identifier recorded as the
// answer ("A", "B", ...).
type Option struct {
	Label string `json:"label" yaml:"label" binding:"required,option_label"`
	Text  string `json:"text" yaml:"text" binding:"required,max=2000"`
}

// QuestionContent is everything needed to render a question. The session
// controller carries it but never inspects it.
type QuestionContent struct {
	Prompt   string `json:"prompt" yaml:"prompt"`
	Passage  string `json:"passage,omitempty" yaml:"passage,omitempty"`
	ImageURL string `json:"image_url,omitempty" yaml:"image_url,omitempty"`
}

// Question represents a single test question.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	TestID        uuid.UUID       `json:"test_id"`
	Content       QuestionContent `json:"content"`
	Options       []Option        `json:"options"`
	CorrectOption string          `json:"correct_option"`
	OrderNum      int             `json:"order_num"`
}

// AddQuestionRequest is the payload for one question added to a test.
type AddQuestionRequest struct {
	Prompt        string   `json:"prompt" binding:"required,min=1,max=4000"`
	Passage       string   `json:"passage" binding:"max=20000"`
	ImageURL      string   `json:"image_url" binding:"omitempty,url"`
	Options       []Option `json:"options" binding:"required,min=2,max=6,dive"`
	CorrectOption string   `json:"correct_option" binding:"required,option_label"`
}

// AddQuestionsRequest appends questions to a draft test.
type AddQuestionsRequest struct {
	Questions []AddQuestionRequest `json:"questions" binding:"required,min=1,dive"`
}
