package assessment

import "errors"

// Phase is the coarse state of an assessment session.
type Phase string

const (
	PhaseRunning                    Phase = "RUNNING"
	PhaseAwaitingSubmitConfirmation Phase = "AWAITING_SUBMIT_CONFIRMATION"
	PhaseCompleted                  Phase = "COMPLETED"
)

// QuestionStatus is the per-question view consumed by the question tracker.
type QuestionStatus string

const (
	StatusBlank    QuestionStatus = "blank"
	StatusAnswered QuestionStatus = "answered"
	StatusFlagged  QuestionStatus = "flagged"
)

// CompletionReason tells the result sink how the session ended.
type CompletionReason string

const (
	ReasonSubmitted   CompletionReason = "SUBMITTED"
	ReasonTimeExpired CompletionReason = "TIME_EXPIRED"
)

// WarningThresholdSeconds is the remaining time at or below which the timer
// is shown in its warning state.
const WarningThresholdSeconds = 60

var (
	ErrNoQuestions     = errors.New("assessment has no questions")
	ErrInvalidDuration = errors.New("initial duration must be positive")
	ErrInvalidIndex    = errors.New("question index out of range")
	ErrUnknownOption   = errors.New("option is not offered by the current question")
)

// Question is one assessable item. Content is carried along for rendering
// and never inspected by the controller.
type Question[C any] struct {
	ID      string   `json:"id"`
	Options []string `json:"options"`
	Content C        `json:"content"`
}

// Summary lists the 1-based question numbers that block a direct submit.
type Summary struct {
	Unanswered []int `json:"unanswered"`
	Flagged    []int `json:"flagged"`
}

// Clean reports whether nothing is unanswered or flagged.
func (s Summary) Clean() bool {
	return len(s.Unanswered) == 0 && len(s.Flagged) == 0
}

// State is a read-only snapshot of a session.
type State struct {
	CurrentIndex         int              `json:"current_index"`
	Answers              []string         `json:"answers"`
	Flags                []bool           `json:"flags"`
	Statuses             []QuestionStatus `json:"statuses"`
	TimeRemainingSeconds int              `json:"time_remaining_seconds"`
	InitialSeconds       int              `json:"initial_seconds"`
	Warning              bool             `json:"warning"`
	Phase                Phase            `json:"phase"`
	Summary              *Summary         `json:"summary,omitempty"`
}

// Result is the immutable handoff produced when a session completes.
type Result struct {
	Answers         []string         `json:"answers"`
	Flags           []bool           `json:"flags"`
	TimeUsedSeconds int              `json:"time_used_seconds"`
	Reason          CompletionReason `json:"reason"`
}

// Status derives a question's tracker status. Flagged wins over answered.
func Status(answer string, flagged bool) QuestionStatus {
	switch {
	case flagged:
		return StatusFlagged
	case answer != "":
		return StatusAnswered
	default:
		return StatusBlank
	}
}

// Summarize computes the unanswered and flagged lists (1-based, ascending).
func Summarize(answers []string, flags []bool) Summary {
	s := Summary{Unanswered: []int{}, Flagged: []int{}}
	for i, a := range answers {
		if a == "" {
			s.Unanswered = append(s.Unanswered, i+1)
		}
	}
	for i, f := range flags {
		if f {
			s.Flagged = append(s.Flagged, i+1)
		}
	}
	return s
}
