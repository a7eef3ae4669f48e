package model

import (
	"github.com/google/uuid"
	"github.com/stemsi/gate-backend/internal/assessment"
)

// Action is a learner intent applied to a running session.
type Action string

const (
	ActionSelectAnswer  Action = "select_answer"
	ActionClearAnswer   Action = "clear_answer"
	ActionToggleFlag    Action = "toggle_flag"
	ActionGoTo          Action = "go_to"
	ActionAdvance       Action = "advance"
	ActionRetreat       Action = "retreat"
	ActionSubmitRequest Action = "submit_request"
	ActionConfirmSubmit Action = "confirm_submit"
	ActionCancelSubmit  Action = "cancel_submit"
)

// Intent is one action with its argument, if any.
type Intent struct {
	Action   Action `json:"action" binding:"required,oneof=select_answer clear_answer toggle_flag go_to advance retreat submit_request confirm_submit cancel_submit"`
	OptionID string `json:"option_id" binding:"required_if=Action select_answer,max=10"`
	Index    *int   `json:"index" binding:"required_if=Action go_to"`
}

// SessionView is what a learner sees of a live session.
type SessionView struct {
	SessionID uuid.UUID        `json:"session_id"`
	TestID    uuid.UUID        `json:"test_id"`
	State     assessment.State `json:"state"`
}
