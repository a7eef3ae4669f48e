package websocket

import "github.com/stemsi/gate-backend/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

// ActionPing keeps an idle connection alive. Every other action is a
// session intent (model.Action).
const ActionPing model.Action = "ping"

// Request is one client message. Intent fields are only read for the
// actions that take them.
type Request struct {
	Action   model.Action `json:"action"`
	OptionID string       `json:"option_id,omitempty"`
	Index    *int         `json:"index,omitempty"`
}

// Intent converts the request into a session intent.
func (r Request) Intent() model.Intent {
	return model.Intent{Action: r.Action, OptionID: r.OptionID, Index: r.Index}
}

// ─── Events (Server → Client) ───────────────────────────────────────
// Session events (state, submit_confirmation_requested, time_expired,
// completed) are forwarded as service.SessionEvent.

type Event string

const (
	EventError Event = "error"
	EventPong  Event = "pong"
)

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
