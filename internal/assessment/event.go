package assessment

// EventType identifies a one-shot notification emitted by a Controller.
type EventType string

const (
	EventSubmitConfirmationRequested EventType = "submit_confirmation_requested"
	EventTimeExpired                 EventType = "time_expired"
	EventCompleted                   EventType = "completed"
)

// Event is delivered to the Listener after the mutation that caused it.
// Summary is set for EventSubmitConfirmationRequested, Result for
// EventCompleted.
type Event struct {
	Type    EventType `json:"type"`
	Summary *Summary  `json:"summary,omitempty"`
	Result  *Result   `json:"result,omitempty"`
}

// Listener receives controller events in emission order. It runs outside the
// controller's lock, so it may call back into the controller.
type Listener func(Event)
