// Package assessment implements the timed test-taking state machine shared by
// every subject: answers, flags, free navigation, a countdown driven by an
// injectable Clock, and the submission gate.
package assessment

import (
	"sync"
	"time"
)

// DefaultTickInterval is one countdown step.
const DefaultTickInterval = time.Second

type options struct {
	listener Listener
	interval time.Duration
}

// Option customizes a Controller.
type Option func(*options)

// WithListener registers the event listener.
func WithListener(l Listener) Option {
	return func(o *options) { o.listener = l }
}

// WithTickInterval overrides the real-time length of one countdown second.
func WithTickInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// Controller owns one assessment session. All methods are safe for
// concurrent use; each call runs to completion before the next is applied.
type Controller[C any] struct {
	mu sync.Mutex

	questions []Question[C]
	answers   []string
	flags     []bool
	current   int
	initial   int
	remaining int
	phase     Phase
	summary   *Summary
	result    *Result

	stop     func()
	listener Listener
	interval time.Duration
}

// New starts a session over questions with initialSeconds on the clock. The
// countdown does not advance until Run is called or Tick is driven directly.
func New[C any](questions []Question[C], initialSeconds int, opts ...Option) (*Controller[C], error) {
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	if initialSeconds <= 0 {
		return nil, ErrInvalidDuration
	}

	o := options{interval: DefaultTickInterval}
	for _, opt := range opts {
		opt(&o)
	}

	owned := make([]Question[C], len(questions))
	for i, q := range questions {
		owned[i] = Question[C]{
			ID:      q.ID,
			Options: append([]string(nil), q.Options...),
			Content: q.Content,
		}
	}

	return &Controller[C]{
		questions: owned,
		answers:   make([]string, len(owned)),
		flags:     make([]bool, len(owned)),
		initial:   initialSeconds,
		remaining: initialSeconds,
		phase:     PhaseRunning,
		listener:  o.listener,
		interval:  o.interval,
	}, nil
}

// Run registers the countdown with clock. Calling Run on a running or
// completed controller does nothing.
func (c *Controller[C]) Run(clock Clock) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil || c.phase == PhaseCompleted {
		return
	}
	c.stop = clock.Every(c.interval, c.Tick)
}

// Close stops the countdown without completing the session (abandonment).
func (c *Controller[C]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopClockLocked()
}

// Questions returns the question set in order.
func (c *Controller[C]) Questions() []Question[C] {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Question[C], len(c.questions))
	copy(out, c.questions)
	return out
}

// Tick consumes one second. While the session is open (running or awaiting
// confirmation) the countdown advances; reaching zero completes the session.
func (c *Controller[C]) Tick() {
	c.apply(func() []Event {
		if c.phase == PhaseCompleted || c.remaining == 0 {
			return nil
		}
		c.remaining--
		if c.remaining > 0 {
			return nil
		}
		return append([]Event{{Type: EventTimeExpired}}, c.completeLocked(ReasonTimeExpired)...)
	})
}

// SelectAnswer records optionID for the active question, overwriting any
// earlier choice.
func (c *Controller[C]) SelectAnswer(optionID string) error {
	var err error
	c.apply(func() []Event {
		if c.phase != PhaseRunning {
			return nil
		}
		if !c.offersLocked(optionID) {
			err = ErrUnknownOption
			return nil
		}
		c.answers[c.current] = optionID
		return nil
	})
	return err
}

// ClearAnswer resets the active question to unanswered.
func (c *Controller[C]) ClearAnswer() {
	c.apply(func() []Event {
		if c.phase == PhaseRunning {
			c.answers[c.current] = ""
		}
		return nil
	})
}

// ToggleFlag inverts the review flag on the active question.
func (c *Controller[C]) ToggleFlag() {
	c.apply(func() []Event {
		if c.phase == PhaseRunning {
			c.flags[c.current] = !c.flags[c.current]
		}
		return nil
	})
}

// GoTo jumps to index. Any question is reachable from any other.
func (c *Controller[C]) GoTo(index int) error {
	var err error
	c.apply(func() []Event {
		if c.phase != PhaseRunning {
			return nil
		}
		if index < 0 || index >= len(c.questions) {
			err = ErrInvalidIndex
			return nil
		}
		c.current = index
		return nil
	})
	return err
}

// Advance moves to the next question. On the last question it attempts to
// finish the session through the submission gate instead.
func (c *Controller[C]) Advance() {
	c.apply(func() []Event {
		if c.phase != PhaseRunning {
			return nil
		}
		if c.current < len(c.questions)-1 {
			c.current++
			return nil
		}
		return c.gateLocked()
	})
}

// Retreat moves to the previous question; at the first question it does nothing.
func (c *Controller[C]) Retreat() {
	c.apply(func() []Event {
		if c.phase == PhaseRunning && c.current > 0 {
			c.current--
		}
		return nil
	})
}

// RequestSubmit runs the submission gate.
func (c *Controller[C]) RequestSubmit() {
	c.apply(func() []Event {
		if c.phase != PhaseRunning {
			return nil
		}
		return c.gateLocked()
	})
}

// ConfirmSubmit completes a session that is awaiting confirmation.
func (c *Controller[C]) ConfirmSubmit() {
	c.apply(func() []Event {
		if c.phase != PhaseAwaitingSubmitConfirmation {
			return nil
		}
		return c.completeLocked(ReasonSubmitted)
	})
}

// CancelSubmit returns control to the learner without moving the cursor.
func (c *Controller[C]) CancelSubmit() {
	c.apply(func() []Event {
		if c.phase == PhaseAwaitingSubmitConfirmation {
			c.phase = PhaseRunning
			c.summary = nil
		}
		return nil
	})
}

// Snapshot returns a copy of the current state.
func (c *Controller[C]) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{
		CurrentIndex:         c.current,
		Answers:              append([]string(nil), c.answers...),
		Flags:                append([]bool(nil), c.flags...),
		Statuses:             make([]QuestionStatus, len(c.answers)),
		TimeRemainingSeconds: c.remaining,
		InitialSeconds:       c.initial,
		Warning:              c.remaining <= WarningThresholdSeconds,
		Phase:                c.phase,
	}
	for i := range c.answers {
		st.Statuses[i] = Status(c.answers[i], c.flags[i])
	}
	if c.summary != nil {
		s := Summary{
			Unanswered: append([]int{}, c.summary.Unanswered...),
			Flagged:    append([]int{}, c.summary.Flagged...),
		}
		st.Summary = &s
	}
	return st
}

// Result returns the final handoff once the session has completed.
func (c *Controller[C]) Result() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return Result{}, false
	}
	return copyResult(*c.result), true
}

// Phase returns the current phase.
func (c *Controller[C]) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller[C]) apply(fn func() []Event) {
	c.mu.Lock()
	events := fn()
	listener := c.listener
	c.mu.Unlock()

	if listener == nil {
		return
	}
	for _, ev := range events {
		listener(ev)
	}
}

func (c *Controller[C]) offersLocked(optionID string) bool {
	if optionID == "" {
		return false
	}
	for _, o := range c.questions[c.current].Options {
		if o == optionID {
			return true
		}
	}
	return false
}

func (c *Controller[C]) gateLocked() []Event {
	s := Summarize(c.answers, c.flags)
	if s.Clean() {
		return c.completeLocked(ReasonSubmitted)
	}
	c.phase = PhaseAwaitingSubmitConfirmation
	c.summary = &s

	ev := Summary{
		Unanswered: append([]int{}, s.Unanswered...),
		Flagged:    append([]int{}, s.Flagged...),
	}
	return []Event{{Type: EventSubmitConfirmationRequested, Summary: &ev}}
}

func (c *Controller[C]) completeLocked(reason CompletionReason) []Event {
	c.phase = PhaseCompleted
	c.summary = nil
	c.stopClockLocked()

	c.result = &Result{
		Answers:         append([]string(nil), c.answers...),
		Flags:           append([]bool(nil), c.flags...),
		TimeUsedSeconds: c.initial - c.remaining,
		Reason:          reason,
	}
	res := copyResult(*c.result)
	return []Event{{Type: EventCompleted, Result: &res}}
}

func (c *Controller[C]) stopClockLocked() {
	if c.stop != nil {
		c.stop()
	}
}

func copyResult(r Result) Result {
	return Result{
		Answers:         append([]string(nil), r.Answers...),
		Flags:           append([]bool(nil), r.Flags...),
		TimeUsedSeconds: r.TimeUsedSeconds,
		Reason:          r.Reason,
	}
}
