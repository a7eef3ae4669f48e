package assessment

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestManualClockStops(t *testing.T) {
	clock := NewManualClock()
	var calls int
	stop := clock.Every(time.Second, func() { calls++ })

	clock.Advance(3)
	stop()
	stop()
	clock.Advance(3)

	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if clock.Active() != 0 {
		t.Fatalf("expected no active callbacks")
	}
}

func TestTickerClockDrivesController(t *testing.T) {
	var expired atomic.Bool
	c, err := New(sampleQuestions(1), 3,
		WithTickInterval(5*time.Millisecond),
		WithListener(func(ev Event) {
			if ev.Type == EventTimeExpired {
				expired.Store(true)
			}
		}),
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c.Run(TickerClock{})

	deadline := time.Now().Add(2 * time.Second)
	for c.Phase() != PhaseCompleted {
		if time.Now().After(deadline) {
			t.Fatalf("timer never expired, remaining %d", c.Snapshot().TimeRemainingSeconds)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !expired.Load() {
		t.Fatalf("expected TimeExpired event")
	}
}

func TestCloseStopsCountdown(t *testing.T) {
	c, _ := New(sampleQuestions(1), 10)
	clock := NewManualClock()
	c.Run(clock)
	c.Close()

	clock.Advance(5)
	if got := c.Snapshot().TimeRemainingSeconds; got != 10 {
		t.Fatalf("expected countdown halted at 10, got %d", got)
	}
	if c.Phase() != PhaseRunning {
		t.Fatalf("close must not complete the session")
	}
}
