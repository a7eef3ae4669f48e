package assessment

import (
	"sync"
	"time"
)

// Clock schedules a callback at a fixed interval until the returned stop
// function is called. Stop must be safe to call more than once.
type Clock interface {
	Every(interval time.Duration, fn func()) (stop func())
}

// TickerClock is the wall-clock implementation backed by time.Ticker.
type TickerClock struct{}

// Every starts a goroutine that invokes fn on every tick.
func (TickerClock) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// ManualClock fires registered callbacks only when advanced. Used in tests
// and anywhere ticks must be driven deterministically.
type ManualClock struct {
	mu      sync.Mutex
	nextID  int
	entries map[int]func()
}

// NewManualClock creates an idle ManualClock.
func NewManualClock() *ManualClock {
	return &ManualClock{entries: make(map[int]func())}
}

// Every registers fn. The interval is ignored; every Advance step is one tick.
func (c *ManualClock) Every(_ time.Duration, fn func()) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.entries[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.entries, id)
		c.mu.Unlock()
	}
}

// Advance fires n ticks. Callbacks stopped mid-way stop receiving ticks.
func (c *ManualClock) Advance(n int) {
	for i := 0; i < n; i++ {
		c.mu.Lock()
		fns := make([]func(), 0, len(c.entries))
		for _, fn := range c.entries {
			fns = append(fns, fn)
		}
		c.mu.Unlock()

		for _, fn := range fns {
			fn()
		}
	}
}

// Active reports how many callbacks are still registered.
func (c *ManualClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
