package billing

import (
	"sync"
	"time"
)

// StopTracker times in-flight paid stops, one per order. State is
// process-local and disposable: Restore rebuilds a clock from
// client-resupplied values after a reconnect; committed fees live only
// on the order row.
type StopTracker struct {
	mu    sync.Mutex
	stops map[string]*stopClock

	Now func() time.Time // test seam
}

type stopClock struct {
	startedAt   time.Time
	accumulated time.Duration // from segments before a reconnect
}

func NewStopTracker() *StopTracker {
	return &StopTracker{stops: make(map[string]*stopClock)}
}

func (t *StopTracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Start opens the stop clock for an order. Starting an already-running
// clock is a no-op so a re-announced start cannot reset the meter.
func (t *StopTracker) Start(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.stops[orderID]; ok {
		return
	}
	t.stops[orderID] = &stopClock{startedAt: t.now()}
}

// Restore rebuilds a clock after a reconnect, carrying the seconds
// already elapsed before the connection dropped.
func (t *StopTracker) Restore(orderID string, startedAt time.Time, accumulatedSeconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops[orderID] = &stopClock{
		startedAt:   startedAt,
		accumulated: time.Duration(accumulatedSeconds * float64(time.Second)),
	}
}

// Elapsed reports the running total without closing the clock.
func (t *StopTracker) Elapsed(orderID string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.stops[orderID]
	if !ok {
		return 0, false
	}
	return c.accumulated + t.now().Sub(c.startedAt), true
}

// End closes the clock and returns the billable minutes.
func (t *StopTracker) End(orderID string) (minutes float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.stops[orderID]
	if !ok {
		return 0, false
	}
	delete(t.stops, orderID)
	total := c.accumulated + t.now().Sub(c.startedAt)
	return total.Minutes(), true
}

// Drop discards any clock for the order (terminal states).
func (t *StopTracker) Drop(orderID string) {
	t.mu.Lock()
	delete(t.stops, orderID)
	t.mu.Unlock()
}
