package manager

import "sync"

// startAttempt is an in-flight start of one container.
type startAttempt struct {
	done chan struct{} // Closed when the attempt finishes
	err  error         // Result, readable after done is closed
}

// startTracker makes concurrent starts of the same container share one
// attempt instead of racing each other.
type startTracker struct {
	mu       sync.Mutex
	attempts map[string]*startAttempt // Key: container id
}

func newStartTracker() *startTracker {
	return &startTracker{attempts: make(map[string]*startAttempt)}
}

// begin returns the attempt for id and whether the caller must perform it.
// Callers that are not the initiator wait on attempt.done.
func (t *startTracker) begin(id string) (*startAttempt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.attempts[id]; ok {
		return a, false
	}
	a := &startAttempt{done: make(chan struct{})}
	t.attempts[id] = a
	return a, true
}

// finish records the result and releases waiters. A later begin starts a
// fresh attempt.
func (t *startTracker) finish(id string, a *startAttempt, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a.err = err
	close(a.done)
	if t.attempts[id] == a {
		delete(t.attempts, id)
	}
}
