package agent

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var requestCounter atomic.Uint64

// nextRequestID returns a process-unique request ID. A counter rather
// than a timestamp; two sends in the same millisecond must not collide.
func nextRequestID() string {
	return fmt.Sprintf("req-%d", requestCounter.Add(1))
}

// Stops tracks cancellation requests by request ID. The loop polls it at
// its checkpoints; stopping is cooperative, not preemptive.
type Stops struct {
	mu      sync.Mutex
	pending map[string]bool
}

func NewStops() *Stops {
	return &Stops{pending: make(map[string]bool)}
}

// RequestStop marks requestID for cancellation. Safe to call for IDs
// that already finished; the flag is cleared during finalization anyway.
func (s *Stops) RequestStop(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[requestID] = true
}

// Requested reports whether a stop is pending for requestID.
func (s *Stops) Requested(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[requestID]
}

// Clear removes the flag for requestID.
func (s *Stops) Clear(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, requestID)
}
