package scheduler

import (
	"sync"
	"time"

	"github.com/chronex-io/chronex/internal/trigger"
)

// signaler wakes the scheduling loop when state changes behind its back. It
// carries the earliest candidate fire time seen since the last wake so the
// loop can decide whether its current plan is stale.
type signaler struct {
	mux *ListenerMux

	mu        sync.Mutex
	candidate *time.Time
	// wake holds at most one pending token; extra signals coalesce.
	wake chan struct{}
}

func newSignaler(mux *ListenerMux) *signaler {
	return &signaler{mux: mux, wake: make(chan struct{}, 1)}
}

// SignalSchedulingChange records candidateNextFireTime and wakes the loop.
func (s *signaler) SignalSchedulingChange(candidateNextFireTime *time.Time) {
	s.mu.Lock()
	if candidateNextFireTime != nil {
		v := candidateNextFireTime.UTC()
		if s.candidate == nil || v.Before(*s.candidate) {
			s.candidate = &v
		}
	} else {
		// Unknown candidate forces a re-plan.
		s.candidate = nil
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// NotifyTriggerMisfired forwards a store-detected misfire to the trigger
// listeners.
func (s *signaler) NotifyTriggerMisfired(t trigger.Trigger) {
	s.mux.notifyTriggerMisfired(t)
}

// takeCandidate returns and clears the pending candidate fire time.
func (s *signaler) takeCandidate() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.candidate
	s.candidate = nil
	return c
}

// wakeCh exposes the wake channel for the loop's select.
func (s *signaler) wakeCh() <-chan struct{} { return s.wake }

// drain consumes a stale wake token if one is pending.
func (s *signaler) drain() {
	select {
	case <-s.wake:
	default:
	}
}
