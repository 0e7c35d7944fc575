// Package miner implements the mining state machine: chain-state
// synchronization, the nonce search loop, solution submission, and the
// event-driven resume/halt protocol shared with the event listener.
package miner

import (
	"context"
	"sync"
)

// Signal is a level-triggered, manually reset wait/signal primitive.
// Once set it stays set until explicitly cleared by the consumer, so a
// signal raised before a waiter arrives is never lost. Safe for concurrent
// use.
type Signal struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{} // closed while set
}

// NewSignal creates a signal in the given initial state.
func NewSignal(set bool) *Signal {
	s := &Signal{ch: make(chan struct{})}
	if set {
		s.set = true
		close(s.ch)
	}
	return s
}

// Set raises the signal, waking all current and future waiters.
func (s *Signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		s.set = true
		close(s.ch)
	}
}

// Clear lowers the signal. Future waiters block until the next Set.
func (s *Signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		s.set = false
		s.ch = make(chan struct{})
	}
}

// IsSet reports the current state without blocking.
func (s *Signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Wait blocks until the signal is set or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Coordinator is the shared coordination state between the miner loop and
// the event listener. The resume signal is the "parameters may be stale,
// (re)start a search" edge; awaitingConfirmation gates new searches after a
// submission until the chain acknowledges it via a contract event.
//
// Writer discipline: only the miner loop transitions awaitingConfirmation
// false→true (BeginAwaitConfirmation, right after submitting) and only the
// event listener transitions it true→false (ConfirmationReceived). The
// forced periodic refresh uses SignalResume, which never touches the flag.
type Coordinator struct {
	mu       sync.Mutex
	awaiting bool
	resume   *Signal
}

// NewCoordinator creates coordination state with the resume signal raised,
// so a fresh miner starts its first search immediately.
func NewCoordinator() *Coordinator {
	return &Coordinator{resume: NewSignal(true)}
}

// SignalResume raises the resume signal. Used by the forced-refresh timer
// and (indirectly) by ConfirmationReceived. Never modifies
// awaitingConfirmation.
func (c *Coordinator) SignalResume() {
	c.resume.Set()
}

// ClearResume lowers the resume signal. The miner loop calls this once it
// has captured fresh parameters and begins searching.
func (c *Coordinator) ClearResume() {
	c.resume.Clear()
}

// ResumeRequested reports whether the resume signal is raised, without
// blocking. The search loop polls this at a coarse interval.
func (c *Coordinator) ResumeRequested() bool {
	return c.resume.IsSet()
}

// WaitResume blocks until the resume signal is raised or ctx is done.
func (c *Coordinator) WaitResume(ctx context.Context) error {
	return c.resume.Wait(ctx)
}

// AwaitingConfirmation reports whether a submission is awaiting its
// contract event.
func (c *Coordinator) AwaitingConfirmation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaiting
}

// BeginAwaitConfirmation marks a submission as pending and lowers the
// resume signal so the miner blocks until the confirmation event. Called by
// the miner loop only, immediately after a submission attempt.
func (c *Coordinator) BeginAwaitConfirmation() {
	c.mu.Lock()
	c.awaiting = true
	c.mu.Unlock()
	c.resume.Clear()
}

// ConfirmationReceived clears the pending-confirmation flag and raises the
// resume signal. Called by the event listener only. The flag is cleared
// before the signal is raised, so a miner woken by the signal always
// observes the cleared flag.
func (c *Coordinator) ConfirmationReceived() {
	c.mu.Lock()
	c.awaiting = false
	c.mu.Unlock()
	c.resume.Set()
}

// consumeIfSearchable is the miner's atomic wake-up check: if no
// confirmation is pending it reports true and leaves the resume signal
// raised (it is cleared later, once fresh parameters are captured). If a
// confirmation is pending it swallows the wake-up by lowering the resume
// signal and reports false. Holding the mutex across both steps closes the
// race against ConfirmationReceived.
func (c *Coordinator) consumeIfSearchable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.awaiting {
		c.resume.Clear()
		return false
	}
	return true
}
