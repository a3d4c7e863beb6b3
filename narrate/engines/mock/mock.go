// Package mock provides a deterministic narration engine for tests.
// Completion is driven manually from the test goroutine with Finish and
// Fail, so queue behavior can be stepped through without timing.
package mock

import (
	"errors"
	"sync"

	"github.com/dgnsrekt/readaloud/narrate"
)

// ErrNoPending is returned by Finish and Fail when nothing is in flight.
var ErrNoPending = errors.New("mock: no pending request")

type pending struct {
	req  narrate.Request
	done func(id string, err error)
}

// Engine implements narrate.Engine with manual completion control.
type Engine struct {
	mu sync.Mutex

	config    narrate.EngineConfig
	available bool
	speakErr  error

	current   *pending
	accepted  map[string]*pending
	paused    bool
	requests  []narrate.Request
	cancelled []string
}

// New creates an available mock engine.
func New() *Engine {
	return &Engine{available: true, accepted: make(map[string]*pending)}
}

// Initialize records the configuration.
func (e *Engine) Initialize(config narrate.EngineConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = config
	return nil
}

// Speak records the request as pending. The done callback fires only
// when the test calls Finish or Fail.
func (e *Engine) Speak(req narrate.Request, done func(id string, err error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.speakErr != nil {
		err := e.speakErr
		e.speakErr = nil
		return err
	}
	e.requests = append(e.requests, req)
	e.current = &pending{req: req, done: done}
	e.accepted[req.ID] = e.current
	e.paused = false
	return nil
}

// Pause marks the pending request paused.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	return nil
}

// Resume clears the paused flag.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	return nil
}

// Cancel discards the pending request if the id matches. Its done
// callback will never fire.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelled = append(e.cancelled, id)
	if e.current != nil && e.current.req.ID == id {
		e.current = nil
	}
	return nil
}

// IsAvailable reports engine readiness.
func (e *Engine) IsAvailable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

// Shutdown marks the engine unavailable.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.available = false
	e.current = nil
	return nil
}

// --- test controls ---

// Finish completes the pending request successfully.
func (e *Engine) Finish() error {
	return e.complete(nil)
}

// Fail completes the pending request with the given error.
func (e *Engine) Fail(err error) error {
	return e.complete(err)
}

func (e *Engine) complete(err error) error {
	e.mu.Lock()
	p := e.current
	e.current = nil
	e.mu.Unlock()

	if p == nil {
		return ErrNoPending
	}
	p.done(p.req.ID, err)
	return nil
}

// Complete fires the done callback for the request with the given id,
// even if it was cancelled, simulating a completion that races the
// cancellation.
func (e *Engine) Complete(id string, err error) error {
	e.mu.Lock()
	p := e.accepted[id]
	if e.current != nil && e.current.req.ID == id {
		e.current = nil
	}
	e.mu.Unlock()

	if p == nil {
		return ErrNoPending
	}
	p.done(p.req.ID, err)
	return nil
}

// FailNextSpeak makes the next Speak call return err synchronously.
func (e *Engine) FailNextSpeak(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speakErr = err
}

// SetAvailable toggles availability.
func (e *Engine) SetAvailable(ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.available = ok
}

// Requests returns every request Speak accepted, in order.
func (e *Engine) Requests() []narrate.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]narrate.Request, len(e.requests))
	copy(out, e.requests)
	return out
}

// Pending returns the in-flight request, if any.
func (e *Engine) Pending() (narrate.Request, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return narrate.Request{}, false
	}
	return e.current.req, true
}

// Cancelled returns the ids passed to Cancel, in order.
func (e *Engine) Cancelled() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.cancelled))
	copy(out, e.cancelled)
	return out
}

// Paused reports whether the engine is paused.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Config returns the configuration passed to Initialize.
func (e *Engine) Config() narrate.EngineConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}
