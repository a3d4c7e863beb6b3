package narrate

import (
	"errors"
	"fmt"
)

// Common errors. Nothing in this package is fatal to the host: stale
// elements are skipped, lookup misses fall back, narration failures are
// forwarded and playback continues. Only configuration problems at
// construction time surface synchronously.
var (
	// ErrInvalidConfig is returned by NewQueue for a bad configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrElementStale means an element's node is detached from the tree.
	ErrElementStale = errors.New("element node is detached")

	// ErrElementUnknown means a jump targeted an id not in the queue.
	ErrElementUnknown = errors.New("element not found in queue")

	// ErrSectionUnknown means a jump targeted a section with no elements.
	ErrSectionUnknown = errors.New("section not found in queue")

	// ErrQueueEmpty is returned by Dequeue and Peek on an empty queue.
	ErrQueueEmpty = errors.New("queue is empty")

	// ErrEngineNotAvailable means the narration engine is not ready.
	ErrEngineNotAvailable = errors.New("narration engine is not available")

	// ErrNoEngine means a queue was constructed without an engine.
	ErrNoEngine = errors.New("narration engine is required")
)

// NarrationError wraps an engine failure with the request and element it
// belongs to. These are forwarded to the OnError hook and never stop the
// queue.
type NarrationError struct {
	Err       error
	RequestID string
	ElementID string
}

// Error implements the error interface.
func (e *NarrationError) Error() string {
	return fmt.Sprintf("narration failed for element %s (request %s): %v",
		e.ElementID, e.RequestID, e.Err)
}

// Unwrap returns the underlying engine error.
func (e *NarrationError) Unwrap() error {
	return e.Err
}
