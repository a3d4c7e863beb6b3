// Package narrate turns readable chunks of a document into sequential
// narration with synchronized highlighting and section-aware progression.
package narrate

import (
	"golang.org/x/net/html"
)

// Request is one narration request submitted to an engine. Requests are
// tagged with an id so completions for cancelled requests can be told
// apart from the current one.
type Request struct {
	ID     string
	Text   string
	Voice  string
	Rate   float64
	Pitch  float64
	Volume float64
}

// EngineConfig holds voice parameters for a narration engine.
type EngineConfig struct {
	Voice  string
	Rate   float64
	Pitch  float64
	Volume float64
}

// Engine is an externally supplied narration engine. Speak is
// asynchronous: the done callback fires on the engine's own goroutine
// when narration finishes or fails. Engines must never invoke done
// inline from Speak or Cancel, and must not invoke done at all for a
// request that was cancelled.
type Engine interface {
	// Initialize prepares the engine with the given voice parameters.
	Initialize(config EngineConfig) error

	// Speak submits one narration request. Errors returned synchronously
	// mean the request was never started.
	Speak(req Request, done func(id string, err error)) error

	// Pause suspends the in-flight narration so it can be resumed.
	Pause() error

	// Resume continues a paused narration.
	Resume() error

	// Cancel discards the request with the given id.
	Cancel(id string) error

	// IsAvailable reports whether the engine is ready for use.
	IsAvailable() bool

	// Shutdown stops the engine and releases its resources.
	Shutdown() error
}

// Highlighter applies a visual marker to a node and returns a release
// that undoes it. Exactly one highlight is held by a queue at a time.
type Highlighter interface {
	// Apply marks the node. The second result is false when the node
	// cannot be highlighted; the release is then a no-op.
	Apply(n *html.Node) (release func(), ok bool)
}

// Scroller brings a node into view. Scrolling is a host concern; the
// queue only asks for it during section auto-progression.
type Scroller interface {
	ScrollIntoView(n *html.Node)
}

// Rect is an axis-aligned bounding box in host layout coordinates.
type Rect struct {
	X, Y, W, H float64
}

// Layout supplies bounding boxes for nodes. The core owns no layout;
// geometry comes from the host when it is available at all.
type Layout interface {
	// Bounds returns the node's box. The second result is false when the
	// host has no geometry for the node.
	Bounds(n *html.Node) (Rect, bool)
}

// SectionRef names a document section and the selector that locates its
// start node.
type SectionRef struct {
	Title    string `yaml:"title"`
	Selector string `yaml:"selector"`
}

// SectionProvider supplies the table of contents used to scope reading
// commands.
type SectionProvider interface {
	Sections() []SectionRef
}

// Hooks are queue lifecycle callbacks exposed to observers. Nil hooks
// are skipped.
type Hooks struct {
	OnQueueStart    func()
	OnQueueEnd      func()
	OnSectionChange func(sectionIndex int)
	OnError         func(err error, el *ReadableElement)
}
