package narrate

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/html"
)

// State is an immutable snapshot of a queue.
type State struct {
	ElementIDs      []string
	CurrentIndex    int
	CurrentID       string
	Playing         bool
	AutoProgressing bool
	CurrentSection  int
}

// QueueOptions carry the queue's collaborators. All fields are optional;
// a nil highlighter, scroller or layout simply disables that side effect.
type QueueOptions struct {
	Highlighter Highlighter
	Scroller    Scroller
	Layout      Layout
	Hooks       Hooks
	Factory     *Factory
	Logger      *log.Logger
}

// PlaybackQueue turns readable elements into sequential narration with
// synchronized highlighting, pause/resume, section-aware auto-progression
// and manual navigation.
//
// All operations are synchronous; only narration completion arrives
// asynchronously, on the engine's goroutine, and is filtered by request
// id so completions of cancelled requests never mutate state out of
// order. Hooks and element callbacks run with the queue lock held and
// must not call back into the queue.
type PlaybackQueue struct {
	mu sync.Mutex

	cfg         Config
	engine      Engine
	highlighter Highlighter
	scroller    Scroller
	layout      Layout
	hooks       Hooks
	factory     *Factory
	logger      *log.Logger

	elements        []*ReadableElement
	current         int
	currentEl       *ReadableElement
	playing         bool
	autoProgressing bool
	currentSection  int

	inflight string
	reqSeq   int
	release  func()
}

// NewQueue creates a playback queue around a narration engine. This is
// the only place configuration problems surface synchronously.
func NewQueue(engine Engine, cfg Config, opts QueueOptions) (*PlaybackQueue, error) {
	if engine == nil {
		return nil, ErrNoEngine
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	factory := opts.Factory
	if factory == nil {
		factory = NewFactory(logger)
	}
	return &PlaybackQueue{
		cfg:         cfg,
		engine:      engine,
		highlighter: opts.Highlighter,
		scroller:    opts.Scroller,
		layout:      opts.Layout,
		hooks:       opts.Hooks,
		factory:     factory,
		logger:      logger,
		current:     -1,
	}, nil
}

// Enqueue appends elements to the queue. Elements whose nodes are no
// longer attached are dropped with a warning. The collection is re-sorted
// by (section, order) afterwards; callers must not re-add elements that
// are already queued.
func (q *PlaybackQueue) Enqueue(elements []*ReadableElement) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, el := range elements {
		if !q.factory.Validate(el) {
			id := ""
			if el != nil {
				id = el.ID
			}
			q.logger.Warn("dropping invalid element", "id", id)
			continue
		}
		q.elements = append(q.elements, el)
	}

	sort.SliceStable(q.elements, func(i, j int) bool {
		a, b := q.elements[i], q.elements[j]
		if a.SectionIndex != b.SectionIndex {
			return a.SectionIndex < b.SectionIndex
		}
		return a.Order < b.Order
	})

	if q.currentEl != nil {
		if i := q.indexOfLocked(q.currentEl.ID); i >= 0 {
			q.current = i
		}
	}
}

// Dequeue removes and returns the head of the queue, clamping the cursor
// if it now exceeds bounds.
func (q *PlaybackQueue) Dequeue() (*ReadableElement, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.elements) == 0 {
		return nil, ErrQueueEmpty
	}
	head := q.elements[0]
	q.elements = q.elements[1:]
	if q.current >= len(q.elements) {
		q.current = len(q.elements) - 1
	}
	return head, nil
}

// Peek returns the head of the queue without removing it.
func (q *PlaybackQueue) Peek() (*ReadableElement, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.elements) == 0 {
		return nil, ErrQueueEmpty
	}
	return q.elements[0], nil
}

// Len returns the number of queued elements.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.elements)
}

// Clear stops playback and empties the queue.
func (q *PlaybackQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopLocked()
	q.elements = nil
	q.currentSection = 0
}

// Start begins or resumes playback. A no-op when already playing or when
// the queue is empty: no state changes, no callbacks.
func (q *PlaybackQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.playing || len(q.elements) == 0 {
		return
	}
	q.playing = true
	if q.hooks.OnQueueStart != nil {
		q.hooks.OnQueueStart()
	}
	if q.currentEl == nil {
		q.setCurrentLocked(0)
	}
	if q.inflight != "" {
		// Narration was paused mid-request; resume instead of resubmitting.
		if err := q.engine.Resume(); err != nil {
			q.logger.Warn("resume failed", "err", err)
		}
		return
	}
	q.playCurrentLocked()
}

// Pause suspends playback. The in-flight narration stays resumable. A
// no-op when not playing.
func (q *PlaybackQueue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.playing {
		return
	}
	q.playing = false
	if q.inflight != "" {
		if err := q.engine.Pause(); err != nil {
			q.logger.Warn("pause failed", "err", err)
		}
	}
}

// Stop halts playback, cancels narration, removes the active highlight
// and resets the cursor.
func (q *PlaybackQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopLocked()
}

// Next moves the cursor forward by one. At the end it wraps to the first
// element when loop mode is set, otherwise it stops and fires OnQueueEnd.
func (q *PlaybackQueue) Next() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.advanceLocked(1)
}

// Previous moves the cursor back by one, clamping at the first element.
func (q *PlaybackQueue) Previous() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.advanceLocked(-1)
}

// Element returns the queued element with the given id.
func (q *PlaybackQueue) Element(id string) (*ReadableElement, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOfLocked(id)
	if i < 0 {
		return nil, fmt.Errorf("element %q: %w", id, ErrElementUnknown)
	}
	return q.elements[i], nil
}

// JumpToElement stops current playback, makes the element with the given
// id current, and resumes if playback was active. An unknown id is a
// logged no-op.
func (q *PlaybackQueue) JumpToElement(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jumpLocked(id)
}

// JumpToSection jumps to the first element of the given section and
// fires OnSectionChange. A section with no elements is a logged no-op.
func (q *PlaybackQueue) JumpToSection(sectionIndex int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, el := range q.elements {
		if el.SectionIndex == sectionIndex {
			q.jumpLocked(el.ID)
			if q.hooks.OnSectionChange != nil {
				q.hooks.OnSectionChange(sectionIndex)
			}
			return
		}
	}
	q.logger.Warn("jump to unknown section", "section", sectionIndex)
}

// FindNearestElement returns the element whose node contains the cursor
// node, or failing that the element with the smallest Manhattan distance
// between bounding-box centers. First found wins ties. Returns nil when
// nothing matches or no geometry is available.
func (q *PlaybackQueue) FindNearestElement(cursor *html.Node) *ReadableElement {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cursor == nil {
		return nil
	}
	for _, el := range q.elements {
		if el.Node != nil && nodeContains(el.Node, cursor) {
			return el
		}
	}
	if q.layout == nil {
		return nil
	}
	cb, ok := q.layout.Bounds(cursor)
	if !ok {
		return nil
	}

	var best *ReadableElement
	bestDist := math.Inf(1)
	for _, el := range q.elements {
		if el.Node == nil {
			continue
		}
		eb, ok := q.layout.Bounds(el.Node)
		if !ok {
			continue
		}
		d := math.Abs(cb.X+cb.W/2-(eb.X+eb.W/2)) + math.Abs(cb.Y+cb.H/2-(eb.Y+eb.H/2))
		if d < bestDist {
			bestDist = d
			best = el
		}
	}
	return best
}

// GetState returns an immutable snapshot of the queue.
func (q *PlaybackQueue) GetState() State {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, len(q.elements))
	for i, el := range q.elements {
		ids[i] = el.ID
	}
	currentID := ""
	if q.currentEl != nil {
		currentID = q.currentEl.ID
	}
	return State{
		ElementIDs:      ids,
		CurrentIndex:    q.current,
		CurrentID:       currentID,
		Playing:         q.playing,
		AutoProgressing: q.autoProgressing,
		CurrentSection:  q.currentSection,
	}
}

// UpdateConfig merges a partial configuration update. It affects
// subsequent narration requests, not the one in flight.
func (q *PlaybackQueue) UpdateConfig(patch ConfigPatch) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := q.cfg
	patch.apply(&merged)
	if err := merged.Validate(); err != nil {
		return err
	}
	q.cfg = merged
	return nil
}

// --- internals; all methods below expect q.mu held ---

func (q *PlaybackQueue) stopLocked() {
	q.playing = false
	q.autoProgressing = false
	q.cancelInflightLocked()
	q.releaseHighlightLocked()
	if q.currentEl != nil {
		q.currentEl.Active = false
	}
	q.currentEl = nil
	q.current = -1
}

func (q *PlaybackQueue) advanceLocked(delta int) {
	if len(q.elements) == 0 {
		return
	}
	q.cancelInflightLocked()
	q.releaseHighlightLocked()
	if q.currentEl != nil {
		q.currentEl.Active = false
	}

	i := q.current + delta
	if delta > 0 && i >= len(q.elements) {
		if q.cfg.LoopMode {
			q.setCurrentLocked(0)
			if q.playing {
				q.playCurrentLocked()
			}
			return
		}
		q.stopLocked()
		if q.hooks.OnQueueEnd != nil {
			q.hooks.OnQueueEnd()
		}
		return
	}
	if i < 0 {
		i = 0
	}
	q.setCurrentLocked(i)
	if q.playing {
		q.playCurrentLocked()
	}
}

func (q *PlaybackQueue) jumpLocked(id string) {
	i := q.indexOfLocked(id)
	if i < 0 {
		q.logger.Warn("jump to unknown element", "id", id)
		return
	}
	wasPlaying := q.playing
	q.cancelInflightLocked()
	q.releaseHighlightLocked()
	if q.currentEl != nil {
		q.currentEl.Active = false
	}
	q.setCurrentLocked(i)
	if wasPlaying {
		q.playCurrentLocked()
	}
}

func (q *PlaybackQueue) setCurrentLocked(i int) {
	q.current = i
	q.currentEl = q.elements[i]
	q.currentSection = q.currentEl.SectionIndex
}

// playCurrentLocked runs the per-element cycle: highlight, OnStart, and
// a tagged narration request.
func (q *PlaybackQueue) playCurrentLocked() {
	el := q.currentEl
	if el == nil {
		return
	}
	if !q.factory.Validate(el) {
		q.logger.Warn("skipping stale element", "id", el.ID)
		el.Completed = true
		q.continueLocked()
		return
	}

	el.Active = true
	if el.Callbacks.OnStart != nil {
		el.Callbacks.OnStart(el)
	}
	if q.highlighter != nil && el.Node != nil {
		if release, ok := q.highlighter.Apply(el.Node); ok {
			el.Highlighted = true
			if el.Callbacks.OnHighlight != nil {
				el.Callbacks.OnHighlight(el)
			}
			q.release = func() {
				release()
				el.Highlighted = false
				if el.Callbacks.OnUnhighlight != nil {
					el.Callbacks.OnUnhighlight(el)
				}
			}
		}
	}

	q.reqSeq++
	id := fmt.Sprintf("narrate-%d", q.reqSeq)
	q.inflight = id
	req := Request{
		ID:     id,
		Text:   el.Text,
		Voice:  q.cfg.Voice,
		Rate:   q.cfg.Rate,
		Pitch:  q.cfg.Pitch,
		Volume: q.cfg.Volume,
	}
	if err := q.engine.Speak(req, q.narrationDone); err != nil {
		q.inflight = ""
		q.completeLocked(el, &NarrationError{Err: err, RequestID: id, ElementID: el.ID})
	}
}

// narrationDone is handed to the engine as the completion callback. It
// runs on the engine's goroutine.
func (q *PlaybackQueue) narrationDone(id string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if id != q.inflight {
		q.logger.Debug("ignoring stale narration completion", "request", id)
		return
	}
	q.inflight = ""

	el := q.currentEl
	if el == nil {
		return
	}
	var narErr *NarrationError
	if err != nil {
		narErr = &NarrationError{Err: err, RequestID: id, ElementID: el.ID}
	}
	q.completeLocked(el, narErr)
}

// completeLocked finishes the current element's cycle. Engine failures
// are forwarded to OnError and playback proceeds exactly as on normal
// completion.
func (q *PlaybackQueue) completeLocked(el *ReadableElement, narErr *NarrationError) {
	el.Active = false
	el.Completed = true
	if el.Callbacks.OnEnd != nil {
		el.Callbacks.OnEnd(el)
	}
	q.releaseHighlightLocked()
	if narErr != nil && q.hooks.OnError != nil {
		q.hooks.OnError(narErr, el)
	}
	q.continueLocked()
}

func (q *PlaybackQueue) continueLocked() {
	if !q.playing {
		return
	}
	if q.cfg.AutoProgress {
		q.autoProgressLocked()
		return
	}
	q.advanceLocked(1)
}

// autoProgressLocked scans the whole collection, not just forward from
// the cursor, for unfinished work in the current section; this can
// revisit earlier elements out of nominal order, which is intentional.
// When the section is done it moves to the first unfinished element of a
// later section: flag, section-change event, scroll, a fixed wait for the
// scroll animation, then jump. If the animation outlasts the wait the
// next element starts before scrolling settles; the delay is a fixed
// wait by design, not an event signal.
func (q *PlaybackQueue) autoProgressLocked() {
	cur := q.currentEl
	for i, el := range q.elements {
		if el != cur && !el.Completed && el.SectionIndex == q.currentSection {
			q.setCurrentLocked(i)
			q.playCurrentLocked()
			return
		}
	}

	for _, el := range q.elements {
		if !el.Completed && el.SectionIndex > q.currentSection {
			q.autoProgressing = true
			if q.hooks.OnSectionChange != nil {
				q.hooks.OnSectionChange(el.SectionIndex)
			}
			if q.scroller != nil && el.Node != nil {
				q.scroller.ScrollIntoView(el.Node)
			}
			target := el.ID
			time.AfterFunc(q.cfg.ScrollSettleDelay, func() {
				q.mu.Lock()
				defer q.mu.Unlock()
				q.autoProgressing = false
				if !q.playing {
					return
				}
				if j := q.indexOfLocked(target); j >= 0 {
					q.setCurrentLocked(j)
					q.playCurrentLocked()
				}
			})
			return
		}
	}

	q.stopLocked()
	if q.hooks.OnQueueEnd != nil {
		q.hooks.OnQueueEnd()
	}
}

func (q *PlaybackQueue) cancelInflightLocked() {
	if q.inflight == "" {
		return
	}
	id := q.inflight
	q.inflight = ""
	if err := q.engine.Cancel(id); err != nil {
		q.logger.Debug("cancel failed", "request", id, "err", err)
	}
}

func (q *PlaybackQueue) releaseHighlightLocked() {
	if q.release != nil {
		q.release()
		q.release = nil
	}
}

func (q *PlaybackQueue) indexOfLocked(id string) int {
	for i, el := range q.elements {
		if el.ID == id {
			return i
		}
	}
	return -1
}

// nodeContains reports whether inner is root or one of its descendants.
func nodeContains(root, inner *html.Node) bool {
	for cur := inner; cur != nil; cur = cur.Parent {
		if cur == root {
			return true
		}
	}
	return false
}
