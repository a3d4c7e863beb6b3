package narrate_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/dgnsrekt/readaloud/narrate"
	"github.com/dgnsrekt/readaloud/narrate/engines/mock"
	"github.com/dgnsrekt/readaloud/narrate/scan"
)

const queueDoc = `<html><body>
<h2 id="s1">Intro</h2>
<p id="a">Alpha alpha.</p>
<p id="b">Bravo bravo.</p>
<hr id="gap">
<h2 id="s2">Detail</h2>
<p id="c">Charlie charlie.</p>
</body></html>`

func parseDoc(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse document: %v", err)
	}
	return doc
}

func nodeByID(t *testing.T, doc *html.Node, id string) *html.Node {
	t.Helper()
	n := scan.FindByID(doc, id)
	if n == nil {
		t.Fatalf("node %q not found", id)
	}
	return n
}

type recorder struct {
	mu       sync.Mutex
	sections []int
	ends     int
	starts   int
	errs     []error
	scrolled []*html.Node
}

func (r *recorder) hooks() narrate.Hooks {
	return narrate.Hooks{
		OnQueueStart: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.starts++
		},
		OnQueueEnd: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ends++
		},
		OnSectionChange: func(i int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.sections = append(r.sections, i)
		},
		OnError: func(err error, _ *narrate.ReadableElement) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *recorder) ScrollIntoView(n *html.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrolled = append(r.scrolled, n)
}

func (r *recorder) endCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ends
}

func (r *recorder) sectionChanges() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.sections))
	copy(out, r.sections)
	return out
}

func (r *recorder) scrollCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scrolled)
}

type fakeLayout map[*html.Node]narrate.Rect

func (l fakeLayout) Bounds(n *html.Node) (narrate.Rect, bool) {
	r, ok := l[n]
	return r, ok
}

// testQueue builds a queue over three elements: two in section 0, one in
// section 1.
func testQueue(t *testing.T, cfg narrate.Config, rec *recorder) (*narrate.PlaybackQueue, *mock.Engine, []*narrate.ReadableElement) {
	t.Helper()
	doc := parseDoc(t, queueDoc)
	factory := narrate.NewFactory(nil)
	elements := []*narrate.ReadableElement{
		factory.CreateElement(narrate.ElementSpec{
			Node: nodeByID(t, doc, "a"), Text: "Alpha alpha.",
			Type: narrate.TypeParagraph, SectionIndex: 0, SectionTitle: "Intro", Order: 0,
		}),
		factory.CreateElement(narrate.ElementSpec{
			Node: nodeByID(t, doc, "b"), Text: "Bravo bravo.",
			Type: narrate.TypeParagraph, SectionIndex: 0, SectionTitle: "Intro", Order: 1,
		}),
		factory.CreateElement(narrate.ElementSpec{
			Node: nodeByID(t, doc, "c"), Text: "Charlie charlie.",
			Type: narrate.TypeParagraph, SectionIndex: 1, SectionTitle: "Detail", Order: 2,
		}),
	}

	engine := mock.New()
	opts := narrate.QueueOptions{Factory: factory}
	if rec != nil {
		opts.Hooks = rec.hooks()
		opts.Scroller = rec
	}
	q, err := narrate.NewQueue(engine, cfg, opts)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	return q, engine, elements
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func pendingText(e *mock.Engine) string {
	req, ok := e.Pending()
	if !ok {
		return ""
	}
	return req.Text
}

func TestNewQueueValidation(t *testing.T) {
	if _, err := narrate.NewQueue(nil, narrate.DefaultConfig(), narrate.QueueOptions{}); !errors.Is(err, narrate.ErrNoEngine) {
		t.Errorf("nil engine: got %v, want ErrNoEngine", err)
	}

	cfg := narrate.DefaultConfig()
	cfg.Rate = 5.0
	if _, err := narrate.NewQueue(mock.New(), cfg, narrate.QueueOptions{}); !errors.Is(err, narrate.ErrInvalidConfig) {
		t.Errorf("bad rate: got %v, want ErrInvalidConfig", err)
	}
}

func TestStartOnEmptyQueueIsNoOp(t *testing.T) {
	rec := &recorder{}
	q, engine, _ := testQueue(t, narrate.DefaultConfig(), rec)

	q.Start()

	state := q.GetState()
	if state.Playing {
		t.Error("empty queue should not enter playing state")
	}
	if rec.starts != 0 {
		t.Error("OnQueueStart fired on empty queue")
	}
	if len(engine.Requests()) != 0 {
		t.Error("engine received a request from an empty queue")
	}
}

func TestEnqueueSortsBySectionAndOrder(t *testing.T) {
	q, _, els := testQueue(t, narrate.DefaultConfig(), nil)

	// Shuffled: C (section 1) first, then B, then A.
	q.Enqueue([]*narrate.ReadableElement{els[2]})
	q.Enqueue([]*narrate.ReadableElement{els[1], els[0]})

	state := q.GetState()
	want := []string{els[0].ID, els[1].ID, els[2].ID}
	if len(state.ElementIDs) != len(want) {
		t.Fatalf("queue has %d elements, want %d", len(state.ElementIDs), len(want))
	}
	for i, id := range want {
		if state.ElementIDs[i] != id {
			t.Errorf("position %d: got %s, want %s", i, state.ElementIDs[i], id)
		}
	}
}

func TestEnqueueDropsDetachedElements(t *testing.T) {
	q, _, els := testQueue(t, narrate.DefaultConfig(), nil)

	orphan := &narrate.ReadableElement{
		ID:   "orphan",
		Node: &html.Node{Type: html.ElementNode, Data: "p"},
		Text: "floating",
	}
	q.Enqueue([]*narrate.ReadableElement{els[0], orphan, nil})

	if got := q.Len(); got != 1 {
		t.Errorf("queue length = %d, want 1", got)
	}
}

func TestDequeuePeek(t *testing.T) {
	q, _, els := testQueue(t, narrate.DefaultConfig(), nil)

	if _, err := q.Dequeue(); !errors.Is(err, narrate.ErrQueueEmpty) {
		t.Errorf("empty dequeue: got %v, want ErrQueueEmpty", err)
	}
	if _, err := q.Peek(); !errors.Is(err, narrate.ErrQueueEmpty) {
		t.Errorf("empty peek: got %v, want ErrQueueEmpty", err)
	}

	q.Enqueue(els)
	head, err := q.Peek()
	if err != nil || head.ID != els[0].ID {
		t.Fatalf("peek = %v, %v; want %s", head, err, els[0].ID)
	}
	got, err := q.Dequeue()
	if err != nil || got.ID != els[0].ID {
		t.Fatalf("dequeue = %v, %v; want %s", got, err, els[0].ID)
	}
	if q.Len() != 2 {
		t.Errorf("length after dequeue = %d, want 2", q.Len())
	}
}

func TestPlaybackAdvancesWithinSection(t *testing.T) {
	cfg := narrate.DefaultConfig()
	cfg.ScrollSettleDelay = time.Millisecond
	rec := &recorder{}
	q, engine, els := testQueue(t, cfg, rec)

	q.Enqueue(els)
	q.Start()

	if got := pendingText(engine); got != "Alpha alpha." {
		t.Fatalf("first narration = %q, want Alpha", got)
	}
	if err := engine.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}

	// B is in the same section: no section change, no scroll.
	if got := pendingText(engine); got != "Bravo bravo." {
		t.Fatalf("second narration = %q, want Bravo", got)
	}
	if len(rec.sectionChanges()) != 0 {
		t.Error("section change fired inside a section")
	}
	if rec.scrollCount() != 0 {
		t.Error("scroll requested inside a section")
	}
	if !els[0].Completed {
		t.Error("first element not marked completed")
	}
}

func TestAutoProgressCrossesSectionBoundary(t *testing.T) {
	cfg := narrate.DefaultConfig()
	cfg.ScrollSettleDelay = time.Millisecond
	rec := &recorder{}
	q, engine, els := testQueue(t, cfg, rec)

	q.Enqueue(els)
	q.Start()
	if err := engine.Finish(); err != nil {
		t.Fatalf("finish A: %v", err)
	}
	if err := engine.Finish(); err != nil {
		t.Fatalf("finish B: %v", err)
	}

	// Section 0 is exhausted: the queue flags the transition, scrolls,
	// waits out the settle delay and only then narrates C.
	waitFor(t, "section 1 narration", func() bool {
		return pendingText(engine) == "Charlie charlie."
	})
	changes := rec.sectionChanges()
	if len(changes) != 1 || changes[0] != 1 {
		t.Errorf("section changes = %v, want [1]", changes)
	}
	if rec.scrollCount() != 1 {
		t.Errorf("scroll count = %d, want 1", rec.scrollCount())
	}
	state := q.GetState()
	if state.CurrentSection != 1 {
		t.Errorf("current section = %d, want 1", state.CurrentSection)
	}

	if err := engine.Finish(); err != nil {
		t.Fatalf("finish C: %v", err)
	}
	waitFor(t, "queue end", func() bool { return rec.endCount() == 1 })

	state = q.GetState()
	if state.Playing {
		t.Error("still playing after exhausting the queue")
	}
	if state.CurrentIndex != -1 {
		t.Errorf("cursor = %d after end, want -1", state.CurrentIndex)
	}
	if rec.endCount() != 1 {
		t.Errorf("OnQueueEnd fired %d times, want 1", rec.endCount())
	}
}

func TestLoopModeWrapsToStart(t *testing.T) {
	cfg := narrate.DefaultConfig()
	cfg.LoopMode = true
	cfg.AutoProgress = false
	rec := &recorder{}
	q, engine, els := testQueue(t, cfg, rec)

	q.Enqueue(els[:2])
	q.Start()
	if err := engine.Finish(); err != nil {
		t.Fatalf("finish A: %v", err)
	}
	if err := engine.Finish(); err != nil {
		t.Fatalf("finish B: %v", err)
	}

	if got := pendingText(engine); got != "Alpha alpha." {
		t.Errorf("after wrap narration = %q, want Alpha", got)
	}
	if rec.endCount() != 0 {
		t.Error("OnQueueEnd fired in loop mode")
	}
	if !q.GetState().Playing {
		t.Error("loop mode stopped playing at the wrap point")
	}
}

func TestPauseResume(t *testing.T) {
	q, engine, els := testQueue(t, narrate.DefaultConfig(), nil)

	q.Enqueue(els)
	q.Start()
	req, _ := engine.Pending()

	q.Pause()
	if !engine.Paused() {
		t.Error("engine not paused")
	}
	if q.GetState().Playing {
		t.Error("queue still playing after pause")
	}

	q.Start()
	if engine.Paused() {
		t.Error("engine not resumed")
	}
	if got := len(engine.Requests()); got != 1 {
		t.Errorf("resume re-submitted narration: %d requests, want 1", got)
	}
	if cur, _ := engine.Pending(); cur.ID != req.ID {
		t.Errorf("pending request changed across pause: %s -> %s", req.ID, cur.ID)
	}
}

func TestPauseWhenIdleIsNoOp(t *testing.T) {
	q, engine, els := testQueue(t, narrate.DefaultConfig(), nil)
	q.Enqueue(els)

	q.Pause()
	if engine.Paused() {
		t.Error("pause while idle reached the engine")
	}
}

func TestNextPreviousNavigation(t *testing.T) {
	q, _, els := testQueue(t, narrate.DefaultConfig(), nil)
	q.Enqueue(els)

	q.Next()
	if got := q.GetState().CurrentID; got != els[0].ID {
		t.Errorf("first Next landed on %s, want %s", got, els[0].ID)
	}
	q.Next()
	if got := q.GetState().CurrentID; got != els[1].ID {
		t.Errorf("second Next landed on %s, want %s", got, els[1].ID)
	}
	q.Previous()
	q.Previous() // clamps at the first element
	if got := q.GetState().CurrentID; got != els[0].ID {
		t.Errorf("Previous clamped to %s, want %s", got, els[0].ID)
	}
}

func TestNextPastEndStopsWithoutLoop(t *testing.T) {
	rec := &recorder{}
	q, engine, els := testQueue(t, narrate.DefaultConfig(), rec)
	q.Enqueue(els)
	q.Start()

	q.Next()
	q.Next()
	q.Next() // past the last element

	state := q.GetState()
	if state.Playing {
		t.Error("still playing past the end")
	}
	if rec.endCount() != 1 {
		t.Errorf("OnQueueEnd fired %d times, want 1", rec.endCount())
	}
	if len(engine.Cancelled()) == 0 {
		t.Error("in-flight narration was not cancelled on navigation")
	}
}

func TestJumpToElement(t *testing.T) {
	q, engine, els := testQueue(t, narrate.DefaultConfig(), nil)
	q.Enqueue(els)
	q.Start()

	q.JumpToElement(els[2].ID)
	if got := pendingText(engine); got != "Charlie charlie." {
		t.Errorf("narration after jump = %q, want Charlie", got)
	}
	if got := q.GetState().CurrentSection; got != 1 {
		t.Errorf("section after jump = %d, want 1", got)
	}

	before := q.GetState()
	q.JumpToElement("no-such-element")
	after := q.GetState()
	if after.CurrentID != before.CurrentID || after.CurrentIndex != before.CurrentIndex {
		t.Error("unknown element jump changed the cursor")
	}
}

func TestElementLookup(t *testing.T) {
	q, _, els := testQueue(t, narrate.DefaultConfig(), nil)
	q.Enqueue(els)

	el, err := q.Element(els[1].ID)
	if err != nil || el.Text != "Bravo bravo." {
		t.Errorf("Element = %v, %v", el, err)
	}
	if _, err := q.Element("missing"); !errors.Is(err, narrate.ErrElementUnknown) {
		t.Errorf("unknown id: got %v, want ErrElementUnknown", err)
	}
}

func TestJumpToSection(t *testing.T) {
	rec := &recorder{}
	q, _, els := testQueue(t, narrate.DefaultConfig(), rec)
	q.Enqueue(els)

	q.JumpToSection(1)
	if got := q.GetState().CurrentID; got != els[2].ID {
		t.Errorf("jump landed on %s, want %s", got, els[2].ID)
	}
	changes := rec.sectionChanges()
	if len(changes) != 1 || changes[0] != 1 {
		t.Errorf("section changes = %v, want [1]", changes)
	}

	before := q.GetState()
	q.JumpToSection(9)
	if got := q.GetState().CurrentID; got != before.CurrentID {
		t.Error("unknown section jump changed the cursor")
	}
}

func TestStaleCompletionIsIgnored(t *testing.T) {
	q, engine, els := testQueue(t, narrate.DefaultConfig(), nil)
	q.Enqueue(els)
	q.Start()

	first, _ := engine.Pending()
	q.Next() // cancels the first request, starts the second

	// The cancelled request completes anyway, simulating a race between
	// cancellation and the engine finishing.
	if err := engine.Complete(first.ID, nil); err != nil {
		t.Fatalf("complete stale: %v", err)
	}

	if got := q.GetState().CurrentID; got != els[1].ID {
		t.Errorf("stale completion moved the cursor to %s", got)
	}
	if els[1].Completed {
		t.Error("stale completion marked the wrong element completed")
	}
	if got := pendingText(engine); got != "Bravo bravo." {
		t.Errorf("pending narration = %q, want Bravo", got)
	}
}

func TestSpeakFailureReportsAndContinues(t *testing.T) {
	rec := &recorder{}
	q, engine, els := testQueue(t, narrate.DefaultConfig(), rec)
	q.Enqueue(els)

	boom := errors.New("synth unavailable")
	engine.FailNextSpeak(boom)
	q.Start()

	rec.mu.Lock()
	errCount := len(rec.errs)
	var firstErr error
	if errCount > 0 {
		firstErr = rec.errs[0]
	}
	rec.mu.Unlock()

	if errCount != 1 {
		t.Fatalf("OnError fired %d times, want 1", errCount)
	}
	var narErr *narrate.NarrationError
	if !errors.As(firstErr, &narErr) {
		t.Fatalf("OnError error = %T, want *NarrationError", firstErr)
	}
	if !errors.Is(firstErr, boom) {
		t.Error("NarrationError does not wrap the engine error")
	}
	if narErr.ElementID != els[0].ID {
		t.Errorf("error element = %s, want %s", narErr.ElementID, els[0].ID)
	}

	// The failed element counts as completed and playback moves on.
	if !els[0].Completed {
		t.Error("failed element not marked completed")
	}
	if got := pendingText(engine); got != "Bravo bravo." {
		t.Errorf("pending narration = %q, want Bravo", got)
	}
}

func TestEngineFailureCallbackReportsAndContinues(t *testing.T) {
	rec := &recorder{}
	q, engine, els := testQueue(t, narrate.DefaultConfig(), rec)
	q.Enqueue(els)
	q.Start()

	if err := engine.Fail(errors.New("stream cut")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	rec.mu.Lock()
	errCount := len(rec.errs)
	rec.mu.Unlock()
	if errCount != 1 {
		t.Fatalf("OnError fired %d times, want 1", errCount)
	}
	if got := pendingText(engine); got != "Bravo bravo." {
		t.Errorf("pending narration = %q, want Bravo", got)
	}
	if !q.GetState().Playing {
		t.Error("engine failure stopped playback")
	}
}

func TestStopCancelsAndResets(t *testing.T) {
	q, engine, els := testQueue(t, narrate.DefaultConfig(), nil)
	q.Enqueue(els)
	q.Start()

	q.Stop()

	state := q.GetState()
	if state.Playing || state.CurrentIndex != -1 || state.CurrentID != "" {
		t.Errorf("state after stop = %+v, want idle", state)
	}
	if len(engine.Cancelled()) != 1 {
		t.Errorf("cancelled %d requests, want 1", len(engine.Cancelled()))
	}
	if els[0].Active {
		t.Error("element still active after stop")
	}
}

func TestClearEmptiesQueue(t *testing.T) {
	q, _, els := testQueue(t, narrate.DefaultConfig(), nil)
	q.Enqueue(els)
	q.Start()

	q.Clear()
	if q.Len() != 0 {
		t.Errorf("length after clear = %d, want 0", q.Len())
	}
	if state := q.GetState(); state.Playing || state.CurrentSection != 0 {
		t.Errorf("state after clear = %+v, want reset", state)
	}
}

func TestFindNearestElement(t *testing.T) {
	q, _, els := testQueue(t, narrate.DefaultConfig(), nil)
	q.Enqueue(els)

	// Containment wins: a text node inside B resolves to B.
	inner := els[1].Node.FirstChild
	if inner == nil {
		t.Fatal("element B has no children")
	}
	if got := q.FindNearestElement(inner); got == nil || got.ID != els[1].ID {
		t.Errorf("containment lookup = %v, want %s", got, els[1].ID)
	}

	if got := q.FindNearestElement(nil); got != nil {
		t.Errorf("nil cursor returned %v", got)
	}
}

func TestFindNearestElementByGeometry(t *testing.T) {
	doc := parseDoc(t, queueDoc)
	cursor := nodeByID(t, doc, "gap")

	layout := fakeLayout{}
	factory := narrate.NewFactory(nil)
	q, err := narrate.NewQueue(mock.New(), narrate.DefaultConfig(), narrate.QueueOptions{
		Factory: factory,
		Layout:  layout,
	})
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	a := factory.CreateElement(narrate.ElementSpec{
		Node: nodeByID(t, doc, "a"), Text: "Alpha alpha.", Type: narrate.TypeParagraph, Order: 0,
	})
	c := factory.CreateElement(narrate.ElementSpec{
		Node: nodeByID(t, doc, "c"), Text: "Charlie charlie.", Type: narrate.TypeParagraph, Order: 1,
	})
	q.Enqueue([]*narrate.ReadableElement{a, c})

	layout[cursor] = narrate.Rect{X: 0, Y: 100, W: 10, H: 10}
	layout[a.Node] = narrate.Rect{X: 0, Y: 90, W: 10, H: 10}
	layout[c.Node] = narrate.Rect{X: 0, Y: 200, W: 10, H: 10}

	if got := q.FindNearestElement(cursor); got == nil || got.ID != a.ID {
		t.Errorf("nearest = %v, want %s", got, a.ID)
	}

	// Equidistant: the earlier element wins.
	layout[c.Node] = narrate.Rect{X: 0, Y: 110, W: 10, H: 10}
	if got := q.FindNearestElement(cursor); got == nil || got.ID != a.ID {
		t.Errorf("tie break = %v, want %s", got, a.ID)
	}

	// No geometry for the cursor means no answer.
	delete(layout, cursor)
	if got := q.FindNearestElement(cursor); got != nil {
		t.Errorf("lookup without cursor bounds = %v, want nil", got)
	}
}

func TestUpdateConfig(t *testing.T) {
	q, engine, els := testQueue(t, narrate.DefaultConfig(), nil)
	q.Enqueue(els)

	bad := 9.0
	if err := q.UpdateConfig(narrate.ConfigPatch{Rate: &bad}); !errors.Is(err, narrate.ErrInvalidConfig) {
		t.Errorf("invalid patch: got %v, want ErrInvalidConfig", err)
	}

	rate := 1.5
	voice := "en-GB"
	if err := q.UpdateConfig(narrate.ConfigPatch{Rate: &rate, Voice: &voice}); err != nil {
		t.Fatalf("valid patch rejected: %v", err)
	}

	q.Start()
	req, ok := engine.Pending()
	if !ok {
		t.Fatal("no narration pending after start")
	}
	if req.Rate != 1.5 || req.Voice != "en-GB" {
		t.Errorf("request carries rate=%v voice=%q, want updated values", req.Rate, req.Voice)
	}
}

func TestElementCallbacksFireInOrder(t *testing.T) {
	q, engine, els := testQueue(t, narrate.DefaultConfig(), nil)

	var mu sync.Mutex
	var events []string
	record := func(name string) func(*narrate.ReadableElement) {
		return func(el *narrate.ReadableElement) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, name+":"+el.Text)
		}
	}
	for _, el := range els[:1] {
		el.Callbacks = narrate.Callbacks{
			OnStart: record("start"),
			OnEnd:   record("end"),
		}
	}

	q.Enqueue(els[:1])
	q.Start()
	if err := engine.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"start:Alpha alpha.", "end:Alpha alpha."}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, events[i], want[i])
		}
	}
}
