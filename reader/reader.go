// Package reader exposes the host command surface: read a named section
// or node aloud, navigate to a section, stop. It wires the scanner,
// index, element factory and playback queue around one document.
package reader

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/charmbracelet/log"
	"golang.org/x/net/html"

	"github.com/dgnsrekt/readaloud/narrate"
	"github.com/dgnsrekt/readaloud/narrate/scan"
)

// Options carry the reader's collaborators. All fields are optional.
type Options struct {
	// Sections supplies the table of contents. When nil, sections are
	// derived from the document's headings that carry an id attribute.
	Sections narrate.SectionProvider

	Highlighter narrate.Highlighter
	Scroller    narrate.Scroller
	Layout      narrate.Layout
	Hooks       narrate.Hooks

	// ElementCallbacks are attached to every element the reader builds.
	ElementCallbacks narrate.Callbacks

	Logger *log.Logger
}

// Reader narrates one document.
type Reader struct {
	doc      *html.Node
	engine   narrate.Engine
	queue    *narrate.PlaybackQueue
	factory  *narrate.Factory
	scanner  *scan.Scanner
	scroller narrate.Scroller
	sections []narrate.SectionRef
	elemCbs  narrate.Callbacks
	logger   *log.Logger

	index *scan.Index
}

// New builds a reader for the given document and initializes the engine.
func New(doc *html.Node, engine narrate.Engine, cfg narrate.Config, opts Options) (*Reader, error) {
	if doc == nil {
		return nil, fmt.Errorf("reader: nil document")
	}
	if err := engine.Initialize(cfg.EngineConfig()); err != nil {
		return nil, fmt.Errorf("initialize engine: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	factory := narrate.NewFactory(logger)

	queue, err := narrate.NewQueue(engine, cfg, narrate.QueueOptions{
		Highlighter: opts.Highlighter,
		Scroller:    opts.Scroller,
		Layout:      opts.Layout,
		Hooks:       opts.Hooks,
		Factory:     factory,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	r := &Reader{
		doc:      doc,
		engine:   engine,
		queue:    queue,
		factory:  factory,
		scanner:  scan.NewScanner(),
		scroller: opts.Scroller,
		elemCbs:  opts.ElementCallbacks,
		logger:   logger,
	}
	if opts.Sections != nil {
		r.sections = opts.Sections.Sections()
	} else {
		r.sections = headingSections(doc)
	}
	return r, nil
}

// Sections returns the table of contents the reader was given or derived.
func (r *Reader) Sections() []narrate.SectionRef {
	return r.sections
}

// Queue returns the underlying playback queue for direct navigation.
func (r *Reader) Queue() *narrate.PlaybackQueue {
	return r.queue
}

// ReadAll narrates the whole document from its body, or the document
// root when there is no body.
func (r *Reader) ReadAll() error {
	root := findBody(r.doc)
	if root == nil {
		root = r.doc
	}
	return r.readFrom(root)
}

// ReadSection narrates from the named section's start node. The title
// match is case-insensitive. A start node that is itself a heading is
// scoped to its container, and playback begins at the matching section.
func (r *Reader) ReadSection(title string) error {
	start := r.sectionNode(title)
	if start == nil {
		r.logger.Warn("unknown section", "title", title)
		return fmt.Errorf("read section %q: %w", title, narrate.ErrSectionUnknown)
	}
	scope := start
	if scan.HeadingLevel(start) > 0 && start.Parent != nil {
		scope = start.Parent
	}
	elements, err := r.prepare(scope)
	if err != nil {
		return err
	}
	r.queue.Enqueue(elements)
	for _, el := range elements {
		if el.Type == narrate.TypeHeading && strings.EqualFold(el.SectionTitle, title) {
			r.queue.JumpToElement(el.ID)
			break
		}
	}
	r.queue.Start()
	return nil
}

// ReadFrom narrates from the first node matching the selector.
func (r *Reader) ReadFrom(selector string) error {
	start := r.resolve(selector)
	if start == nil {
		return fmt.Errorf("read from %q: no matching node", selector)
	}
	return r.readFrom(start)
}

// Navigate scrolls to the named section without reading it.
func (r *Reader) Navigate(title string) error {
	start := r.sectionNode(title)
	if start == nil {
		r.logger.Warn("unknown section", "title", title)
		return fmt.Errorf("navigate to %q: %w", title, narrate.ErrSectionUnknown)
	}
	if r.scroller != nil {
		r.scroller.ScrollIntoView(start)
	}
	return nil
}

// Stop halts narration.
func (r *Reader) Stop() {
	r.queue.Stop()
}

// Locate maps a tree node back to the chunk containing it, using the
// index from the most recent read command.
func (r *Reader) Locate(n *html.Node) (scan.Chunk, bool) {
	if r.index == nil {
		return scan.Chunk{}, false
	}
	i, ok := r.index.Lookup(n)
	if !ok {
		return scan.Chunk{}, false
	}
	return r.index.ChunkAt(i), true
}

// readFrom runs one scan+index+build pass rooted at start and begins
// playback.
func (r *Reader) readFrom(start *html.Node) error {
	elements, err := r.prepare(start)
	if err != nil {
		return err
	}
	r.queue.Enqueue(elements)
	r.queue.Start()
	return nil
}

// prepare clears the queue, scans and indexes the subtree rooted at
// start, and builds its elements.
func (r *Reader) prepare(start *html.Node) ([]*narrate.ReadableElement, error) {
	chunks := r.scanner.Scan(start).Collect()
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no readable content under start node")
	}
	r.index = scan.BuildIndex(start, chunks)

	elements := r.buildElements(chunks)
	if len(elements) == 0 {
		return nil, fmt.Errorf("no narratable elements under start node")
	}
	r.queue.Clear()
	return elements, nil
}

// buildElements converts chunks into section-tagged elements. A new
// section begins at each heading chunk; content before the first heading
// lands in section zero with an empty title.
func (r *Reader) buildElements(chunks []scan.Chunk) []*narrate.ReadableElement {
	var elements []*narrate.ReadableElement
	section := 0
	title := ""
	order := 0
	for _, c := range chunks {
		if c.Type == scan.ChunkHeading {
			section++
			title = c.Name
		}
		text := scan.ChunkText(c)
		if text == "" {
			continue
		}
		elements = append(elements, r.factory.CreateElement(narrate.ElementSpec{
			Node:         c.Anchor,
			Text:         text,
			Type:         chunkElementType(c.Type),
			SectionIndex: section,
			SectionTitle: title,
			Order:        order,
			Level:        c.Level,
			Callbacks:    r.elemCbs,
		}))
		order++
	}
	return elements
}

// sectionNode resolves a section title to its start node: first via the
// table of contents, then by matching heading text directly.
func (r *Reader) sectionNode(title string) *html.Node {
	for _, ref := range r.sections {
		if strings.EqualFold(ref.Title, title) {
			if n := r.resolve(ref.Selector); n != nil {
				return n
			}
		}
	}
	return findHeadingByText(r.doc, title)
}

// resolve finds the first node matching a CSS selector. Invalid selector
// syntax is caught and converted to a nil return.
func (r *Reader) resolve(selector string) *html.Node {
	if selector == "" {
		return nil
	}
	sel, err := cascadia.Parse(selector)
	if err != nil {
		r.logger.Warn("invalid selector", "selector", selector, "err", err)
		return nil
	}
	return cascadia.Query(r.doc, sel)
}

func chunkElementType(t scan.ChunkType) narrate.ElementType {
	switch t {
	case scan.ChunkHeading:
		return narrate.TypeHeading
	case scan.ChunkParagraph:
		return narrate.TypeParagraph
	case scan.ChunkLandmark:
		return narrate.TypeLandmark
	case scan.ChunkControl:
		return narrate.TypeControl
	case scan.ChunkListItem:
		return narrate.TypeListItem
	case scan.ChunkCell, scan.ChunkColumnHeader:
		return narrate.TypeCell
	default:
		return narrate.TypeText
	}
}

// headingSections derives a table of contents from headings that carry
// an id attribute.
func headingSections(doc *html.Node) []narrate.SectionRef {
	var refs []narrate.SectionRef
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if scan.HeadingLevel(n) > 0 && !scan.Hidden(n) {
			if id := scan.Attr(n, "id"); id != "" {
				refs = append(refs, narrate.SectionRef{
					Title:    strings.TrimSpace(scan.Text(n)),
					Selector: "#" + id,
				})
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return refs
}

// findHeadingByText locates a visible heading whose text matches title.
func findHeadingByText(doc *html.Node, title string) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if scan.HeadingLevel(n) > 0 && !scan.Hidden(n) {
			if strings.EqualFold(strings.TrimSpace(scan.Text(n)), strings.TrimSpace(title)) {
				found = n
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

// StaticTOC is a fixed table of contents.
type StaticTOC []narrate.SectionRef

// Sections implements narrate.SectionProvider.
func (t StaticTOC) Sections() []narrate.SectionRef {
	return t
}
