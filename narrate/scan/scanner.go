package scan

import (
	"strings"

	"golang.org/x/net/html"
)

// ChunkType identifies the kind of readable chunk.
type ChunkType int

const (
	// ChunkHeading is a heading plus the section content it governs.
	ChunkHeading ChunkType = iota
	// ChunkParagraph is a block of running text.
	ChunkParagraph
	// ChunkLandmark spans an accessibility region.
	ChunkLandmark
	// ChunkControl covers a single interactive node.
	ChunkControl
	// ChunkListItem covers a list item.
	ChunkListItem
	// ChunkCell covers a table cell.
	ChunkCell
	// ChunkColumnHeader covers a table column header.
	ChunkColumnHeader
)

// String returns the chunk type name.
func (t ChunkType) String() string {
	switch t {
	case ChunkHeading:
		return "heading"
	case ChunkParagraph:
		return "paragraph"
	case ChunkLandmark:
		return "landmark"
	case ChunkControl:
		return "control"
	case ChunkListItem:
		return "listitem"
	case ChunkCell:
		return "cell"
	case ChunkColumnHeader:
		return "columnheader"
	default:
		return "unknown"
	}
}

// Range marks the first and last node (inclusive) a chunk spans.
type Range struct {
	Start *html.Node
	End   *html.Node
}

// Chunk is one atomic span of readable content. Immutable once emitted.
type Chunk struct {
	Type   ChunkType
	Role   string // landmark/control role detail, "" otherwise
	Level  int    // heading level, 0 otherwise
	Name   string // accessible name for controls
	Range  Range
	Anchor *html.Node
}

// Scanner produces readable chunks from a document tree.
type Scanner struct{}

// NewScanner creates a document scanner.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Scan starts a chunking pass rooted at the given node. The returned
// sequence is finite and not restartable; call Scan again to reproduce it.
//
// Headings are collected up front so each heading chunk can span forward
// to the next heading of equal-or-higher level. All chunks are then
// emitted during a single forward traversal, in document order.
func (s *Scanner) Scan(root *html.Node) *Scan {
	sc := &Scan{root: root, cur: root}
	if root != nil {
		sc.order = preorder(root)
		sc.headings = collectHeadings(root, sc.order)
	}
	return sc
}

// Scan is an in-progress chunking pass. Not safe for concurrent use.
type Scan struct {
	root     *html.Node
	cur      *html.Node
	order    []*html.Node
	headings map[*html.Node]Chunk

	// Pending implicit paragraph run.
	runStart *html.Node
	runEnd   *html.Node

	// Root of the most recent single-node chunk; text beneath it does not
	// open a new paragraph run. Landmarks deliberately do not set this, so
	// landmark content is double-covered (documented heuristic).
	covered *html.Node

	out  []Chunk
	done bool
}

// Next returns the next chunk in document order. The second result is
// false once the sequence is exhausted.
func (sc *Scan) Next() (Chunk, bool) {
	for len(sc.out) == 0 {
		if sc.cur == nil {
			if sc.done {
				return Chunk{}, false
			}
			sc.flushRun()
			sc.done = true
			continue
		}
		n := sc.cur
		descend := sc.visit(n)
		sc.cur = sc.advance(n, descend)
	}
	c := sc.out[0]
	sc.out = sc.out[1:]
	return c, true
}

// Collect drains the remaining sequence into a slice.
func (sc *Scan) Collect() []Chunk {
	var chunks []Chunk
	for {
		c, ok := sc.Next()
		if !ok {
			return chunks
		}
		chunks = append(chunks, c)
	}
}

// visit classifies one node, buffering any chunks it produces, and
// reports whether the traversal should descend into its children.
func (sc *Scan) visit(n *html.Node) bool {
	switch n.Type {
	case html.TextNode:
		sc.visitText(n)
		return false
	case html.ElementNode:
		// skip
	default:
		return true
	}

	if hiddenSelf(n) {
		return false
	}

	if hc, ok := sc.headings[n]; ok {
		sc.flushRun()
		sc.out = append(sc.out, hc)
		return false
	}

	switch RoleOf(n) {
	case RoleLandmark:
		sc.flushRun()
		sc.out = append(sc.out, Chunk{
			Type:   ChunkLandmark,
			Role:   LandmarkRole(n),
			Range:  Range{Start: n, End: lastDescendant(n)},
			Anchor: n,
		})
		// Descendants are still visited; chunks may overlap.
		return true
	case RoleControl:
		sc.flushRun()
		sc.out = append(sc.out, Chunk{
			Type:   ChunkControl,
			Role:   "control",
			Name:   AccessibleName(n, sc.root),
			Range:  Range{Start: n, End: lastDescendant(n)},
			Anchor: n,
		})
		sc.covered = n
		return true
	case RoleListItem:
		sc.emitCovering(n, ChunkListItem)
		return true
	case RoleCell:
		sc.emitCovering(n, ChunkCell)
		return true
	case RoleColumnHeader:
		sc.emitCovering(n, ChunkColumnHeader)
		return true
	case RoleParagraph:
		sc.emitCovering(n, ChunkParagraph)
		return true
	}
	return true
}

// emitCovering flushes any open paragraph run and emits a chunk spanning
// the node's full contents. Text beneath the node is considered covered.
func (sc *Scan) emitCovering(n *html.Node, t ChunkType) {
	sc.flushRun()
	sc.out = append(sc.out, Chunk{
		Type:   t,
		Range:  Range{Start: n, End: lastDescendant(n)},
		Anchor: n,
	})
	sc.covered = n
}

func (sc *Scan) visitText(n *html.Node) {
	if strings.TrimSpace(n.Data) == "" {
		return
	}
	if sc.covered != nil && containsOrSelf(sc.covered, n) {
		return
	}
	if sc.runStart == nil {
		sc.runStart = n
	}
	sc.runEnd = n
}

// flushRun emits the pending implicit paragraph run, if any.
func (sc *Scan) flushRun() {
	if sc.runStart == nil {
		return
	}
	anchor := sc.runStart.Parent
	if anchor == nil {
		anchor = sc.runStart
	}
	sc.out = append(sc.out, Chunk{
		Type:   ChunkParagraph,
		Range:  Range{Start: sc.runStart, End: sc.runEnd},
		Anchor: anchor,
	})
	sc.runStart = nil
	sc.runEnd = nil
}

// advance moves to the next node in pre-order, optionally skipping the
// current node's subtree.
func (sc *Scan) advance(n *html.Node, descend bool) *html.Node {
	if descend && n.FirstChild != nil {
		return n.FirstChild
	}
	for cur := n; cur != nil && cur != sc.root; cur = cur.Parent {
		if cur.NextSibling != nil {
			return cur.NextSibling
		}
	}
	return nil
}

// collectHeadings finds every visible heading under root and builds its
// chunk. A heading's range runs from the heading to just before the next
// heading whose level is equal or higher, or to the end of the tree.
func collectHeadings(root *html.Node, order []*html.Node) map[*html.Node]Chunk {
	type heading struct {
		node  *html.Node
		level int
		pos   int
	}
	pos := make(map[*html.Node]int, len(order))
	for i, n := range order {
		pos[n] = i
	}

	var headings []heading
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hiddenSelf(n) {
			return
		}
		if lvl := HeadingLevel(n); lvl > 0 {
			headings = append(headings, heading{node: n, level: lvl, pos: pos[n]})
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	chunks := make(map[*html.Node]Chunk, len(headings))
	for i, h := range headings {
		end := order[len(order)-1]
		for j := i + 1; j < len(headings); j++ {
			if headings[j].level <= h.level {
				end = order[headings[j].pos-1]
				break
			}
		}
		chunks[h.node] = Chunk{
			Type:   ChunkHeading,
			Role:   "heading",
			Level:  h.level,
			Name:   strings.TrimSpace(Text(h.node)),
			Range:  Range{Start: h.node, End: end},
			Anchor: h.node,
		}
	}
	return chunks
}

// preorder flattens the subtree rooted at n into document order.
func preorder(n *html.Node) []*html.Node {
	var nodes []*html.Node
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		nodes = append(nodes, cur)
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return nodes
}

// lastDescendant returns the deepest, rightmost node under n, or n itself
// if it has no children.
func lastDescendant(n *html.Node) *html.Node {
	cur := n
	for cur.LastChild != nil {
		cur = cur.LastChild
	}
	return cur
}

// containsOrSelf reports whether inner is root or one of its descendants.
func containsOrSelf(root, inner *html.Node) bool {
	for cur := inner; cur != nil; cur = cur.Parent {
		if cur == root {
			return true
		}
	}
	return false
}
