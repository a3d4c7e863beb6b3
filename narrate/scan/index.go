package scan

import (
	"sort"

	"golang.org/x/net/html"
)

// Index maps any tree position back to its containing chunk. Built once
// per scan and read-only afterwards.
//
// Two lookup paths are kept: an anchor map for the fast path and parallel
// start/end arrays for binary search. The arrays tolerate imprecision
// from boundary resolution, which is why Lookup scans a small window
// around the binary search hit instead of trusting it blindly.
type Index struct {
	nodeID map[*html.Node]int
	anchor map[*html.Node]int
	starts []int
	ends   []int
	chunks []Chunk
}

const (
	narrowWindow = 2
	wideWindow   = 5
)

// BuildIndex assigns pre-order ids to every element and text node under
// root and resolves each chunk's boundaries against them.
func BuildIndex(root *html.Node, chunks []Chunk) *Index {
	ix := &Index{
		nodeID: make(map[*html.Node]int),
		anchor: make(map[*html.Node]int),
		starts: make([]int, len(chunks)),
		ends:   make([]int, len(chunks)),
		chunks: chunks,
	}

	id := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode || n.Type == html.TextNode {
			ix.nodeID[n] = id
			id++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}

	for i, c := range chunks {
		start := ix.resolveID(c.Range.Start, c.Anchor)
		end := ix.resolveID(c.Range.End, c.Anchor)
		if start > end {
			start, end = end, start
		}
		ix.starts[i] = start
		ix.ends[i] = end

		ix.claimAnchor(c.Anchor, i, c.Type == ChunkHeading)
		if c.Anchor != nil && c.Anchor.Type == html.TextNode && c.Anchor.Parent != nil {
			ix.claimAnchor(c.Anchor.Parent, i, c.Type == ChunkHeading)
		}
	}
	return ix
}

// resolveID maps a boundary node to its pre-order id, falling back to the
// chunk's anchor when the boundary is not indexed.
func (ix *Index) resolveID(n, anchor *html.Node) int {
	if n != nil {
		if id, ok := ix.nodeID[n]; ok {
			return id
		}
	}
	if anchor != nil {
		if id, ok := ix.nodeID[anchor]; ok {
			return id
		}
	}
	return 0
}

// claimAnchor registers an anchor node. Headings overwrite earlier
// claims; other chunks only take unclaimed anchors, so headings keep
// lookup priority.
func (ix *Index) claimAnchor(n *html.Node, chunk int, heading bool) {
	if n == nil {
		return
	}
	if _, taken := ix.anchor[n]; taken && !heading {
		return
	}
	ix.anchor[n] = chunk
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	return len(ix.chunks)
}

// ChunkAt returns the chunk at the given index.
func (ix *Index) ChunkAt(i int) Chunk {
	return ix.chunks[i]
}

// NodeID returns the pre-order id of a node, if it was indexed.
func (ix *Index) NodeID(n *html.Node) (int, bool) {
	id, ok := ix.nodeID[n]
	return id, ok
}

// Lookup finds the chunk containing a node. It tries, in order: the
// anchor map along the node's ancestor chain, a binary search over the
// start array with a small scan window, and a wider structural scan.
// The second result is false when the node is not covered by any chunk.
func (ix *Index) Lookup(n *html.Node) (int, bool) {
	if n == nil || len(ix.chunks) == 0 {
		return 0, false
	}

	for cur := n; cur != nil; cur = cur.Parent {
		if i, ok := ix.anchor[cur]; ok {
			return i, true
		}
	}

	id, indexed := ix.nodeID[n]
	if !indexed {
		// Position by the nearest indexed ancestor; the node itself may
		// have been attached after the index was built.
		for cur := n.Parent; cur != nil; cur = cur.Parent {
			if aid, ok := ix.nodeID[cur]; ok {
				id = aid
				break
			}
		}
	}

	pos := sort.Search(len(ix.starts), func(i int) bool {
		return ix.starts[i] > id
	}) - 1
	if pos < 0 {
		pos = 0
	}

	if indexed {
		for i := pos - narrowWindow; i <= pos+narrowWindow; i++ {
			if i < 0 || i >= len(ix.chunks) {
				continue
			}
			if ix.starts[i] <= id && id <= ix.ends[i] {
				return i, true
			}
		}
	}

	for i := pos - wideWindow; i <= pos+wideWindow; i++ {
		if i < 0 || i >= len(ix.chunks) {
			continue
		}
		if ix.rangeContains(i, n, id) {
			return i, true
		}
	}

	return 0, false
}

// rangeContains tests whether a chunk's range covers a node, comparing
// live tree structure first and resolved boundary ids second.
func (ix *Index) rangeContains(i int, n *html.Node, id int) bool {
	c := ix.chunks[i]
	if containsOrSelf(c.Range.Start, n) || containsOrSelf(c.Range.End, n) {
		return true
	}
	if c.Anchor != nil && containsOrSelf(c.Anchor, n) {
		return true
	}
	return ix.starts[i] <= id && id <= ix.ends[i]
}
