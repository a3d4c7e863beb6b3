package scan

import (
	"strings"

	"golang.org/x/net/html"
)

// ChunkText derives the spoken text of a chunk. Headings and controls
// read their resolved name; everything else concatenates the visible
// text nodes between the chunk's range boundaries, whitespace collapsed.
func ChunkText(c Chunk) string {
	if c.Name != "" && (c.Type == ChunkHeading || c.Type == ChunkControl) {
		return c.Name
	}
	if c.Range.Start == nil {
		return ""
	}

	final := c.Range.End
	if final != nil {
		final = lastDescendant(final)
	}

	var b strings.Builder
	n := c.Range.Start
	for n != nil {
		descend := true
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			if hiddenSelf(n) {
				descend = false
			}
		}
		if n == final {
			break
		}
		n = textNext(n, descend)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// textNext advances in pre-order without an upper traversal bound; the
// caller terminates on the range's final node.
func textNext(n *html.Node, descend bool) *html.Node {
	if descend && n.FirstChild != nil {
		return n.FirstChild
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.NextSibling != nil {
			return cur.NextSibling
		}
	}
	return nil
}
