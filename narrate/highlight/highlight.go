// Package highlight applies and removes a visual marker on document
// nodes, handing back a scoped release for each application.
package highlight

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Style is the set of inline style properties a highlight overwrites on
// an element node.
type Style struct {
	Background string
	Foreground string
	Outline    string
}

// DefaultStyle is the classic read-aloud marker: yellow on black.
func DefaultStyle() Style {
	return Style{
		Background: "#ffeb3b",
		Foreground: "#000000",
		Outline:    "2px solid #fbc02d",
	}
}

// Marker highlights nodes. Only one queue should be highlighting within
// a given tree at a time; the marker itself keeps no state between
// applications.
type Marker struct {
	style Style
}

// New creates a marker with the given style.
func New(style Style) *Marker {
	return &Marker{style: style}
}

// Apply marks a node and returns a release that undoes it exactly.
//
// A text node is wrapped in an inline <mark> container; release unwraps
// it. An element node gets a small set of style properties overwritten,
// with the original style attribute recorded; release restores the
// attribute byte for byte. Anything else is a no-op and returns false.
func (m *Marker) Apply(n *html.Node) (func(), bool) {
	if n == nil {
		return func() {}, false
	}
	switch n.Type {
	case html.TextNode:
		return m.wrapText(n)
	case html.ElementNode:
		return m.styleElement(n)
	default:
		return func() {}, false
	}
}

func (m *Marker) wrapText(n *html.Node) (func(), bool) {
	parent := n.Parent
	if parent == nil {
		return func() {}, false
	}
	mark := &html.Node{
		Type:     html.ElementNode,
		Data:     "mark",
		DataAtom: atom.Mark,
		Attr: []html.Attribute{
			{Key: "data-readaloud", Val: "highlight"},
			{Key: "style", Val: m.declaration()},
		},
	}
	parent.InsertBefore(mark, n)
	parent.RemoveChild(n)
	mark.AppendChild(n)

	released := false
	return func() {
		if released || mark.Parent == nil {
			return
		}
		released = true
		mark.RemoveChild(n)
		parent.InsertBefore(n, mark)
		parent.RemoveChild(mark)
	}, true
}

func (m *Marker) styleElement(n *html.Node) (func(), bool) {
	original, had := attrValue(n, "style")
	decl := m.declaration()
	if had && original != "" {
		setAttr(n, "style", strings.TrimRight(original, "; ")+"; "+decl)
	} else {
		setAttr(n, "style", decl)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		if had {
			setAttr(n, "style", original)
		} else {
			removeAttr(n, "style")
		}
	}, true
}

func (m *Marker) declaration() string {
	var parts []string
	if m.style.Background != "" {
		parts = append(parts, "background-color: "+m.style.Background)
	}
	if m.style.Foreground != "" {
		parts = append(parts, "color: "+m.style.Foreground)
	}
	if m.style.Outline != "" {
		parts = append(parts, "outline: "+m.style.Outline)
	}
	return strings.Join(parts, "; ")
}

func attrValue(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}
