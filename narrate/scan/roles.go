// Package scan walks an HTML document tree into an ordered sequence of
// readable chunks and builds a positional index over them.
package scan

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Role classifies a node for chunking purposes. The inference here is
// heuristic: it looks at tag names and role attributes, not at a full
// accessibility tree.
type Role int

const (
	// RoleNone means the node has no chunk-relevant role.
	RoleNone Role = iota
	// RoleHeading is an h1-h6 or an explicit heading role.
	RoleHeading
	// RoleParagraph is an explicit paragraph-like text block.
	RoleParagraph
	// RoleListItem is a list item.
	RoleListItem
	// RoleCell is a table or grid cell.
	RoleCell
	// RoleColumnHeader is a table column header.
	RoleColumnHeader
	// RoleLandmark is an accessibility region (navigation, main, ...).
	RoleLandmark
	// RoleControl is an interactive or focusable node.
	RoleControl
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleHeading:
		return "heading"
	case RoleParagraph:
		return "paragraph"
	case RoleListItem:
		return "listitem"
	case RoleCell:
		return "cell"
	case RoleColumnHeader:
		return "columnheader"
	case RoleLandmark:
		return "landmark"
	case RoleControl:
		return "control"
	default:
		return "none"
	}
}

var landmarkRoles = map[string]bool{
	"navigation":    true,
	"main":          true,
	"complementary": true,
	"banner":        true,
	"contentinfo":   true,
	"region":        true,
	"search":        true,
}

var landmarkTags = map[string]string{
	"nav":    "navigation",
	"main":   "main",
	"aside":  "complementary",
	"header": "banner",
	"footer": "contentinfo",
}

var interactiveTags = map[string]bool{
	"a":        true,
	"button":   true,
	"input":    true,
	"select":   true,
	"textarea": true,
	"summary":  true,
}

// blockTags are text blocks that become single paragraph chunks. Container
// tags (div, section, ul, table) are deliberately absent: their text content
// is picked up by implicit paragraph runs instead.
var blockTags = map[string]bool{
	"p":          true,
	"blockquote": true,
	"pre":        true,
	"figcaption": true,
	"caption":    true,
	"dt":         true,
	"dd":         true,
}

// RoleOf infers the chunking role of a single node. Explicit role
// attributes win over tag-based inference.
func RoleOf(n *html.Node) Role {
	if n == nil || n.Type != html.ElementNode {
		return RoleNone
	}
	switch Attr(n, "role") {
	case "heading":
		return RoleHeading
	case "paragraph":
		return RoleParagraph
	case "listitem":
		return RoleListItem
	case "cell", "gridcell":
		return RoleCell
	case "columnheader":
		return RoleColumnHeader
	case "button", "link", "checkbox", "radio", "textbox", "combobox",
		"slider", "switch", "menuitem", "tab":
		return RoleControl
	}
	if landmarkRoles[Attr(n, "role")] {
		return RoleLandmark
	}
	if HeadingLevel(n) > 0 {
		return RoleHeading
	}
	if _, ok := landmarkTags[n.Data]; ok {
		return RoleLandmark
	}
	if Focusable(n) {
		return RoleControl
	}
	switch n.Data {
	case "li":
		return RoleListItem
	case "td":
		return RoleCell
	case "th":
		return RoleColumnHeader
	}
	if blockTags[n.Data] {
		return RoleParagraph
	}
	return RoleNone
}

// LandmarkRole returns the landmark role name for a node, or "" if the
// node is not a landmark.
func LandmarkRole(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	if r := Attr(n, "role"); landmarkRoles[r] {
		return r
	}
	return landmarkTags[n.Data]
}

// HeadingLevel returns the heading level of a node (1-6), or 0 if the
// node is not a heading. Explicit heading roles use aria-level and
// default to level 2, matching the ARIA default.
func HeadingLevel(n *html.Node) int {
	if n == nil || n.Type != html.ElementNode {
		return 0
	}
	if len(n.Data) == 2 && n.Data[0] == 'h' && n.Data[1] >= '1' && n.Data[1] <= '6' {
		return int(n.Data[1] - '0')
	}
	if Attr(n, "role") == "heading" {
		if lvl, err := strconv.Atoi(Attr(n, "aria-level")); err == nil && lvl >= 1 && lvl <= 6 {
			return lvl
		}
		return 2
	}
	return 0
}

// Focusable reports whether a node is interactive: an interactive tag or
// a non-negative explicit tab index.
func Focusable(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if interactiveTags[n.Data] {
		if n.Data == "a" && Attr(n, "href") == "" {
			return false
		}
		return true
	}
	if ti := Attr(n, "tabindex"); ti != "" {
		if idx, err := strconv.Atoi(ti); err == nil && idx >= 0 {
			return true
		}
	}
	return false
}

// hiddenSelf reports whether a single node is hidden without consulting
// its ancestors. Computed style is not available on a static tree, so the
// inline style attribute stands in for it.
func hiddenSelf(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if Attr(n, "aria-hidden") == "true" {
		return true
	}
	if HasAttr(n, "hidden") || HasAttr(n, "inert") {
		return true
	}
	style := strings.ReplaceAll(Attr(n, "style"), " ", "")
	if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
		return true
	}
	// Content of a closed disclosure widget is hidden except its summary.
	if p := n.Parent; p != nil && p.Type == html.ElementNode && p.Data == "details" &&
		!HasAttr(p, "open") && n.Data != "summary" {
		return true
	}
	return false
}

// Hidden reports whether a node is hidden from the accessibility tree:
// it or any ancestor is hidden.
func Hidden(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if hiddenSelf(cur) {
			return true
		}
	}
	return false
}

// AccessibleName resolves a control's name: explicit aria-label, else the
// text of aria-labelledby targets, else the node's trimmed visible text.
func AccessibleName(n, root *html.Node) string {
	if label := strings.TrimSpace(Attr(n, "aria-label")); label != "" {
		return label
	}
	if ref := Attr(n, "aria-labelledby"); ref != "" {
		var parts []string
		for _, id := range strings.Fields(ref) {
			if target := FindByID(root, id); target != nil {
				if text := strings.TrimSpace(Text(target)); text != "" {
					parts = append(parts, text)
				}
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	return strings.TrimSpace(Text(n))
}

// Attr returns the value of the named attribute, or "".
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// HasAttr reports whether the node carries the named attribute at all.
func HasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// Text returns the concatenated text content of a subtree.
func Text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			b.WriteString(cur.Data)
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return b.String()
}

// FindByID locates the element with the given id under root.
func FindByID(root *html.Node, id string) *html.Node {
	if root == nil {
		return nil
	}
	if root.Type == html.ElementNode && Attr(root, "id") == id {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := FindByID(c, id); found != nil {
			return found
		}
	}
	return nil
}
