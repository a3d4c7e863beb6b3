package narrate

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/net/html"

	"github.com/dgnsrekt/readaloud/narrate/scan"
)

// ElementType identifies the kind of playable unit.
type ElementType int

const (
	// TypeAuto asks the factory to infer the type from the node.
	TypeAuto ElementType = iota
	// TypeText is generic static text.
	TypeText
	// TypeHeading is a section heading.
	TypeHeading
	// TypeParagraph is running text.
	TypeParagraph
	// TypeListItem is a list item.
	TypeListItem
	// TypeCell is a table cell.
	TypeCell
	// TypeControl is an interactive node.
	TypeControl
	// TypeLandmark is an accessibility region.
	TypeLandmark
)

// String returns the element type name.
func (t ElementType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeHeading:
		return "heading"
	case TypeParagraph:
		return "paragraph"
	case TypeListItem:
		return "listitem"
	case TypeCell:
		return "cell"
	case TypeControl:
		return "control"
	case TypeLandmark:
		return "landmark"
	default:
		return "auto"
	}
}

// Callbacks are per-element lifecycle hooks. Nil callbacks are skipped.
type Callbacks struct {
	OnStart       func(*ReadableElement)
	OnEnd         func(*ReadableElement)
	OnHighlight   func(*ReadableElement)
	OnUnhighlight func(*ReadableElement)
}

// ReadableElement is one playable narration unit. The queue mutates the
// progress flags in place as playback advances; the node reference is
// externally owned and never mutated through the element.
type ReadableElement struct {
	ID           string
	Node         *html.Node
	Text         string
	SectionIndex int
	SectionTitle string
	Type         ElementType
	Level        int
	Order        int

	Active      bool
	Completed   bool
	Highlighted bool

	Callbacks Callbacks
}

// ElementSpec describes an element to create. Type may be TypeAuto to
// infer it from the node; Level is only meaningful for headings.
type ElementSpec struct {
	Node         *html.Node
	Text         string
	Type         ElementType
	SectionIndex int
	SectionTitle string
	Order        int
	Level        int
	Callbacks    Callbacks
}

// Factory converts nodes into typed, section-tagged readable elements.
type Factory struct {
	logger *log.Logger
}

// NewFactory creates an element factory.
func NewFactory(logger *log.Logger) *Factory {
	if logger == nil {
		logger = log.Default()
	}
	return &Factory{logger: logger}
}

// CreateElement builds a ReadableElement from a spec. The id is derived
// deterministically from the node's tag, its DOM id or class, a text
// prefix, and the order.
func (f *Factory) CreateElement(spec ElementSpec) *ReadableElement {
	typ := spec.Type
	if typ == TypeAuto {
		typ = InferType(spec.Node)
	}
	level := spec.Level
	if level == 0 && typ == TypeHeading {
		level = scan.HeadingLevel(spec.Node)
	}
	return &ReadableElement{
		ID:           elementID(spec.Node, spec.Text, spec.Order),
		Node:         spec.Node,
		Text:         spec.Text,
		SectionIndex: spec.SectionIndex,
		SectionTitle: spec.SectionTitle,
		Type:         typ,
		Level:        level,
		Order:        spec.Order,
		Callbacks:    spec.Callbacks,
	}
}

// CreateFromNodes maps a node list to elements with inferred types and
// sequential order starting at startOrder.
func (f *Factory) CreateFromNodes(nodes []*html.Node, sectionIndex int, sectionTitle string, startOrder int) []*ReadableElement {
	elements := make([]*ReadableElement, 0, len(nodes))
	for i, n := range nodes {
		text := collapseSpace(scan.Text(n))
		if text == "" {
			continue
		}
		elements = append(elements, f.CreateElement(ElementSpec{
			Node:         n,
			Text:         text,
			SectionIndex: sectionIndex,
			SectionTitle: sectionTitle,
			Order:        startOrder + i,
		}))
	}
	return elements
}

// Validate reports whether the element's node is still attached to a
// document. Text drift is logged but not fatal.
func (f *Factory) Validate(el *ReadableElement) bool {
	if el == nil || el.Node == nil {
		return false
	}
	if !attached(el.Node) {
		return false
	}
	if live := collapseSpace(scan.Text(el.Node)); live != "" && el.Text != "" && live != el.Text {
		f.logger.Debug("element text drifted from live node", "id", el.ID)
	}
	return true
}

// Refresh re-derives the element's text from the live node. It fails if
// the element no longer validates.
func (f *Factory) Refresh(el *ReadableElement) error {
	if !f.Validate(el) {
		return fmt.Errorf("refresh %s: %w", el.ID, ErrElementStale)
	}
	el.Text = collapseSpace(scan.Text(el.Node))
	return nil
}

// InferType guesses the element type from the node.
func InferType(n *html.Node) ElementType {
	switch scan.RoleOf(n) {
	case scan.RoleHeading:
		return TypeHeading
	case scan.RoleListItem:
		return TypeListItem
	case scan.RoleCell, scan.RoleColumnHeader:
		return TypeCell
	case scan.RoleControl:
		return TypeControl
	case scan.RoleLandmark:
		return TypeLandmark
	case scan.RoleParagraph:
		return TypeParagraph
	default:
		return TypeText
	}
}

const idTextPrefix = 16

// elementID builds a deterministic identifier-safe id.
func elementID(n *html.Node, text string, order int) string {
	var parts []string
	if n != nil && n.Type == html.ElementNode {
		parts = append(parts, n.Data)
		if domID := scan.Attr(n, "id"); domID != "" {
			parts = append(parts, domID)
		} else if class := scan.Attr(n, "class"); class != "" {
			parts = append(parts, strings.Fields(class)[0])
		}
	} else {
		parts = append(parts, "text")
	}
	prefix := text
	if len(prefix) > idTextPrefix {
		prefix = prefix[:idTextPrefix]
	}
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, fmt.Sprintf("%d", order))
	return sanitizeID(strings.Join(parts, "-"))
}

// sanitizeID replaces anything that is not identifier-safe with a dash
// and collapses runs of dashes.
func sanitizeID(s string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// attached reports whether the node's ancestor chain reaches a document.
func attached(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.DocumentNode {
			return true
		}
	}
	return false
}

// collapseSpace trims and collapses all runs of whitespace to one space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
