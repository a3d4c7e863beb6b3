package narrate

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/dgnsrekt/readaloud/narrate/scan"
)

func parse(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func findByID(t *testing.T, doc *html.Node, id string) *html.Node {
	t.Helper()
	n := scan.FindByID(doc, id)
	if n == nil {
		t.Fatalf("node %q not found", id)
	}
	return n
}

func TestCreateElementIDs(t *testing.T) {
	doc := parse(t, `<body>
		<p id="intro">Hello, World!</p>
		<p class="Lead extra">Classy text</p>
		<div id="weird">Ünïcode &amp; symbols!!</div>
	</body>`)
	f := NewFactory(nil)

	tests := []struct {
		name string
		node *html.Node
		text string
		ord  int
		want string
	}{
		{
			name: "dom id wins",
			node: findByID(t, doc, "intro"),
			text: "Hello, World!",
			ord:  0,
			want: "p-intro-hello-world-0",
		},
		{
			name: "first class as fallback",
			node: findByID(t, doc, "intro").NextSibling.NextSibling,
			text: "Classy text",
			ord:  3,
			want: "p-lead-classy-text-3",
		},
		{
			name: "non ascii collapses to dashes",
			node: findByID(t, doc, "weird"),
			text: "Ünïcode & symbols!!",
			ord:  7,
			want: "div-weird-n-code-symb-7",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el := f.CreateElement(ElementSpec{Node: tt.node, Text: tt.text, Order: tt.ord})
			if el.ID != tt.want {
				t.Errorf("id = %q, want %q", el.ID, tt.want)
			}
			// Same inputs, same id.
			again := f.CreateElement(ElementSpec{Node: tt.node, Text: tt.text, Order: tt.ord})
			if again.ID != el.ID {
				t.Errorf("id not deterministic: %q vs %q", again.ID, el.ID)
			}
		})
	}
}

func TestInferType(t *testing.T) {
	doc := parse(t, `<body>
		<h3 id="h">Heading</h3>
		<p id="p">Paragraph</p>
		<ul><li id="li">Item</li></ul>
		<table><tr><th id="th">Col</th><td id="td">Cell</td></tr></table>
		<a id="a" href="/x">Link</a>
		<nav id="nav">Menu</nav>
		<span id="span">Plain</span>
	</body>`)

	tests := []struct {
		id   string
		want ElementType
	}{
		{"h", TypeHeading},
		{"p", TypeParagraph},
		{"li", TypeListItem},
		{"th", TypeCell},
		{"td", TypeCell},
		{"a", TypeControl},
		{"nav", TypeLandmark},
		{"span", TypeText},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := InferType(findByID(t, doc, tt.id)); got != tt.want {
				t.Errorf("InferType(#%s) = %s, want %s", tt.id, got, tt.want)
			}
		})
	}
}

func TestCreateElementInfersTypeAndLevel(t *testing.T) {
	doc := parse(t, `<body><h3 id="h">Deep heading</h3></body>`)
	f := NewFactory(nil)

	el := f.CreateElement(ElementSpec{Node: findByID(t, doc, "h"), Text: "Deep heading"})
	if el.Type != TypeHeading {
		t.Errorf("type = %s, want heading", el.Type)
	}
	if el.Level != 3 {
		t.Errorf("level = %d, want 3", el.Level)
	}
}

func TestCreateFromNodes(t *testing.T) {
	doc := parse(t, `<body>
		<p id="a">First</p>
		<p id="b">   </p>
		<p id="c">Third</p>
	</body>`)
	f := NewFactory(nil)

	nodes := []*html.Node{
		findByID(t, doc, "a"),
		findByID(t, doc, "b"), // whitespace only, skipped
		findByID(t, doc, "c"),
	}
	els := f.CreateFromNodes(nodes, 2, "Chapter", 10)
	if len(els) != 2 {
		t.Fatalf("got %d elements, want 2", len(els))
	}
	if els[0].Text != "First" || els[1].Text != "Third" {
		t.Errorf("texts = %q, %q", els[0].Text, els[1].Text)
	}
	if els[0].SectionIndex != 2 || els[0].SectionTitle != "Chapter" {
		t.Errorf("section tagging = %d %q", els[0].SectionIndex, els[0].SectionTitle)
	}
	if els[0].Order != 10 || els[1].Order != 12 {
		t.Errorf("orders = %d, %d; want 10, 12", els[0].Order, els[1].Order)
	}
}

func TestValidateDetachedNode(t *testing.T) {
	doc := parse(t, `<body><p id="a">Attached</p></body>`)
	f := NewFactory(nil)

	attached := f.CreateElement(ElementSpec{Node: findByID(t, doc, "a"), Text: "Attached"})
	if !f.Validate(attached) {
		t.Error("attached element failed validation")
	}

	floating := &html.Node{Type: html.ElementNode, Data: "p"}
	detached := f.CreateElement(ElementSpec{Node: floating, Text: "floating"})
	if f.Validate(detached) {
		t.Error("detached element passed validation")
	}
	if f.Validate(nil) {
		t.Error("nil element passed validation")
	}
}

func TestRefresh(t *testing.T) {
	doc := parse(t, `<body><p id="a">Original</p></body>`)
	f := NewFactory(nil)
	node := findByID(t, doc, "a")

	el := f.CreateElement(ElementSpec{Node: node, Text: "Original"})
	node.FirstChild.Data = "Changed text"
	if err := f.Refresh(el); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if el.Text != "Changed text" {
		t.Errorf("text after refresh = %q", el.Text)
	}

	detached := f.CreateElement(ElementSpec{
		Node: &html.Node{Type: html.ElementNode, Data: "p"},
		Text: "gone",
	})
	if err := f.Refresh(detached); !errors.Is(err, ErrElementStale) {
		t.Errorf("refresh detached: got %v, want ErrElementStale", err)
	}
}

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello World", "hello-world"},
		{"--already--dashed--", "already-dashed"},
		{"MiXeD_case_09", "mixed_case_09"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		if got := sanitizeID(tt.in); got != tt.want {
			t.Errorf("sanitizeID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
