// Package mark paints resolved text ranges into the document tree and
// removes them again without corrupting surrounding structure.
//
// A rendered mark is a <mark> element carrying the anchor id and color as
// data attributes. Lookup is always by scanning for the id attribute, so
// wrap/unwrap keep working after unrelated tree edits. All mutations are
// all-or-nothing: every precondition is checked before the first node is
// touched.
package mark

import (
	"errors"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/dommark/resolve"
)

const (
	// Tag is the wrapper element name.
	Tag = "mark"
	// IDAttr carries the anchor id on a rendered mark.
	IDAttr = "data-dommark-id"
	// ColorAttr carries the highlight color.
	ColorAttr = "data-dommark-color"
	// PulseAttr is a transient attribute set by Pulse; front-ends animate
	// and clear it.
	PulseAttr = "data-dommark-pulse"
)

// ErrWrapRejected is returned when a range cannot be wrapped safely. The
// document is left untouched.
var ErrWrapRejected = errors.New("mark: range cannot be wrapped safely")

// voidElements cannot have children; a text node under one is a parser
// artifact that must not be wrapped.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// Renderer mutates one document tree. It keeps no state of its own.
type Renderer struct {
	doc *html.Node
}

// NewRenderer wraps a parsed document.
func NewRenderer(doc *html.Node) *Renderer {
	return &Renderer{doc: doc}
}

// Wrap inserts a mark element around the range, splitting the owning text
// node into before/mark/after. Returns ErrWrapRejected — with no partial
// mutation — when the range is invalid, sits under a void element,
// overlaps an existing mark, or the id is already rendered.
func (r *Renderer) Wrap(rng resolve.Range, id, color string) error {
	txt := rng.Node
	if id == "" || txt == nil || txt.Type != html.TextNode {
		return ErrWrapRejected
	}
	parent := txt.Parent
	if parent == nil || parent.Type != html.ElementNode || voidElements[parent.Data] {
		return ErrWrapRejected
	}
	runes := []rune(txt.Data)
	if rng.Start < 0 || rng.End > len(runes) || rng.Start >= rng.End {
		return ErrWrapRejected
	}
	// Partial overlap with an existing mark corrupts nesting.
	for a := parent; a != nil && a.Type == html.ElementNode; a = a.Parent {
		if getAttr(a, IDAttr) != "" {
			return ErrWrapRejected
		}
	}
	if r.Find(id) != nil {
		return ErrWrapRejected
	}

	before := string(runes[:rng.Start])
	quote := string(runes[rng.Start:rng.End])
	after := string(runes[rng.End:])

	markEl := &html.Node{
		Type:     html.ElementNode,
		Data:     Tag,
		DataAtom: atom.Mark,
		Attr: []html.Attribute{
			{Key: IDAttr, Val: id},
			{Key: ColorAttr, Val: color},
		},
	}
	markEl.AppendChild(&html.Node{Type: html.TextNode, Data: quote})

	if before != "" {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: before}, txt)
	}
	parent.InsertBefore(markEl, txt)
	if after != "" {
		txt.Data = after
	} else {
		parent.RemoveChild(txt)
	}
	return nil
}

// Unwrap removes the mark for id, splicing its children back into the
// parent in place and merging the resulting adjacent text runs so
// repeated wrap/unwrap cycles do not fragment the tree. Returns false
// when no live mark exists (idempotent no-op).
func (r *Renderer) Unwrap(id string) bool {
	el := r.Find(id)
	if el == nil || el.Parent == nil {
		return false
	}
	parent := el.Parent
	for el.FirstChild != nil {
		c := el.FirstChild
		el.RemoveChild(c)
		parent.InsertBefore(c, el)
	}
	parent.RemoveChild(el)
	mergeTextRuns(parent)
	return true
}

// Recolor updates only the color attribute in place; no re-resolve, no
// re-wrap. Returns false when no live mark exists.
func (r *Renderer) Recolor(id, color string) bool {
	el := r.Find(id)
	if el == nil {
		return false
	}
	setAttr(el, ColorAttr, color)
	return true
}

// Pulse flags the mark for a transient visual pulse. In a browser surface
// this is where scroll-into-view is issued; in the tree the attribute is
// all there is. Returns false when no live mark exists.
func (r *Renderer) Pulse(id string) bool {
	el := r.Find(id)
	if el == nil {
		return false
	}
	setAttr(el, PulseAttr, "1")
	return true
}

// Find returns the live mark element for id, or nil.
func (r *Renderer) Find(id string) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && getAttr(n, IDAttr) == id {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(r.doc)
	return found
}

// Has reports whether a live mark exists for id.
func (r *Renderer) Has(id string) bool {
	return r.Find(id) != nil
}

// mergeTextRuns joins adjacent text children of parent into single runs.
func mergeTextRuns(parent *html.Node) {
	c := parent.FirstChild
	for c != nil {
		next := c.NextSibling
		if c.Type == html.TextNode && next != nil && next.Type == html.TextNode {
			c.Data += next.Data
			parent.RemoveChild(next)
			continue
		}
		c = next
	}
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
