// Package resolve re-finds anchored text in a possibly-mutated document.
//
// Resolution runs an ordered list of strategies, from most precise / most
// likely stale to least precise / most robust:
//
//  1. exact:   structural path resolves and the quote sits at the stored
//              offsets of the decoded node's text.
//  2. subtree: structural path resolves but the offsets are stale — scan
//              the decoded node's descendants for the quote.
//  3. fuzzy:   structural path is stale — scan every text node in the
//              document and pick the occurrence with the best
//              prefix/suffix context score.
//
// Resolution is a pure query: it never mutates the document or the anchor.
package resolve

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/hazyhaar/dommark/anchor"
)

// ErrNotFound is returned when no strategy can locate the anchored text.
// The anchor stays in storage untouched and is retried on the next load.
var ErrNotFound = errors.New("resolve: anchor not found in document")

// Range is a resolved live text span: a text node plus rune offsets into
// its data.
type Range struct {
	Node  *html.Node
	Start int
	End   int
}

// Text returns the spanned text.
func (r Range) Text() string {
	runes := []rune(r.Node.Data)
	if r.Start < 0 || r.End > len(runes) || r.Start > r.End {
		return ""
	}
	return string(runes[r.Start:r.End])
}

// Tier identifies which strategy produced a resolution.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierSubtree
	TierFuzzy
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierSubtree:
		return "subtree"
	case TierFuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}

// Strategy is one fallback tier. Implementations must not mutate the
// document or the anchor.
type Strategy interface {
	Name() string
	TryResolve(a *anchor.Anchor, doc *html.Node) (Range, bool)
}

// Resolver runs strategies in order; the first success wins.
type Resolver struct {
	tiers []Strategy
}

// New returns a Resolver with the standard tier order.
func New() *Resolver {
	return &Resolver{tiers: []Strategy{Exact{}, Subtree{}, Fuzzy{}}}
}

// NewWith builds a Resolver from a custom strategy list, mainly for tests
// that exercise a single tier in isolation.
func NewWith(tiers ...Strategy) *Resolver {
	return &Resolver{tiers: tiers}
}

// Resolve returns the best-matching live range for the anchor, along with
// the tier (1-based position in the strategy list) that found it.
func (r *Resolver) Resolve(a *anchor.Anchor, doc *html.Node) (Range, Tier, error) {
	for i, s := range r.tiers {
		if rng, ok := s.TryResolve(a, doc); ok {
			return rng, Tier(i + 1), nil
		}
	}
	return Range{}, TierNone, ErrNotFound
}

// walkText visits every text-bearing node under root in document order,
// skipping script/style/noscript content. The visitor returns false to
// stop the walk.
func walkText(root *html.Node, visit func(*html.Node) bool) {
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return true
			}
		}
		if n.Type == html.TextNode {
			return visit(n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(root)
}

// runeOffset converts a byte offset into data to a rune offset.
func runeOffset(data string, byteOff int) int {
	return utf8.RuneCountInString(data[:byteOff])
}
