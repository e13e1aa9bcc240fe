// Package anchor converts live text selections into durable, serializable
// locators. An Anchor carries everything the resolver needs to re-find the
// selected span after the document has been re-rendered: a structural path
// to the owning node, rune offsets into that node, and a slice of
// surrounding context for fuzzy matching.
package anchor

import (
	"sort"
	"strings"
)

// DefaultContextLen is the number of runes of prefix/suffix context
// captured around the quote at creation time.
const DefaultContextLen = 30

// TagMarker prefixes every normalized tag token.
const TagMarker = "#"

// Colors is the fixed highlight palette.
var Colors = []string{"yellow", "green", "blue", "pink", "orange"}

// DefaultColor is used when no color is supplied at creation.
const DefaultColor = "yellow"

// ValidColor reports whether c is part of the palette.
func ValidColor(c string) bool {
	for _, v := range Colors {
		if v == c {
			return true
		}
	}
	return false
}

// Anchor is the durable locator for one highlighted span.
//
// Quote, Path, Start, End, Prefix, Suffix and CreatedAt are immutable once
// created; restoration never rewrites them. Color, Note and Tags are the
// mutable display fields.
//
// Invariant at creation: Quote equals the runes [Start, End) of the owning
// text node's data. The live document may drift away from this after a
// re-render, but the stored anchor keeps its original provenance.
type Anchor struct {
	ID        string   `json:"id"`
	Quote     string   `json:"quote"`
	Path      Path     `json:"path"`
	Start     int      `json:"start_offset"`
	End       int      `json:"end_offset"`
	Prefix    string   `json:"prefix,omitempty"`
	Suffix    string   `json:"suffix,omitempty"`
	Color     string   `json:"color"`
	Note      string   `json:"note,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt int64    `json:"created_at"`
}

// NormalizeTags canonicalizes a tag list: trims whitespace, lowercases,
// prefixes each token with TagMarker, drops empties and duplicates, and
// sorts for order-independent comparison.
func NormalizeTags(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, t := range raw {
		t = strings.TrimSpace(t)
		t = strings.TrimLeft(t, TagMarker)
		if t == "" {
			continue
		}
		t = TagMarker + strings.ToLower(t)
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
