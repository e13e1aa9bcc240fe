package resolve

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/hazyhaar/dommark/anchor"
)

// contextProbe is how many runes of prefix tail / suffix head count as a
// partial context match in the fuzzy tier.
const contextProbe = 10

// Exact is tier 1: decode the structural path and verify the quote sits
// at the stored offsets of one of the decoded element's own text
// children. Mixed content splits an element's text across several direct
// text nodes, and the stored offsets are relative to whichever node held
// the selection, so each direct child is checked. Highest confidence,
// lowest cost, and deliberately strict otherwise — an off-by-a-few
// offset drift falls through to the subtree scan instead of nudging.
type Exact struct{}

func (Exact) Name() string { return "exact" }

func (Exact) TryResolve(a *anchor.Anchor, doc *html.Node) (Range, bool) {
	el := a.Path.Resolve(doc)
	if el == nil {
		return Range{}, false
	}
	for txt := el.FirstChild; txt != nil; txt = txt.NextSibling {
		if txt.Type != html.TextNode {
			continue
		}
		runes := []rune(txt.Data)
		if a.Start < 0 || a.End > len(runes) || a.Start >= a.End {
			continue
		}
		if string(runes[a.Start:a.End]) == a.Quote {
			return Range{Node: txt, Start: a.Start, End: a.End}, true
		}
	}
	return Range{}, false
}

// Subtree is tier 2: the structural path still decodes but the offset
// check failed (text shifted within the subtree, e.g. a sibling
// insertion). Scan the decoded node's text descendants in document order
// and take the first occurrence of the quote. Local edits are tolerated
// without losing locality.
type Subtree struct{}

func (Subtree) Name() string { return "subtree" }

func (Subtree) TryResolve(a *anchor.Anchor, doc *html.Node) (Range, bool) {
	el := a.Path.Resolve(doc)
	if el == nil {
		return Range{}, false
	}
	var found Range
	ok := false
	walkText(el, func(txt *html.Node) bool {
		if i := strings.Index(txt.Data, a.Quote); i >= 0 {
			start := runeOffset(txt.Data, i)
			found = Range{Node: txt, Start: start, End: start + utf8.RuneCountInString(a.Quote)}
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// Fuzzy is tier 3: the structural path is fully stale. Scan every text
// node in document order, score each occurrence of the quote by how well
// its surroundings match the stored prefix/suffix, and keep the best.
// Ties break toward the first occurrence in document order. O(document ×
// occurrences) — acceptable, it runs once per anchor per load.
type Fuzzy struct{}

func (Fuzzy) Name() string { return "fuzzy" }

func (Fuzzy) TryResolve(a *anchor.Anchor, doc *html.Node) (Range, bool) {
	if a.Quote == "" {
		return Range{}, false
	}
	var best Range
	bestScore := 0
	walkText(doc, func(txt *html.Node) bool {
		data := txt.Data
		for off := 0; ; {
			i := strings.Index(data[off:], a.Quote)
			if i < 0 {
				break
			}
			byteStart := off + i
			byteEnd := byteStart + len(a.Quote)
			score := scoreOccurrence(data, byteStart, byteEnd, a.Prefix, a.Suffix)
			// Strictly greater keeps the first-in-document-order winner
			// on ties.
			if score > bestScore {
				start := runeOffset(data, byteStart)
				best = Range{Node: txt, Start: start, End: start + utf8.RuneCountInString(a.Quote)}
				bestScore = score
			}
			off = byteStart + 1
		}
		return true
	})
	return best, bestScore > 0
}

// scoreOccurrence computes the context score for one occurrence of the
// quote at data[byteStart:byteEnd]: base 1 for the substring match, +2
// for an exact prefix match immediately before (+1 for containing the
// prefix tail), and symmetrically for the suffix.
func scoreOccurrence(data string, byteStart, byteEnd int, prefix, suffix string) int {
	score := 1
	before := data[:byteStart]
	after := data[byteEnd:]
	if prefix != "" {
		if strings.HasSuffix(before, prefix) {
			score += 2
		} else if tail := runeTail(prefix, contextProbe); strings.Contains(before, tail) {
			score++
		}
	}
	if suffix != "" {
		if strings.HasPrefix(after, suffix) {
			score += 2
		} else if head := runeHead(suffix, contextProbe); strings.Contains(after, head) {
			score++
		}
	}
	return score
}

// runeTail returns the last n runes of s.
func runeTail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

// runeHead returns the first n runes of s.
func runeHead(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
