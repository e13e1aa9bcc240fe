package resolve

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/hazyhaar/dommark/anchor"
)

func parseDoc(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func findText(t *testing.T, doc *html.Node, substr string) *html.Node {
	t.Helper()
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.TextNode && strings.Contains(n.Data, substr) {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if found == nil {
		t.Fatalf("no text node containing %q", substr)
	}
	return found
}

// encodeOn builds an anchor for the first occurrence of quote inside the
// text node containing it.
func encodeOn(t *testing.T, doc *html.Node, quote string) *anchor.Anchor {
	t.Helper()
	txt := findText(t, doc, quote)
	start := strings.Index(txt.Data, quote) // ASCII in these fixtures
	a, err := anchor.Encode(anchor.Selection{
		StartNode: txt, EndNode: txt,
		Start: start, End: start + len(quote),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return a
}

func TestResolveTierExactOnUnmodifiedDocument(t *testing.T) {
	doc := parseDoc(t, `<html><body><div><p>alpha</p><p>the target phrase lives here</p></div></body></html>`)
	a := encodeOn(t, doc, "target phrase")

	rng, tier, err := New().Resolve(a, doc)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tier != TierExact {
		t.Errorf("tier: got %s, want exact", tier)
	}
	if got := rng.Text(); got != a.Quote {
		t.Errorf("text: got %q, want %q", got, a.Quote)
	}
}

func TestResolveTierExactAfterInlineMarkup(t *testing.T) {
	// Inline markup splits the paragraph's text across several direct
	// text children; a highlight on the trailing one must still resolve
	// exactly when nothing has changed.
	doc := parseDoc(t, `<html><body><p>alpha <b>bold run</b>target words here</p></body></html>`)
	a := encodeOn(t, doc, "target words")

	rng, tier, err := New().Resolve(a, doc)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tier != TierExact {
		t.Errorf("tier: got %s, want exact", tier)
	}
	if got := rng.Text(); got != a.Quote {
		t.Errorf("text: got %q, want %q", got, a.Quote)
	}
	if !strings.HasPrefix(rng.Node.Data, "target") {
		t.Errorf("resolved into the wrong text node: %q", rng.Node.Data)
	}
}

func TestResolveTierSubtreeOnShiftedOffsets(t *testing.T) {
	doc := parseDoc(t, `<html><body><div><p>the target phrase lives here</p></div></body></html>`)
	a := encodeOn(t, doc, "target phrase")

	// An edit before the highlight shifts the offsets; the path still
	// decodes to the same paragraph.
	txt := findText(t, doc, "target phrase")
	txt.Data = "EDIT " + txt.Data

	rng, tier, err := New().Resolve(a, doc)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tier != TierSubtree {
		t.Errorf("tier: got %s, want subtree", tier)
	}
	if got := rng.Text(); got != a.Quote {
		t.Errorf("text: got %q, want %q", got, a.Quote)
	}
	if rng.Start != 5+4 {
		t.Errorf("start: got %d, want %d", rng.Start, 9)
	}
}

func TestResolveTierSubtreeQuoteMovedToDescendant(t *testing.T) {
	doc := parseDoc(t, `<html><body><div><p>the target phrase lives here</p></div></body></html>`)
	a := encodeOn(t, doc, "target phrase")

	// Re-render wrapped the quote in inline markup: the paragraph's first
	// text child no longer carries it, a descendant does.
	reloaded := parseDoc(t, `<html><body><div><p>the <em>target phrase</em> lives here</p></div></body></html>`)

	rng, tier, err := New().Resolve(a, reloaded)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tier != TierSubtree {
		t.Errorf("tier: got %s, want subtree", tier)
	}
	if got := rng.Text(); got != a.Quote {
		t.Errorf("text: got %q, want %q", got, a.Quote)
	}
}

func TestResolveTierFuzzyWhenPathStale(t *testing.T) {
	doc := parseDoc(t, `<html><body><article><p>the target phrase lives here</p></article></body></html>`)
	a := encodeOn(t, doc, "target phrase")

	// Page re-rendered without the article wrapper: the path is fully
	// stale, but the quote survives.
	reloaded := parseDoc(t, `<html><body><section><div>the target phrase lives here</div></section></body></html>`)

	rng, tier, err := New().Resolve(a, reloaded)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tier != TierFuzzy {
		t.Errorf("tier: got %s, want fuzzy", tier)
	}
	if got := rng.Text(); got != a.Quote {
		t.Errorf("text: got %q, want %q", got, a.Quote)
	}
}

// The quote appears twice in one paragraph, the user
// highlighted the second occurrence, and a paragraph inserted before the
// text made the structural path stale. Only the second occurrence has
// suffix " jumps.", so fuzzy scoring must pick it over the first.
func TestResolveFuzzyPrefersContextMatch(t *testing.T) {
	doc := parseDoc(t, `<html><body><article><p>The quick brown fox. The quick brown fox jumps.</p></article></body></html>`)

	txt := findText(t, doc, "quick")
	second := strings.LastIndex(txt.Data, "quick brown fox")
	a, err := anchor.Encode(anchor.Selection{
		StartNode: txt, EndNode: txt,
		Start: second, End: second + len("quick brown fox"),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if a.Suffix != " jumps." {
		t.Fatalf("fixture: suffix got %q", a.Suffix)
	}

	reloaded := parseDoc(t, `<html><body><p>An inserted paragraph.</p><p>The quick brown fox. The quick brown fox jumps.</p></body></html>`)

	rng, tier, err := New().Resolve(a, reloaded)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tier != TierFuzzy {
		t.Errorf("tier: got %s, want fuzzy", tier)
	}
	wantStart := strings.LastIndex(rng.Node.Data, "quick brown fox")
	if rng.Start != wantStart {
		t.Errorf("picked occurrence at %d, want second occurrence at %d", rng.Start, wantStart)
	}
}

func TestResolveFuzzyExactContextBeatsDocumentOrder(t *testing.T) {
	// First occurrence has no matching context; the later one matches
	// prefix and suffix exactly. The later one must win.
	a := &anchor.Anchor{
		ID:     "hl_t",
		Quote:  "needle",
		Path:   mustPath(t, "/html/body/article/p"),
		Start:  0,
		End:    6,
		Prefix: "left ",
		Suffix: " right",
	}
	doc := parseDoc(t, `<html><body>
		<p>unrelated needle unrelated</p>
		<p>left needle right</p>
	</body></html>`)

	rng, tier, err := New().Resolve(a, doc)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tier != TierFuzzy {
		t.Errorf("tier: got %s, want fuzzy", tier)
	}
	if !strings.Contains(rng.Node.Data, "left needle right") {
		t.Errorf("picked the wrong occurrence: node text %q", rng.Node.Data)
	}
}

func TestResolveFuzzyTieBreaksToFirst(t *testing.T) {
	a := &anchor.Anchor{
		ID:    "hl_t",
		Quote: "needle",
		Path:  mustPath(t, "/html/body/article/p"),
		End:   6,
	}
	doc := parseDoc(t, `<html><body><p>a needle</p><p>b needle</p></body></html>`)

	rng, _, err := New().Resolve(a, doc)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(rng.Node.Data, "a needle") {
		t.Errorf("tie should break to first in document order, got node %q", rng.Node.Data)
	}
}

func TestResolveFuzzyPartialContextScoring(t *testing.T) {
	// Neither occurrence matches the full prefix, but the second contains
	// the 10-rune prefix tail, so it scores higher.
	a := &anchor.Anchor{
		ID:     "hl_t",
		Quote:  "needle",
		Path:   mustPath(t, "/html/body/article/p"),
		End:    6,
		Prefix: "a very long stored prefix tail",
	}
	doc := parseDoc(t, `<html><body><p>nothing needle</p><p>xxprefix tail needle</p></body></html>`)

	rng, _, err := New().Resolve(a, doc)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(rng.Node.Data, "xxprefix") {
		t.Errorf("partial prefix match should win, got node %q", rng.Node.Data)
	}
}

func TestResolveNotFound(t *testing.T) {
	a := &anchor.Anchor{
		ID:    "hl_t",
		Quote: "completely absent phrase",
		Path:  mustPath(t, "/html/body/p"),
		End:   24,
	}
	doc := parseDoc(t, `<html><body><p>something else entirely</p></body></html>`)

	_, tier, err := New().Resolve(a, doc)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if tier != TierNone {
		t.Errorf("tier: got %s, want none", tier)
	}
}

func TestResolveSkipsScriptAndStyle(t *testing.T) {
	a := &anchor.Anchor{
		ID:    "hl_t",
		Quote: "needle",
		Path:  mustPath(t, "/html/body/article/p"),
		End:   6,
	}
	doc := parseDoc(t, `<html><head><script>var x = "needle";</script></head><body><p>real needle</p></body></html>`)

	rng, _, err := New().Resolve(a, doc)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(rng.Node.Data, "real needle") {
		t.Errorf("matched inside script, node %q", rng.Node.Data)
	}
}

func TestResolverCustomStrategyList(t *testing.T) {
	doc := parseDoc(t, `<html><body><p>the target phrase lives here</p></body></html>`)
	a := encodeOn(t, doc, "target phrase")

	// Only the exact tier: stale offsets must fail instead of falling
	// through.
	r := NewWith(Exact{})
	txt := findText(t, doc, "target phrase")
	txt.Data = "EDIT " + txt.Data
	if _, _, err := r.Resolve(a, doc); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func mustPath(t *testing.T, s string) anchor.Path {
	t.Helper()
	p, err := anchor.ParsePath(s)
	if err != nil {
		t.Fatalf("parse path: %v", err)
	}
	return p
}
