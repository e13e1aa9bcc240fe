package anchor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Step is one segment of a structural path: a tag name plus a 1-based
// position among siblings sharing that tag. Index 0 means the element was
// the only one of its tag among its siblings at creation time and the
// position is implicit.
type Step struct {
	Tag   string
	Index int
}

// Path identifies an element by a tag+index walk from the document root,
// serialized in the form "/html/body/div[2]/p". Indexing only among
// same-tag siblings keeps the path stable when differently-tagged siblings
// are inserted around the target.
type Path []Step

// PathFromNode computes the structural path of an element by walking its
// ancestors up to the document root. Returns ErrPathFailed when n is not
// an element or is detached from a document.
func PathFromNode(n *html.Node) (Path, error) {
	if n == nil || n.Type != html.ElementNode {
		return nil, ErrPathFailed
	}
	var rev []Step
	cur := n
	for cur != nil && cur.Type == html.ElementNode {
		if cur.Parent == nil {
			return nil, ErrPathFailed
		}
		rev = append(rev, stepFor(cur))
		cur = cur.Parent
	}
	if cur == nil || cur.Type != html.DocumentNode {
		return nil, ErrPathFailed
	}
	p := make(Path, len(rev))
	for i, st := range rev {
		p[len(rev)-1-i] = st
	}
	return p, nil
}

// stepFor records n's tag and its 1-based position among same-tag
// siblings. The position is omitted (zero) when n is the only one.
func stepFor(n *html.Node) Step {
	pos, total := 0, 0
	for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode && s.Data == n.Data {
			total++
			if s == n {
				pos = total
			}
		}
	}
	if total <= 1 {
		return Step{Tag: n.Data}
	}
	return Step{Tag: n.Data, Index: pos}
}

// Resolve walks the path down from the document root. Returns nil when any
// step's tag or position no longer matches — callers must treat nil as
// "structural path stale", not as a fatal error.
func (p Path) Resolve(doc *html.Node) *html.Node {
	if doc == nil || len(p) == 0 {
		return nil
	}
	cur := doc
	for _, st := range p {
		want := st.Index
		if want == 0 {
			want = 1
		}
		var next *html.Node
		count := 0
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == st.Tag {
				count++
				if count == want {
					next = c
					break
				}
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// String serializes the path: "/html/body/div[2]/p".
func (p Path) String() string {
	var sb strings.Builder
	for _, st := range p {
		sb.WriteByte('/')
		sb.WriteString(st.Tag)
		if st.Index > 0 {
			sb.WriteByte('[')
			sb.WriteString(strconv.Itoa(st.Index))
			sb.WriteByte(']')
		}
	}
	return sb.String()
}

// ParsePath is the inverse of String.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "/") || s == "/" {
		return nil, fmt.Errorf("anchor: invalid path %q", s)
	}
	var p Path
	for _, seg := range strings.Split(s[1:], "/") {
		tag, idx := seg, 0
		if i := strings.IndexByte(seg, '['); i >= 0 {
			if !strings.HasSuffix(seg, "]") {
				return nil, fmt.Errorf("anchor: invalid path segment %q", seg)
			}
			n, err := strconv.Atoi(seg[i+1 : len(seg)-1])
			if err != nil || n < 1 {
				return nil, fmt.Errorf("anchor: invalid path segment %q", seg)
			}
			tag, idx = seg[:i], n
		}
		if tag == "" {
			return nil, fmt.Errorf("anchor: invalid path segment %q", seg)
		}
		p = append(p, Step{Tag: tag, Index: idx})
	}
	return p, nil
}

// MarshalJSON serializes the path as its string form.
func (p Path) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON parses the string form.
func (p *Path) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePath(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
