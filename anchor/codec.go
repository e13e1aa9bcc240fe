package anchor

import (
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/dommark/idgen"
)

// NewID generates anchor identifiers: "hl_" + UUIDv7.
var NewID = idgen.Prefixed("hl_", idgen.Default)

// Selection describes a live selection inside a parsed document. Start and
// End are rune offsets into the text node's data. StartNode and EndNode
// are both carried so that multi-node selections can be rejected instead
// of silently truncated.
type Selection struct {
	StartNode *html.Node
	EndNode   *html.Node
	Start     int
	End       int
}

type encodeConfig struct {
	contextLen int
	color      string
	tags       []string
	note       string
	newID      idgen.Generator
	now        func() time.Time
}

// Option configures Encode.
type Option func(*encodeConfig)

// WithContextLen overrides the prefix/suffix capture length (runes).
func WithContextLen(n int) Option {
	return func(c *encodeConfig) {
		if n > 0 {
			c.contextLen = n
		}
	}
}

// WithColor sets the highlight color. Unknown colors fall back to the
// default palette entry.
func WithColor(color string) Option {
	return func(c *encodeConfig) {
		if ValidColor(color) {
			c.color = color
		}
	}
}

// WithNote attaches an initial note.
func WithNote(note string) Option {
	return func(c *encodeConfig) { c.note = note }
}

// WithTags attaches initial tags (normalized).
func WithTags(tags []string) Option {
	return func(c *encodeConfig) { c.tags = NormalizeTags(tags) }
}

// WithIDGenerator sets a custom ID generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(c *encodeConfig) { c.newID = gen }
}

// WithClock sets the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(c *encodeConfig) { c.now = now }
}

// Encode converts a live selection into a durable Anchor.
//
// The selection must begin and end within the same text node and resolve
// to a non-empty trimmed string; violations surface as ErrMultiNode,
// ErrNotTextNode or ErrEmptySelection. Prefix and suffix context is
// clamped to the owning text node's boundaries — no cross-node capture.
func Encode(sel Selection, opts ...Option) (*Anchor, error) {
	cfg := encodeConfig{
		contextLen: DefaultContextLen,
		color:      DefaultColor,
		newID:      NewID,
		now:        time.Now,
	}
	for _, o := range opts {
		o(&cfg)
	}

	if sel.StartNode == nil || sel.EndNode == nil {
		return nil, ErrNotTextNode
	}
	if sel.StartNode != sel.EndNode {
		return nil, ErrMultiNode
	}
	node := sel.StartNode
	if node.Type != html.TextNode {
		return nil, ErrNotTextNode
	}

	runes := []rune(node.Data)
	if sel.Start < 0 || sel.End > len(runes) || sel.Start >= sel.End {
		return nil, ErrEmptySelection
	}
	quote := string(runes[sel.Start:sel.End])
	if strings.TrimSpace(quote) == "" {
		return nil, ErrEmptySelection
	}

	if node.Parent == nil || node.Parent.Type != html.ElementNode {
		return nil, ErrNotTextNode
	}
	path, err := PathFromNode(node.Parent)
	if err != nil {
		return nil, err
	}

	preStart := sel.Start - cfg.contextLen
	if preStart < 0 {
		preStart = 0
	}
	sufEnd := sel.End + cfg.contextLen
	if sufEnd > len(runes) {
		sufEnd = len(runes)
	}

	return &Anchor{
		ID:        cfg.newID(),
		Quote:     quote,
		Path:      path,
		Start:     sel.Start,
		End:       sel.End,
		Prefix:    string(runes[preStart:sel.Start]),
		Suffix:    string(runes[sel.End:sufEnd]),
		Color:     cfg.color,
		Note:      cfg.note,
		Tags:      cfg.tags,
		CreatedAt: cfg.now().UnixMilli(),
	}, nil
}
