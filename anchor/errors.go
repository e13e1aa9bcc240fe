package anchor

import "errors"

// ErrEmptySelection is returned when the selection does not resolve to a
// non-empty trimmed string.
var ErrEmptySelection = errors.New("anchor: selection is empty")

// ErrMultiNode is returned when the selection starts and ends in different
// text nodes. Multi-node selections are out of scope, not silently merged.
var ErrMultiNode = errors.New("anchor: selection spans multiple text nodes")

// ErrNotTextNode is returned when the selection does not resolve to a text
// node.
var ErrNotTextNode = errors.New("anchor: selection does not resolve to a text node")

// ErrPathFailed is returned when the structural path of the owning node
// cannot be computed, e.g. for a node detached from its document.
var ErrPathFailed = errors.New("anchor: structural path could not be computed")
