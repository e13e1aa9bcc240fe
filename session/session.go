// Package session owns the live-document side of the engine: one parsed
// document, its rendered marks, and the transient per-load cache of
// display metadata.
//
// A session runs as a single logical flow — restoration, wrapping and
// cache updates never overlap — so no locking is needed. The only care
// required is liveness: responses from the persistence collaborator can
// arrive after the document is gone, and every mutation entry point
// checks Close first.
package session

import (
	"context"
	"log/slog"

	"golang.org/x/net/html"

	"github.com/hazyhaar/dommark/anchor"
	"github.com/hazyhaar/dommark/mark"
	"github.com/hazyhaar/dommark/resolve"
	"github.com/hazyhaar/dommark/store"
)

// Store is the persistence contract the session consumes. Implementations
// must return an empty record, not an error, when the page has never been
// seen; errors are treated as "no anchors this load".
type Store interface {
	LoadPage(ctx context.Context, pageID string) (*store.PageRecord, error)
}

// State tracks one anchor id through a document session.
type State int

const (
	// Unrendered: no live mark (initial, or after unwrap).
	Unrendered State = iota
	// Rendered: a live mark exists.
	Rendered
	// NotFound: restoration failed this load; terminal until the next
	// load retries.
	NotFound
)

func (s State) String() string {
	switch s {
	case Rendered:
		return "rendered"
	case NotFound:
		return "not_found"
	default:
		return "unrendered"
	}
}

// Entry is the cached display metadata for one anchor, kept so
// interactive affordances avoid a round-trip to the store.
type Entry struct {
	Quote string
	Color string
	Note  string
	Tags  []string
}

// RestoreStats summarizes one restoration pass.
type RestoreStats struct {
	Rendered int
	NotFound int
	Rejected int
}

// Session is the per-document engine state.
type Session struct {
	pageID   string
	doc      *html.Node
	store    Store
	resolver *resolve.Resolver
	renderer *mark.Renderer
	logger   *slog.Logger

	closed bool
	states map[string]State
	cache  map[string]Entry
}

// Option configures a Session.
type Option func(*Session)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithResolver overrides the standard three-tier resolver.
func WithResolver(r *resolve.Resolver) Option {
	return func(s *Session) { s.resolver = r }
}

// New creates a session over a parsed document.
func New(pageID string, doc *html.Node, st Store, opts ...Option) *Session {
	s := &Session{
		pageID:   pageID,
		doc:      doc,
		store:    st,
		resolver: resolve.New(),
		renderer: mark.NewRenderer(doc),
		logger:   slog.Default(),
		states:   make(map[string]State),
		cache:    make(map[string]Entry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PageID returns the normalized document identity.
func (s *Session) PageID() string { return s.pageID }

// Doc returns the live document tree.
func (s *Session) Doc() *html.Node { return s.doc }

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool { return s.closed }

// Close discards the session cache and blocks further mutations. Late
// store responses applied after Close are silently dropped.
func (s *Session) Close() {
	s.closed = true
	s.cache = make(map[string]Entry)
}

// Restore loads every anchor for the page and paints the ones that still
// resolve, in stored insertion order so repeated loads layer identically
// when marks overlap structurally. Store errors degrade to an empty
// record — the page simply shows no highlights this load.
func (s *Session) Restore(ctx context.Context) RestoreStats {
	var stats RestoreStats
	rec, err := s.store.LoadPage(ctx, s.pageID)
	if err != nil {
		s.logger.Warn("session: load degraded to empty", "page", s.pageID, "error", err)
		return stats
	}
	// The load suspends; the document may be gone by the time it returns.
	if s.closed || ctx.Err() != nil {
		return stats
	}
	for i := range rec.Anchors {
		s.restoreOne(&rec.Anchors[i], &stats)
	}
	s.logger.Info("session: restore complete", "page", s.pageID,
		"rendered", stats.Rendered, "not_found", stats.NotFound, "rejected", stats.Rejected)
	return stats
}

func (s *Session) restoreOne(a *anchor.Anchor, stats *RestoreStats) {
	rng, tier, err := s.resolver.Resolve(a, s.doc)
	if err != nil {
		s.states[a.ID] = NotFound
		stats.NotFound++
		s.logger.Debug("session: anchor not found", "anchor", a.ID, "quote", a.Quote)
		return
	}
	if err := s.renderer.Wrap(rng, a.ID, a.Color); err != nil {
		// Resolvable but unwrappable — logged apart from not-found for
		// diagnosis.
		s.states[a.ID] = NotFound
		stats.Rejected++
		s.logger.Warn("session: wrap rejected", "anchor", a.ID, "tier", tier.String(), "error", err)
		return
	}
	s.states[a.ID] = Rendered
	s.cache[a.ID] = entryFor(a)
	stats.Rendered++
	s.logger.Debug("session: anchor rendered", "anchor", a.ID, "tier", tier.String())
}

// Render paints a freshly created anchor at an already-known range,
// bypassing resolution. Used on the annotate path where the selection is
// still live.
func (s *Session) Render(a *anchor.Anchor, rng resolve.Range) error {
	if s.closed {
		return mark.ErrWrapRejected
	}
	if err := s.renderer.Wrap(rng, a.ID, a.Color); err != nil {
		s.states[a.ID] = NotFound
		return err
	}
	s.states[a.ID] = Rendered
	s.cache[a.ID] = entryFor(a)
	return nil
}

// State returns the session state for an anchor id.
func (s *Session) State(id string) State {
	return s.states[id]
}

// Lookup returns the cached display metadata for an anchor id.
func (s *Session) Lookup(id string) (Entry, bool) {
	e, ok := s.cache[id]
	return e, ok
}

// Entries returns a copy of the session cache.
func (s *Session) Entries() map[string]Entry {
	out := make(map[string]Entry, len(s.cache))
	for k, v := range s.cache {
		out[k] = v
	}
	return out
}

// Recolor updates a rendered mark's color and the cache entry. Returns
// false when the mark is not live.
func (s *Session) Recolor(id, color string) bool {
	if s.closed || !s.renderer.Recolor(id, color) {
		return false
	}
	if e, ok := s.cache[id]; ok {
		e.Color = color
		s.cache[id] = e
	}
	return true
}

// Pulse brings a rendered mark to the user's attention. Returns false
// when the mark is not live.
func (s *Session) Pulse(id string) bool {
	if s.closed {
		return false
	}
	return s.renderer.Pulse(id)
}

// Remove unwraps a rendered mark and drops its cache entry. Returns false
// when no live mark exists; the cache entry survives then, since the
// anchor itself is still persisted.
func (s *Session) Remove(id string) bool {
	if s.closed {
		return false
	}
	ok := s.renderer.Unwrap(id)
	if ok {
		s.states[id] = Unrendered
		delete(s.cache, id)
	}
	return ok
}

// ApplyUpdate handles a push notification for a mutated anchor: refresh
// the cache entry and recolor the live mark if any. No-op after Close.
func (s *Session) ApplyUpdate(a *anchor.Anchor) {
	if s.closed {
		return
	}
	s.cache[a.ID] = entryFor(a)
	if s.states[a.ID] == Rendered {
		s.renderer.Recolor(a.ID, a.Color)
	}
}

// ApplyDelete handles a push notification for a removed anchor: unwrap
// any live mark, then forget the id entirely — here the anchor is gone
// from the store, so cache and state go with it even when no mark was
// live. No-op after Close.
func (s *Session) ApplyDelete(id string) {
	if s.closed {
		return
	}
	s.Remove(id)
	delete(s.states, id)
	delete(s.cache, id)
}

func entryFor(a *anchor.Anchor) Entry {
	return Entry{Quote: a.Quote, Color: a.Color, Note: a.Note, Tags: a.Tags}
}
