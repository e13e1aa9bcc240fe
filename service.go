// Package dommark is a durable highlight engine for uncontrolled HTML
// documents. Anchors capture a selection as a quote, a structural path
// and surrounding context; restoration re-finds them after the page has
// been redesigned underneath.
package dommark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/dommark/anchor"
	"github.com/hazyhaar/dommark/fetch"
	"github.com/hazyhaar/dommark/pageid"
	"github.com/hazyhaar/dommark/repair"
	"github.com/hazyhaar/dommark/resolve"
	"github.com/hazyhaar/dommark/session"
	"github.com/hazyhaar/dommark/store"
	"github.com/hazyhaar/dommark/watch"
)

// ErrNotPersisted is returned by Annotate when the highlight was painted
// but could not be saved. The mark is live for this page load only.
var ErrNotPersisted = errors.New("dommark: anchor rendered but did not persist")

// Service owns the store, the watcher and the fetchers, and tracks the
// document sessions currently open against it.
type Service struct {
	cfg    *Config
	logger *slog.Logger

	Store    *store.Store
	fetcher  *fetch.Fetcher
	renderer *fetch.Renderer
	watcher  *watch.Watcher
	sweeper  *repair.Sweeper

	mu       sync.Mutex
	sessions map[string]*session.Session
	titles   map[string]string
}

// NewService opens the database and wires the collaborators.
func NewService(cfg *Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("dommark: open store: %w", err)
	}

	fetcher := fetch.New(fetch.Config{
		Timeout:   cfg.FetchTimeout(),
		MaxBytes:  cfg.Fetch.MaxBytes,
		UserAgent: cfg.Fetch.UserAgent,
	})

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		Store:    st,
		fetcher:  fetcher,
		watcher:  watch.New(st.DB, watch.Options{Interval: cfg.WatchInterval(), Debounce: cfg.WatchDebounce(), Logger: logger}),
		sessions: make(map[string]*session.Session),
		titles:   make(map[string]string),
	}
	s.sweeper = repair.NewSweeper(st, fetcher, repair.Options{
		Concurrency: cfg.Repair.Concurrency,
		Interval:    cfg.RepairInterval(),
		Logger:      logger,
	})
	if cfg.Fetch.UseBrowser || cfg.Fetch.BrowserWSURL != "" {
		s.renderer = fetch.NewRenderer(fetch.RendererConfig{RemoteURL: cfg.Fetch.BrowserWSURL})
	}
	return s, nil
}

// Close tears down every open session and the store.
func (s *Service) Close() error {
	s.mu.Lock()
	for id, sess := range s.sessions {
		sess.Close()
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if s.renderer != nil {
		s.renderer.Close()
	}
	return s.Store.Close()
}

// Run blocks, forwarding out-of-band store writes into live sessions
// until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.watcher.OnChange(ctx, func() error {
		return s.SyncSessions(ctx)
	})
}

// OpenSession parses a document, restores its stored anchors, and
// registers the session for push updates. When body is nil the document
// is fetched: through the browser when one is configured, plain HTTP
// otherwise. Reopening a page closes the previous session first.
func (s *Service) OpenSession(ctx context.Context, pageURL string, body []byte) (*session.Session, session.RestoreStats, error) {
	id, err := pageid.Normalize(pageURL)
	if err != nil {
		return nil, session.RestoreStats{}, err
	}

	var doc *fetch.Document
	if body != nil {
		doc, err = fetch.ParseDocument(pageURL, body, 200)
	} else if s.renderer != nil {
		doc, err = s.renderer.FetchRendered(ctx, pageURL)
	} else {
		doc, err = s.fetcher.Fetch(ctx, pageURL)
	}
	if err != nil {
		return nil, session.RestoreStats{}, err
	}

	sess := session.New(id, doc.Root, s.Store, session.WithLogger(s.logger))
	stats := sess.Restore(ctx)

	s.mu.Lock()
	if prev, ok := s.sessions[id]; ok {
		prev.Close()
	}
	s.sessions[id] = sess
	s.titles[id] = doc.Title
	s.mu.Unlock()

	return sess, stats, nil
}

// CloseSession tears down the session for a page id.
func (s *Service) CloseSession(pageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[pageID]; ok {
		sess.Close()
		delete(s.sessions, pageID)
		delete(s.titles, pageID)
	}
}

// Session returns the open session for a page id.
func (s *Service) Session(pageID string) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[pageID]
	return sess, ok
}

// Annotate mints an anchor from a live selection, paints it, and saves
// it. The mark is painted before the save so the user sees feedback
// immediately; when the save fails the mark stays up for this load and
// ErrNotPersisted is returned alongside the anchor.
func (s *Service) Annotate(ctx context.Context, sess *session.Session, sel anchor.Selection, opts ...anchor.Option) (*anchor.Anchor, error) {
	defaults := []anchor.Option{
		anchor.WithContextLen(s.cfg.ContextLen),
		anchor.WithColor(s.cfg.DefaultColor),
	}
	a, err := anchor.Encode(sel, append(defaults, opts...)...)
	if err != nil {
		return nil, err
	}

	rng := resolve.Range{Node: sel.StartNode, Start: sel.Start, End: sel.End}
	if err := sess.Render(a, rng); err != nil {
		return nil, err
	}

	s.mu.Lock()
	title := s.titles[sess.PageID()]
	s.mu.Unlock()

	if err := s.Store.SaveAnchor(ctx, sess.PageID(), title, a); err != nil {
		s.logger.Warn("dommark: save failed after render", "anchor", a.ID, "error", err)
		return a, fmt.Errorf("%w: %v", ErrNotPersisted, err)
	}
	return a, nil
}

// UpdateAnchor patches an anchor's mutable fields and pushes the change
// into the page's live session, if any.
func (s *Service) UpdateAnchor(ctx context.Context, id string, p store.Patch) (*anchor.Anchor, error) {
	_, pageID, err := s.Store.GetAnchor(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Store.UpdateAnchor(ctx, pageID, id, p); err != nil {
		return nil, err
	}
	a, _, err := s.Store.GetAnchor(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess, ok := s.Session(pageID); ok {
		sess.ApplyUpdate(a)
	}
	return a, nil
}

// DeleteAnchor removes an anchor and unwraps its live mark, if any.
func (s *Service) DeleteAnchor(ctx context.Context, id string) error {
	_, pageID, err := s.Store.GetAnchor(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteAnchor(ctx, pageID, id); err != nil {
		return err
	}
	if sess, ok := s.Session(pageID); ok {
		sess.ApplyDelete(id)
	}
	return nil
}

// SyncSessions reconciles every open session with the store after an
// out-of-band write: changed anchors are pushed as updates, vanished
// ones as deletes. Anchors created elsewhere paint on the next load —
// resolving them mid-session would reflow text under the user.
func (s *Service) SyncSessions(ctx context.Context) error {
	s.mu.Lock()
	open := make(map[string]*session.Session, len(s.sessions))
	for id, sess := range s.sessions {
		open[id] = sess
	}
	s.mu.Unlock()

	for pageID, sess := range open {
		rec, err := s.Store.LoadPage(ctx, pageID)
		if err != nil {
			return fmt.Errorf("dommark: sync %s: %w", pageID, err)
		}
		known := make(map[string]*anchor.Anchor, len(rec.Anchors))
		for i := range rec.Anchors {
			known[rec.Anchors[i].ID] = &rec.Anchors[i]
		}
		for id, entry := range sess.Entries() {
			a, ok := known[id]
			if !ok {
				sess.ApplyDelete(id)
				continue
			}
			if entry.Color != a.Color || entry.Note != a.Note || !equalTags(entry.Tags, a.Tags) {
				sess.ApplyUpdate(a)
			}
		}
	}
	return nil
}

// Export dumps the full store as a snapshot.
func (s *Service) Export(ctx context.Context) (*store.Snapshot, error) {
	return s.Store.Export(ctx)
}

// Import union-merges a snapshot into the store and syncs live sessions.
func (s *Service) Import(ctx context.Context, snap *store.Snapshot) (store.ImportStats, error) {
	stats, err := s.Store.Import(ctx, snap)
	if err != nil {
		return stats, err
	}
	if err := s.SyncSessions(ctx); err != nil {
		s.logger.Warn("dommark: post-import sync failed", "error", err)
	}
	return stats, nil
}

// Sweep runs one drift audit across all stored pages.
func (s *Service) Sweep(ctx context.Context) (*repair.Report, error) {
	return s.sweeper.SweepOnce(ctx)
}

// WatchStats exposes the watcher counters.
func (s *Service) WatchStats() watch.Stats {
	return s.watcher.Stats()
}

func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
