// Package repair audits stored anchors against the live web. A sweep
// refetches each page, runs every anchor through the resolver, and
// classifies how far the document has drifted from what the anchor was
// minted against. Orphaned anchors are surfaced with their stored
// context so a human can relocate or retire them.
package repair

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/dommark/anchor"
	"github.com/hazyhaar/dommark/fetch"
	"github.com/hazyhaar/dommark/resolve"
	"github.com/hazyhaar/dommark/store"
)

// Health classifies one anchor after a sweep.
type Health string

const (
	// HealthExact: the structural locator still matches byte for byte.
	HealthExact Health = "exact"
	// HealthDrifted: the element survived but text shifted inside it.
	HealthDrifted Health = "drifted"
	// HealthFuzzy: only the document-wide scan found the quote; the
	// stored path is stale and the anchor should be re-minted.
	HealthFuzzy Health = "fuzzy"
	// HealthOrphan: the quote is gone from the document.
	HealthOrphan Health = "orphan"
)

// AnchorReport is the sweep outcome for one anchor.
type AnchorReport struct {
	AnchorID string `json:"anchor_id"`
	Quote    string `json:"quote"`
	Health   Health `json:"health"`
	// Snippet is the current surrounding content rendered as markdown.
	// For orphans it falls back to the stored prefix/suffix context.
	Snippet string `json:"snippet,omitempty"`
}

// PageReport is the sweep outcome for one page.
type PageReport struct {
	PageID  string         `json:"page_id"`
	Title   string         `json:"title"`
	Error   string         `json:"error,omitempty"`
	Anchors []AnchorReport `json:"anchors,omitempty"`
	Exact   int            `json:"exact"`
	Drifted int            `json:"drifted"`
	Fuzzy   int            `json:"fuzzy"`
	Orphans int            `json:"orphans"`
}

// Report is one full sweep.
type Report struct {
	GeneratedAt int64        `json:"generated_at"`
	Pages       []PageReport `json:"pages"`
}

// Fetcher is the document retrieval contract the sweeper consumes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Document, error)
}

// Options tunes the sweeper.
type Options struct {
	// Concurrency bounds parallel page fetches. Default: 4.
	Concurrency int
	// Interval between periodic sweeps. Default: 6h.
	Interval time.Duration
	// SnippetLimit caps markdown snippet length in runes. Default: 400.
	SnippetLimit int
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.Interval <= 0 {
		o.Interval = 6 * time.Hour
	}
	if o.SnippetLimit <= 0 {
		o.SnippetLimit = 400
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Sweeper audits anchors across all stored pages.
type Sweeper struct {
	store    *store.Store
	fetcher  Fetcher
	resolver *resolve.Resolver
	conv     *converter.Converter
	opts     Options
}

// NewSweeper creates a Sweeper.
func NewSweeper(st *store.Store, f Fetcher, opts Options) *Sweeper {
	opts.defaults()
	return &Sweeper{
		store:    st,
		fetcher:  f,
		resolver: resolve.New(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		opts: opts,
	}
}

// Run launches the periodic sweep. Blocks until ctx.Done().
func (sw *Sweeper) Run(ctx context.Context) {
	log := sw.opts.Logger
	log.Info("repair: sweeper started", "interval", sw.opts.Interval)
	ticker := time.NewTicker(sw.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("repair: sweeper stopped")
			return
		case <-ticker.C:
			rep, err := sw.SweepOnce(ctx)
			if err != nil {
				log.Warn("repair: sweep failed", "error", err)
				continue
			}
			var orphans int
			for _, p := range rep.Pages {
				orphans += p.Orphans
			}
			log.Info("repair: sweep done", "pages", len(rep.Pages), "orphans", orphans)
		}
	}
}

// SweepOnce audits every stored page, fetching them concurrently.
// Synthetic page identities (file paths, custom schemes) are skipped:
// there is nothing to refetch.
func (sw *Sweeper) SweepOnce(ctx context.Context) (*Report, error) {
	pages, err := sw.store.ListPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("repair: list pages: %w", err)
	}

	rep := &Report{GeneratedAt: time.Now().UnixMilli()}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sw.opts.Concurrency)

	for _, pi := range pages {
		if !strings.HasPrefix(pi.PageID, "http://") && !strings.HasPrefix(pi.PageID, "https://") {
			continue
		}
		g.Go(func() error {
			pr := sw.sweepPage(gctx, pi)
			mu.Lock()
			rep.Pages = append(rep.Pages, pr)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rep, nil
}

func (sw *Sweeper) sweepPage(ctx context.Context, pi store.PageInfo) PageReport {
	pr := PageReport{PageID: pi.PageID, Title: pi.Title}

	rec, err := sw.store.LoadPage(ctx, pi.PageID)
	if err != nil {
		pr.Error = err.Error()
		return pr
	}
	doc, err := sw.fetcher.Fetch(ctx, pi.PageID)
	if err != nil {
		pr.Error = err.Error()
		sw.opts.Logger.Warn("repair: fetch failed", "page", pi.PageID, "error", err)
		return pr
	}

	for i := range rec.Anchors {
		a := &rec.Anchors[i]
		ar := sw.auditAnchor(a, doc.Root)
		switch ar.Health {
		case HealthExact:
			pr.Exact++
		case HealthDrifted:
			pr.Drifted++
		case HealthFuzzy:
			pr.Fuzzy++
		case HealthOrphan:
			pr.Orphans++
		}
		pr.Anchors = append(pr.Anchors, ar)
	}
	return pr
}

func (sw *Sweeper) auditAnchor(a *anchor.Anchor, root *html.Node) AnchorReport {
	ar := AnchorReport{AnchorID: a.ID, Quote: a.Quote}

	rng, tier, err := sw.resolver.Resolve(a, root)
	if err != nil {
		ar.Health = HealthOrphan
		ar.Snippet = strings.TrimSpace(a.Prefix + a.Quote + a.Suffix)
		return ar
	}

	switch tier {
	case resolve.TierExact:
		ar.Health = HealthExact
	case resolve.TierSubtree:
		ar.Health = HealthDrifted
	default:
		ar.Health = HealthFuzzy
	}
	if ar.Health != HealthExact {
		ar.Snippet = sw.snippet(rng.Node)
	}
	return ar
}

// snippet renders the element enclosing a resolved range as markdown,
// clipped to the configured limit.
func (sw *Sweeper) snippet(n *html.Node) string {
	el := n
	for el != nil && el.Type != html.ElementNode {
		el = el.Parent
	}
	if el == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, el); err != nil {
		return ""
	}
	md, err := sw.conv.ConvertString(buf.String())
	if err != nil {
		return ""
	}
	md = strings.TrimSpace(md)
	if r := []rune(md); len(r) > sw.opts.SnippetLimit {
		md = string(r[:sw.opts.SnippetLimit]) + "…"
	}
	return md
}
