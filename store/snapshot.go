package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/dommark/anchor"
	"github.com/hazyhaar/dommark/dbopen"
)

// SnapshotVersion is the current export format version.
const SnapshotVersion = 1

// Snapshot is the bulk export/import document: a versioned mapping from
// normalized document identity to PageRecord.
type Snapshot struct {
	Version    int                   `json:"version"`
	ExportedAt int64                 `json:"exported_at"`
	Pages      map[string]PageRecord `json:"pages"`
}

// ImportStats reports the outcome of an import.
type ImportStats struct {
	PagesSeen      int `json:"pages_seen"`
	AnchorsAdded   int `json:"anchors_added"`
	AnchorsSkipped int `json:"anchors_skipped"`
}

// Export dumps every page record into a snapshot.
func (s *Store) Export(ctx context.Context) (*Snapshot, error) {
	pages, err := s.ListPages(ctx)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: time.Now().UnixMilli(),
		Pages:      make(map[string]PageRecord, len(pages)),
	}
	for _, pi := range pages {
		rec, err := s.LoadPage(ctx, pi.PageID)
		if err != nil {
			return nil, err
		}
		snap.Pages[pi.PageID] = *rec
	}
	return snap, nil
}

// Import performs a union merge keyed by anchor id: anchors whose id
// already exists locally are skipped entirely — notes and tags are never
// silently overwritten on conflict — and unknown ids are appended after
// the page's existing anchors. Page titles from the snapshot apply only
// to pages created by the import.
func (s *Store) Import(ctx context.Context, snap *Snapshot) (ImportStats, error) {
	var stats ImportStats
	if snap == nil {
		return stats, fmt.Errorf("store: nil snapshot")
	}
	if snap.Version != SnapshotVersion {
		return stats, fmt.Errorf("store: unsupported snapshot version %d", snap.Version)
	}

	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		now := time.Now().UnixMilli()
		for pageID, rec := range snap.Pages {
			stats.PagesSeen++
			for i := range rec.Anchors {
				a := &rec.Anchors[i]
				var exists int
				if err := tx.QueryRowContext(ctx,
					`SELECT COUNT(*) FROM anchors WHERE id = ?`, a.ID).Scan(&exists); err != nil {
					return err
				}
				if exists > 0 {
					stats.AnchorsSkipped++
					continue
				}
				if err := importAnchor(ctx, tx, pageID, rec.Title, a, now); err != nil {
					return err
				}
				stats.AnchorsAdded++
			}
		}
		return nil
	})
	if err != nil {
		return ImportStats{}, err
	}
	return stats, nil
}

func importAnchor(ctx context.Context, tx *sql.Tx, pageID, title string, a *anchor.Anchor, now int64) error {
	// Create the page row only if missing; an existing title wins.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pages (page_id, title, created_at, updated_at)
		VALUES (?,?,?,?)
		ON CONFLICT(page_id) DO UPDATE SET updated_at = excluded.updated_at`,
		pageID, title, now, now); err != nil {
		return fmt.Errorf("store: import page %s: %w", pageID, err)
	}
	tags, err := json.Marshal(anchor.NormalizeTags(a.Tags))
	if err != nil {
		return fmt.Errorf("store: import tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO anchors (id, page_id, quote, path, start_offset, end_offset,
		                     prefix, suffix, color, note, tags, seq, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,
		        (SELECT COALESCE(MAX(seq), 0) + 1 FROM anchors WHERE page_id = ?), ?)`,
		a.ID, pageID, a.Quote, a.Path.String(), a.Start, a.End,
		a.Prefix, a.Suffix, a.Color, a.Note, string(tags), pageID, a.CreatedAt); err != nil {
		return fmt.Errorf("store: import anchor %s: %w", a.ID, err)
	}
	return nil
}
