package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/dommark/anchor"
	"github.com/hazyhaar/dommark/dbopen"
)

// ErrNotFound is returned when an anchor id does not exist.
var ErrNotFound = errors.New("store: anchor not found")

// ErrInvalidColor is returned when a write names a color outside the
// palette.
var ErrInvalidColor = errors.New("store: color not in palette")

// PageRecord is the persisted collection of anchors for one page,
// ordered by insertion.
type PageRecord struct {
	PageID  string          `json:"page_id"`
	Title   string          `json:"title"`
	Anchors []anchor.Anchor `json:"anchors"`
}

// PageInfo is a listing row for the dashboard.
type PageInfo struct {
	PageID      string `json:"page_id"`
	Title       string `json:"title"`
	AnchorCount int    `json:"anchor_count"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Patch is a partial anchor update. Nil fields are left untouched; tags
// are normalized on write.
type Patch struct {
	Color *string
	Note  *string
	Tags  *[]string
}

// LoadPage returns the record for a page, or an empty record when the
// page has never been seen. It never returns a nil record alongside a nil
// error.
func (s *Store) LoadPage(ctx context.Context, pageID string) (*PageRecord, error) {
	rec := &PageRecord{PageID: pageID}

	err := s.DB.QueryRowContext(ctx,
		`SELECT title FROM pages WHERE page_id = ?`, pageID).Scan(&rec.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load page: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, quote, path, start_offset, end_offset, prefix, suffix,
		       color, note, tags, created_at
		FROM anchors WHERE page_id = ? ORDER BY seq`, pageID)
	if err != nil {
		return nil, fmt.Errorf("store: load anchors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAnchor(rows)
		if err != nil {
			return nil, err
		}
		rec.Anchors = append(rec.Anchors, *a)
	}
	return rec, rows.Err()
}

// SaveAnchor appends a new anchor to a page (creating the page row on
// first use) or, when the id already exists, updates its mutable fields
// in place. The anchor's identity and locator fields are never rewritten
// on update, and seq is preserved so ordering stays stable.
func (s *Store) SaveAnchor(ctx context.Context, pageID, title string, a *anchor.Anchor) error {
	tags, err := json.Marshal(anchor.NormalizeTags(a.Tags))
	if err != nil {
		return fmt.Errorf("store: marshal tags: %w", err)
	}
	now := time.Now().UnixMilli()

	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pages (page_id, title, created_at, updated_at)
			VALUES (?,?,?,?)
			ON CONFLICT(page_id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
			pageID, title, now, now); err != nil {
			return fmt.Errorf("store: upsert page: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO anchors (id, page_id, quote, path, start_offset, end_offset,
			                     prefix, suffix, color, note, tags, seq, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,
			        (SELECT COALESCE(MAX(seq), 0) + 1 FROM anchors WHERE page_id = ?), ?)
			ON CONFLICT(id) DO UPDATE SET
				color = excluded.color,
				note  = excluded.note,
				tags  = excluded.tags`,
			a.ID, pageID, a.Quote, a.Path.String(), a.Start, a.End,
			a.Prefix, a.Suffix, a.Color, a.Note, string(tags), pageID, a.CreatedAt); err != nil {
			return fmt.Errorf("store: save anchor: %w", err)
		}
		return nil
	})
}

// GetAnchor returns an anchor and its owning page id.
func (s *Store) GetAnchor(ctx context.Context, id string) (*anchor.Anchor, string, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, quote, path, start_offset, end_offset, prefix, suffix,
		       color, note, tags, created_at, page_id
		FROM anchors WHERE id = ?`, id)

	var a anchor.Anchor
	var pathStr, tagsJSON, pageID string
	err := row.Scan(&a.ID, &a.Quote, &pathStr, &a.Start, &a.End, &a.Prefix,
		&a.Suffix, &a.Color, &a.Note, &tagsJSON, &a.CreatedAt, &pageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("store: get anchor: %w", err)
	}
	if err := fillParsed(&a, pathStr, tagsJSON); err != nil {
		return nil, "", err
	}
	return &a, pageID, nil
}

// DeleteAnchor removes an anchor. When it was the page's last anchor the
// page row is reaped in the same transaction.
func (s *Store) DeleteAnchor(ctx context.Context, pageID, id string) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM anchors WHERE id = ? AND page_id = ?`, id, pageID)
		if err != nil {
			return fmt.Errorf("store: delete anchor: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		var remaining int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM anchors WHERE page_id = ?`, pageID).Scan(&remaining); err != nil {
			return err
		}
		if remaining == 0 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM pages WHERE page_id = ?`, pageID); err != nil {
				return fmt.Errorf("store: reap page: %w", err)
			}
		}
		return nil
	})
}

// UpdateAnchor applies a partial update to an anchor's mutable fields.
// Merge semantics: only supplied fields change. Colors outside the
// palette are rejected before anything is written.
func (s *Store) UpdateAnchor(ctx context.Context, pageID, id string, p Patch) error {
	if p.Color != nil && !anchor.ValidColor(*p.Color) {
		return fmt.Errorf("%w: %q", ErrInvalidColor, *p.Color)
	}
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var color, note, tagsJSON string
		err := tx.QueryRowContext(ctx,
			`SELECT color, note, tags FROM anchors WHERE id = ? AND page_id = ?`,
			id, pageID).Scan(&color, &note, &tagsJSON)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("store: read anchor: %w", err)
		}

		if p.Color != nil {
			color = *p.Color
		}
		if p.Note != nil {
			note = *p.Note
		}
		if p.Tags != nil {
			data, err := json.Marshal(anchor.NormalizeTags(*p.Tags))
			if err != nil {
				return fmt.Errorf("store: marshal tags: %w", err)
			}
			tagsJSON = string(data)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE anchors SET color = ?, note = ?, tags = ? WHERE id = ?`,
			color, note, tagsJSON, id); err != nil {
			return fmt.Errorf("store: update anchor: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE pages SET updated_at = ? WHERE page_id = ?`,
			time.Now().UnixMilli(), pageID)
		return err
	})
}

// ListPages returns all pages with anchor counts, most recently updated
// first.
func (s *Store) ListPages(ctx context.Context) ([]PageInfo, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT p.page_id, p.title, COUNT(a.id), p.updated_at
		FROM pages p LEFT JOIN anchors a ON a.page_id = p.page_id
		GROUP BY p.page_id
		ORDER BY p.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list pages: %w", err)
	}
	defer rows.Close()

	var out []PageInfo
	for rows.Next() {
		var pi PageInfo
		if err := rows.Scan(&pi.PageID, &pi.Title, &pi.AnchorCount, &pi.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, pi)
	}
	return out, rows.Err()
}

// SearchHit is one search result.
type SearchHit struct {
	PageID string        `json:"page_id"`
	Title  string        `json:"title"`
	Anchor anchor.Anchor `json:"anchor"`
}

// SearchAnchors finds anchors whose quote or note contains q.
func (s *Store) SearchAnchors(ctx context.Context, q string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(q) + "%"
	rows, err := s.DB.QueryContext(ctx, `
		SELECT a.id, a.quote, a.path, a.start_offset, a.end_offset, a.prefix,
		       a.suffix, a.color, a.note, a.tags, a.created_at, a.page_id, p.title
		FROM anchors a JOIN pages p ON p.page_id = a.page_id
		WHERE a.quote LIKE ? ESCAPE '\' OR a.note LIKE ? ESCAPE '\'
		ORDER BY a.created_at DESC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	var out []SearchHit
	for rows.Next() {
		var h SearchHit
		var pathStr, tagsJSON string
		if err := rows.Scan(&h.Anchor.ID, &h.Anchor.Quote, &pathStr, &h.Anchor.Start,
			&h.Anchor.End, &h.Anchor.Prefix, &h.Anchor.Suffix, &h.Anchor.Color,
			&h.Anchor.Note, &tagsJSON, &h.Anchor.CreatedAt, &h.PageID, &h.Title); err != nil {
			return nil, err
		}
		if err := fillParsed(&h.Anchor, pathStr, tagsJSON); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanAnchor(rows *sql.Rows) (*anchor.Anchor, error) {
	var a anchor.Anchor
	var pathStr, tagsJSON string
	if err := rows.Scan(&a.ID, &a.Quote, &pathStr, &a.Start, &a.End, &a.Prefix,
		&a.Suffix, &a.Color, &a.Note, &tagsJSON, &a.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: scan anchor: %w", err)
	}
	if err := fillParsed(&a, pathStr, tagsJSON); err != nil {
		return nil, err
	}
	return &a, nil
}

func fillParsed(a *anchor.Anchor, pathStr, tagsJSON string) error {
	p, err := anchor.ParsePath(pathStr)
	if err != nil {
		return fmt.Errorf("store: anchor %s: %w", a.ID, err)
	}
	a.Path = p
	if err := json.Unmarshal([]byte(tagsJSON), &a.Tags); err != nil {
		return fmt.Errorf("store: anchor %s tags: %w", a.ID, err)
	}
	return nil
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
