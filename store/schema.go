package store

// Schema contains the complete DDL for the dommark tables.
const Schema = `
-- Pages: one row per normalized document identity. A page row exists only
-- while it has anchors; deleting the last anchor reaps the page.
CREATE TABLE IF NOT EXISTS pages (
    page_id    TEXT PRIMARY KEY,
    title      TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Anchors: durable locators. seq preserves per-page insertion order so
-- restoration layers marks identically on every load.
CREATE TABLE IF NOT EXISTS anchors (
    id           TEXT PRIMARY KEY,
    page_id      TEXT NOT NULL,
    quote        TEXT NOT NULL,
    path         TEXT NOT NULL,
    start_offset INTEGER NOT NULL,
    end_offset   INTEGER NOT NULL,
    prefix       TEXT NOT NULL DEFAULT '',
    suffix       TEXT NOT NULL DEFAULT '',
    color        TEXT NOT NULL DEFAULT 'yellow',
    note         TEXT NOT NULL DEFAULT '',
    tags         TEXT NOT NULL DEFAULT '[]',
    seq          INTEGER NOT NULL,
    created_at   INTEGER NOT NULL,
    FOREIGN KEY (page_id) REFERENCES pages(page_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_anchors_page ON anchors(page_id, seq);
`
