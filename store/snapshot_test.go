package store

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/dommark/anchor"
)

func TestExportImportRoundTrip(t *testing.T) {
	src := testStore(t)
	ctx := context.Background()

	a := testAnchor(t, "hl_1", "first quote")
	a.Note = "important"
	if err := src.SaveAnchor(ctx, "https://example.com/a", "Page A", a); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := src.SaveAnchor(ctx, "https://example.com/b", "Page B", testAnchor(t, "hl_2", "second quote")); err != nil {
		t.Fatalf("save: %v", err)
	}

	snap, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if snap.Version != SnapshotVersion {
		t.Errorf("Version: got %d", snap.Version)
	}
	if len(snap.Pages) != 2 {
		t.Fatalf("pages: got %d, want 2", len(snap.Pages))
	}

	dst := testStore(t)
	stats, err := dst.Import(ctx, snap)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.AnchorsAdded != 2 || stats.AnchorsSkipped != 0 {
		t.Errorf("stats: %+v", stats)
	}

	got, _, err := dst.GetAnchor(ctx, "hl_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Note != "important" {
		t.Errorf("Note: got %q", got.Note)
	}
}

// Union merge: a local anchor with the same id wins entirely; the
// snapshot's note never overwrites it.
func TestImportExistingIDWins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	local := testAnchor(t, "hl-1", "the quote")
	local.Note = "old"
	if err := s.SaveAnchor(ctx, "https://example.com/a", "Page A", local); err != nil {
		t.Fatalf("save: %v", err)
	}

	incoming := testAnchor(t, "hl-1", "the quote")
	incoming.Note = "important"
	fresh := testAnchor(t, "hl-2", "another quote")
	snap := &Snapshot{
		Version: SnapshotVersion,
		Pages: map[string]PageRecord{
			"https://example.com/a": {
				PageID:  "https://example.com/a",
				Title:   "Page A",
				Anchors: []anchor.Anchor{*incoming, *fresh},
			},
		},
	}

	stats, err := s.Import(ctx, snap)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.AnchorsAdded != 1 || stats.AnchorsSkipped != 1 {
		t.Errorf("stats: %+v", stats)
	}

	got, _, err := s.GetAnchor(ctx, "hl-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Note != "old" {
		t.Errorf("Note: got %q, want %q (existing id must win)", got.Note, "old")
	}
	if _, _, err := s.GetAnchor(ctx, "hl-2"); err != nil {
		t.Errorf("new anchor must be appended: %v", err)
	}
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	s := testStore(t)
	_, err := s.Import(context.Background(), &Snapshot{Version: 99})
	if err == nil {
		t.Error("expected error for unsupported version")
	}
}
