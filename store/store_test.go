package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/dommark/anchor"
	"github.com/hazyhaar/dommark/dbopen"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return &Store{DB: db}
}

func testAnchor(t *testing.T, id, quote string) *anchor.Anchor {
	t.Helper()
	p, err := anchor.ParsePath("/html/body/p")
	if err != nil {
		t.Fatalf("parse path: %v", err)
	}
	return &anchor.Anchor{
		ID:        id,
		Quote:     quote,
		Path:      p,
		Start:     0,
		End:       len(quote),
		Prefix:    "before ",
		Suffix:    " after",
		Color:     "yellow",
		CreatedAt: 1700000000000,
	}
}

const page = "https://example.com/article"

func TestSaveLoadRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := testAnchor(t, "hl_1", "some quote")
	a.Note = "a note"
	a.Tags = []string{"research", "go"}
	if err := s.SaveAnchor(ctx, page, "Example Article", a); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec, err := s.LoadPage(ctx, page)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.Title != "Example Article" {
		t.Errorf("Title: got %q", rec.Title)
	}
	if len(rec.Anchors) != 1 {
		t.Fatalf("anchors: got %d, want 1", len(rec.Anchors))
	}
	got := rec.Anchors[0]
	if got.Quote != "some quote" {
		t.Errorf("Quote: got %q", got.Quote)
	}
	if got.Path.String() != "/html/body/p" {
		t.Errorf("Path: got %q", got.Path.String())
	}
	if got.Prefix != "before " || got.Suffix != " after" {
		t.Errorf("context: got %q / %q", got.Prefix, got.Suffix)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "#go" || got.Tags[1] != "#research" {
		t.Errorf("Tags: got %v", got.Tags)
	}
	if got.CreatedAt != a.CreatedAt {
		t.Errorf("CreatedAt: got %d, want %d", got.CreatedAt, a.CreatedAt)
	}
}

func TestLoadMissingPageIsEmptyRecord(t *testing.T) {
	s := testStore(t)
	rec, err := s.LoadPage(context.Background(), "https://never.seen/page")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec == nil {
		t.Fatal("got nil record")
	}
	if len(rec.Anchors) != 0 {
		t.Errorf("anchors: got %d, want 0", len(rec.Anchors))
	}
}

func TestInsertionOrderPreserved(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		a := testAnchor(t, fmt.Sprintf("hl_%d", i), fmt.Sprintf("quote %d", i))
		if err := s.SaveAnchor(ctx, page, "T", a); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	rec, err := s.LoadPage(ctx, page)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for i, a := range rec.Anchors {
		if want := fmt.Sprintf("hl_%d", i); a.ID != want {
			t.Errorf("position %d: got %s, want %s", i, a.ID, want)
		}
	}
}

func TestSaveExistingUpdatesMutableFieldsOnly(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := testAnchor(t, "hl_1", "original quote")
	if err := s.SaveAnchor(ctx, page, "T", a); err != nil {
		t.Fatalf("save: %v", err)
	}

	mutated := testAnchor(t, "hl_1", "TAMPERED quote")
	mutated.Color = "pink"
	mutated.Note = "updated"
	if err := s.SaveAnchor(ctx, page, "T", mutated); err != nil {
		t.Fatalf("resave: %v", err)
	}

	got, _, err := s.GetAnchor(ctx, "hl_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Quote != "original quote" {
		t.Errorf("Quote must be immutable: got %q", got.Quote)
	}
	if got.Color != "pink" || got.Note != "updated" {
		t.Errorf("mutable fields: got %q / %q", got.Color, got.Note)
	}
}

func TestDeleteReapsEmptyPage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveAnchor(ctx, page, "T", testAnchor(t, "hl_1", "only one")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.DeleteAnchor(ctx, page, "hl_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	pages, err := s.ListPages(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pages) != 0 {
		t.Errorf("pages after reap: got %d, want 0", len(pages))
	}
}

func TestDeleteOneOfSeveralPreservesOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"hl_a", "hl_b", "hl_c"} {
		if err := s.SaveAnchor(ctx, page, "T", testAnchor(t, id, "q "+id)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := s.DeleteAnchor(ctx, page, "hl_b"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	rec, err := s.LoadPage(ctx, page)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rec.Anchors) != 2 {
		t.Fatalf("anchors: got %d, want 2", len(rec.Anchors))
	}
	if rec.Anchors[0].ID != "hl_a" || rec.Anchors[1].ID != "hl_c" {
		t.Errorf("order: got %s, %s", rec.Anchors[0].ID, rec.Anchors[1].ID)
	}
}

func TestDeleteMissingAnchor(t *testing.T) {
	s := testStore(t)
	err := s.DeleteAnchor(context.Background(), page, "hl_missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestUpdateAnchorMergeSemantics(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := testAnchor(t, "hl_1", "quote")
	a.Note = "keep me"
	a.Tags = []string{"one"}
	if err := s.SaveAnchor(ctx, page, "T", a); err != nil {
		t.Fatalf("save: %v", err)
	}

	color := "blue"
	if err := s.UpdateAnchor(ctx, page, "hl_1", Patch{Color: &color}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _, err := s.GetAnchor(ctx, "hl_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Color != "blue" {
		t.Errorf("Color: got %q", got.Color)
	}
	if got.Note != "keep me" {
		t.Errorf("Note must survive a color-only patch: got %q", got.Note)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "#one" {
		t.Errorf("Tags must survive a color-only patch: got %v", got.Tags)
	}

	tags := []string{"two", "three"}
	note := ""
	if err := s.UpdateAnchor(ctx, page, "hl_1", Patch{Note: &note, Tags: &tags}); err != nil {
		t.Fatalf("update 2: %v", err)
	}
	got, _, _ = s.GetAnchor(ctx, "hl_1")
	if got.Note != "" {
		t.Errorf("Note: explicit empty must clear, got %q", got.Note)
	}
	if len(got.Tags) != 2 {
		t.Errorf("Tags: got %v", got.Tags)
	}
}

func TestUpdateAnchorRejectsUnknownColor(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveAnchor(ctx, page, "T", testAnchor(t, "hl_1", "quote")); err != nil {
		t.Fatalf("save: %v", err)
	}

	bad := "neon-ultraviolet"
	err := s.UpdateAnchor(ctx, page, "hl_1", Patch{Color: &bad})
	if !errors.Is(err, ErrInvalidColor) {
		t.Fatalf("got %v, want ErrInvalidColor", err)
	}

	got, _, err := s.GetAnchor(ctx, "hl_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Color != "yellow" {
		t.Errorf("color after rejected update: got %q, want %q", got.Color, "yellow")
	}
}

func TestSearchAnchors(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := testAnchor(t, "hl_1", "the migratory patterns of swallows")
	b := testAnchor(t, "hl_2", "unrelated")
	b.Note = "see swallows chapter"
	if err := s.SaveAnchor(ctx, page, "T", a); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveAnchor(ctx, page, "T", b); err != nil {
		t.Fatalf("save: %v", err)
	}

	hits, err := s.SearchAnchors(ctx, "swallows", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("hits: got %d, want 2", len(hits))
	}

	hits, err = s.SearchAnchors(ctx, "100%_guaranteed", 10)
	if err != nil {
		t.Fatalf("search with metacharacters: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("metacharacter hits: got %d, want 0", len(hits))
	}
}
