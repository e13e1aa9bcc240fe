// Package server exposes the highlight dashboard API over HTTP: browse
// pages, curate anchors, move snapshots in and out. Documents themselves
// are never served here; embedders hold those.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/dommark"
	"github.com/hazyhaar/dommark/store"
)

// maxImportBytes caps snapshot upload size.
const maxImportBytes = 32 << 20

// Server wires the service facade into a chi router.
type Server struct {
	svc    *dommark.Service
	logger *slog.Logger
	// notes are free text destined for other users' browsers; strip all
	// markup on the way in.
	sanitizer *bluemonday.Policy
}

// New creates a Server.
func New(svc *dommark.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:       svc,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Router builds the HTTP API.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Get("/api/pages", s.handleListPages)
	r.Get("/api/pages/{pageID}/anchors", s.handlePageAnchors)
	r.Get("/api/search", s.handleSearch)
	r.Patch("/api/anchors/{id}", s.handleUpdateAnchor)
	r.Delete("/api/anchors/{id}", s.handleDeleteAnchor)
	r.Get("/api/export", s.handleExport)
	r.Post("/api/import", s.handleImport)

	return r
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	pages, err := s.svc.Store.ListPages(r.Context())
	if err != nil {
		s.storageError(w, "list pages", err)
		return
	}
	if pages == nil {
		pages = []store.PageInfo{}
	}
	writeJSON(w, 200, map[string]any{"pages": pages})
}

func (s *Server) handlePageAnchors(w http.ResponseWriter, r *http.Request) {
	pageID, err := url.PathUnescape(chi.URLParam(r, "pageID"))
	if err != nil {
		writeJSON(w, 400, map[string]string{"error": "bad page id"})
		return
	}
	rec, err := s.svc.Store.LoadPage(r.Context(), pageID)
	if err != nil {
		s.storageError(w, "load page", err)
		return
	}
	writeJSON(w, 200, rec)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, 400, map[string]string{"error": "missing q"})
		return
	}
	hits, err := s.svc.Store.SearchAnchors(r.Context(), q, 0)
	if err != nil {
		s.storageError(w, "search", err)
		return
	}
	if hits == nil {
		hits = []store.SearchHit{}
	}
	writeJSON(w, 200, map[string]any{"hits": hits})
}

type patchReq struct {
	Color *string   `json:"color"`
	Note  *string   `json:"note"`
	Tags  *[]string `json:"tags"`
}

func (s *Server) handleUpdateAnchor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req patchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, map[string]string{"error": "invalid body"})
		return
	}
	if req.Note != nil {
		clean := s.sanitizer.Sanitize(*req.Note)
		req.Note = &clean
	}

	a, err := s.svc.UpdateAnchor(r.Context(), id, store.Patch{
		Color: req.Color, Note: req.Note, Tags: req.Tags,
	})
	if errors.Is(err, store.ErrInvalidColor) {
		writeJSON(w, 400, map[string]string{"error": "color not in palette"})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, 404, map[string]string{"error": "anchor not found"})
		return
	}
	if err != nil {
		s.storageError(w, "update anchor", err)
		return
	}
	writeJSON(w, 200, a)
}

func (s *Server) handleDeleteAnchor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.svc.DeleteAnchor(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, 404, map[string]string{"error": "anchor not found"})
		return
	}
	if err != nil {
		s.storageError(w, "delete anchor", err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Export(r.Context())
	if err != nil {
		s.storageError(w, "export", err)
		return
	}
	writeJSON(w, 200, snap)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	var snap store.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeJSON(w, 400, map[string]string{"error": "invalid snapshot: " + err.Error()})
		return
	}
	stats, err := s.svc.Import(r.Context(), &snap)
	if err != nil {
		writeJSON(w, 422, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, 200, stats)
}

// storageError reports a persistence failure without crashing the
// dashboard: the caller learns the operation did not take effect.
func (s *Server) storageError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("server: storage failure", "op", op, "error", err)
	writeJSON(w, 502, map[string]string{"error": "storage failure: " + op})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
