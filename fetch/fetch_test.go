package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// allowAll disables SSRF checks so tests can hit the loopback server.
func allowAll(string) error { return nil }

func TestFetchParsesDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title> My Article </title></head><body><p>hello world</p></body></html>`))
	}))
	defer srv.Close()

	f := New(Config{URLValidator: allowAll})
	doc, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if doc.Title != "My Article" {
		t.Errorf("Title: got %q", doc.Title)
	}
	if doc.Root == nil {
		t.Fatal("Root is nil")
	}
	if doc.StatusCode != 200 {
		t.Errorf("StatusCode: got %d", doc.StatusCode)
	}
	if !strings.Contains(string(doc.Body), "hello world") {
		t.Errorf("Body: %q", doc.Body)
	}
}

func TestFetchRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := New(Config{URLValidator: allowAll})
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestFetchBoundsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>" + strings.Repeat("x", 4096) + "</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{MaxBytes: 512, URLValidator: allowAll})
	doc, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(doc.Body) > 512 {
		t.Errorf("body not bounded: %d bytes", len(doc.Body))
	}
}

func TestDefaultValidatorBlocksLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	f := New(Config{}) // default validator
	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrSSRF) {
		t.Fatalf("got %v, want ErrSSRF", err)
	}
}

func TestRedirectTargetRevalidated(t *testing.T) {
	inner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer inner.Close()
	outer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, inner.URL, http.StatusFound)
	}))
	defer outer.Close()

	// The first hop is allowed through; the redirect target must still
	// pass the real validator.
	hops := 0
	f := New(Config{URLValidator: func(u string) error {
		hops++
		if hops == 1 {
			return nil
		}
		return ValidateURL(u)
	}})
	if _, err := f.Fetch(context.Background(), outer.URL); err == nil {
		t.Fatal("expected redirect to loopback to be blocked")
	}
}

func TestValidateURL(t *testing.T) {
	cases := []struct {
		url  string
		want error
	}{
		{"ftp://example.com/file", ErrUnsafeScheme},
		{"http://127.0.0.1/admin", ErrSSRF},
		{"http://10.1.2.3/internal", ErrSSRF},
		{"http://192.168.1.1/", ErrSSRF},
		{"http://[::1]/", ErrSSRF},
		{"http://169.254.169.254/metadata", ErrSSRF},
	}
	for _, tc := range cases {
		if err := ValidateURL(tc.url); !errors.Is(err, tc.want) {
			t.Errorf("ValidateURL(%q): got %v, want %v", tc.url, err, tc.want)
		}
	}
	if err := ValidateURL("https://"); err == nil {
		t.Error("missing host must be rejected")
	}
}

func TestParseDocumentRepairsMalformedMarkup(t *testing.T) {
	doc, err := ParseDocument("https://example.com/p", []byte(`<p>unclosed <b>bold`), 200)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Root == nil {
		t.Fatal("Root is nil")
	}
}
