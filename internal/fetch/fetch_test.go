package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperifyio/deepresearch/internal/schedule"
)

func newTestFetcher(client *http.Client) *Fetcher {
	return &Fetcher{
		HTTPClient: client,
		Scheduler:  schedule.New(3, 0),
		BrowseLite: true,
	}
}

func TestIsPDFURL(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"https://example.com/paper.pdf", true},
		{"https://example.com/paper.PDF", true},
		{"https://example.com/paper.pdf?dl=1", true},
		{"https://example.com/page.html", false},
		{"https://example.com/", false},
	}
	for _, tc := range cases {
		if got := IsPDFURL(tc.in); got != tc.want {
			t.Fatalf("IsPDFURL(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFetch_LitePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Doc Title</title></head><body><main><p>useful body text</p></main></body></html>`))
	}))
	defer srv.Close()

	f := newTestFetcher(srv.Client())
	got := f.Fetch(context.Background(), srv.URL+"/page")
	if !strings.HasPrefix(got, "# Doc Title\n") {
		t.Fatalf("expected markdown page header, got %q", got)
	}
	if !strings.Contains(got, "useful body text") {
		t.Fatalf("body text missing: %q", got)
	}
}

func TestFetch_UntitledPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>content</p></body></html>`))
	}))
	defer srv.Close()

	f := newTestFetcher(srv.Client())
	got := f.Fetch(context.Background(), srv.URL)
	if !strings.HasPrefix(got, "# Untitled Page\n") {
		t.Fatalf("expected untitled fallback, got %q", got)
	}
}

func TestFetch_ErrorShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	f := newTestFetcher(srv.Client())
	got := f.Fetch(context.Background(), srv.URL)
	if !strings.HasPrefix(got, "Failed to fetch ") {
		t.Fatalf("expected failure shape, got %q", got)
	}
}

func TestFetch_PDFDisabledInLiteMode(t *testing.T) {
	f := newTestFetcher(http.DefaultClient)
	got := f.Fetch(context.Background(), "https://example.com/paper.pdf")
	if got != "PDF parsing is disabled in lite browsing mode." {
		t.Fatalf("unexpected response: %q", got)
	}
}

func TestFetch_ReaderStrategy(t *testing.T) {
	var sawAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("# Remote Title\nremote body"))
	}))
	defer srv.Close()

	f := &Fetcher{
		HTTPClient:    srv.Client(),
		Scheduler:     schedule.New(3, 0),
		UseReader:     true,
		ReaderBaseURL: srv.URL + "/",
		ReaderAPIKey:  "secret",
	}
	got := f.Fetch(context.Background(), "https://example.com/page")
	if got != "# Remote Title\nremote body" {
		t.Fatalf("reader body not returned verbatim: %q", got)
	}
	if sawAuth != "Bearer secret" {
		t.Fatalf("missing bearer auth, got %q", sawAuth)
	}
}

func TestFetch_ReaderStrategyNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	f := &Fetcher{
		HTTPClient:    srv.Client(),
		Scheduler:     schedule.New(3, 0),
		UseReader:     true,
		ReaderBaseURL: srv.URL + "/",
	}
	got := f.Fetch(context.Background(), "https://example.com/page")
	if !strings.HasPrefix(got, "Error: ") {
		t.Fatalf("expected error shape, got %q", got)
	}
}

func TestFetch_PDFOversizeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	f := &Fetcher{
		HTTPClient:     srv.Client(),
		Scheduler:      schedule.New(3, 0),
		PDFMaxFilesize: 1024,
		PDFTimeout:     time.Second,
	}
	got := f.Fetch(context.Background(), srv.URL+"/paper.pdf")
	if !strings.Contains(got, "maximum file size") {
		t.Fatalf("oversize pdf not rejected: %q", got)
	}
}

func TestFetch_CancelledContext(t *testing.T) {
	f := newTestFetcher(http.DefaultClient)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := f.Fetch(ctx, "https://example.com/page")
	if !strings.HasPrefix(got, "Error: ") && !strings.HasPrefix(got, "Failed to fetch ") {
		t.Fatalf("cancellation must map to a skip shape, got %q", got)
	}
}
