package session

import (
	"strings"
	"testing"
	"time"
)

func TestDecodeStatus(t *testing.T) {
	cases := []struct {
		in   string
		want Status
	}{
		{"init", StatusInit},
		{"running", StatusRunning},
		{"completed", StatusCompleted},
		{"interrupted", StatusInterrupted},
		{"error", StatusError},
		{"bogus", StatusError},
		{"", StatusError},
	}
	for _, tc := range cases {
		if got := DecodeStatus(tc.in); got != tc.want {
			t.Fatalf("DecodeStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestContextRecordRoundTrip(t *testing.T) {
	rec := FormatContext("https://example.com/a", "some extracted\ntext")
	u, text := ParseContext(rec)
	if u != "https://example.com/a" {
		t.Fatalf("url lost: %q", u)
	}
	if text != "some extracted\ntext" {
		t.Fatalf("text lost: %q", text)
	}

	u, text = ParseContext("untagged blob")
	if u != "" || text != "untagged blob" {
		t.Fatalf("untagged record mishandled: %q / %q", u, text)
	}
}

func TestSourceURLs_OrderedDistinct(t *testing.T) {
	data := AggregatedData{AggregatedContexts: []string{
		FormatContext("https://a.example", "one"),
		FormatContext("https://b.example", "two"),
		FormatContext("https://a.example", "three"),
	}}
	urls := data.SourceURLs()
	if len(urls) != 2 || urls[0] != "https://a.example" || urls[1] != "https://b.example" {
		t.Fatalf("unexpected source urls: %v", urls)
	}
}

func TestIntegrityHash_StableAndOrderSensitive(t *testing.T) {
	data := AggregatedData{
		AllSearchQueries:   []string{"q1", "q2"},
		AggregatedContexts: []string{FormatContext("https://a.example", "text")},
		LastPlan:           "plan",
	}
	h1, err := IntegrityHash(data)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	h2, err := IntegrityHash(data.Clone())
	if err != nil {
		t.Fatalf("hash of clone failed: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not stable: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected sha-256 hex digest, got %q", h1)
	}

	reordered := data.Clone()
	reordered.AllSearchQueries = []string{"q2", "q1"}
	h3, err := IntegrityHash(reordered)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if h3 == h1 {
		t.Fatal("query order must affect the hash")
	}
}

func TestIntegrityHash_IgnoresEmptyFields(t *testing.T) {
	base := AggregatedData{AllSearchQueries: []string{"q"}}
	withEmpties := base.Clone()
	withEmpties.LastPlan = ""
	withEmpties.CurrentIterationData = map[string]any{"note": "", "gone": nil}

	h1, err := IntegrityHash(base)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	h2, err := IntegrityHash(withEmpties)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if h1 != h2 {
		t.Fatal("empty strings and nils must not change the hash")
	}
}

func TestCanonicalize_SortsKeys(t *testing.T) {
	data := AggregatedData{
		AllSearchQueries: []string{"q"},
		CurrentIterationData: map[string]any{
			"zeta":  1,
			"alpha": 2,
		},
	}
	out, err := Canonicalize(data)
	if err != nil {
		t.Fatalf("canonicalize failed: %v", err)
	}
	s := string(out)
	if strings.Index(s, "alpha") > strings.Index(s, "zeta") {
		t.Fatalf("keys not sorted: %s", s)
	}
}

func TestNewSession_Defaults(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := New("what is x", "", Settings{MaxIterations: 15, MaxSearchItems: 4}, now)
	if s.Status != StatusInit {
		t.Fatalf("status = %q", s.Status)
	}
	if s.CurrentIteration != -1 {
		t.Fatalf("current iteration = %d", s.CurrentIteration)
	}
	if s.Version != 1 {
		t.Fatalf("version = %d", s.Version)
	}
	if s.AggregatedData.AllSearchQueries == nil || s.AggregatedData.AggregatedContexts == nil {
		t.Fatal("aggregate slices must be initialized")
	}
}

func TestClone_DoesNotAlias(t *testing.T) {
	data := AggregatedData{
		AllSearchQueries:     []string{"q"},
		AggregatedContexts:   []string{"c"},
		CurrentIterationData: map[string]any{"k": "v"},
	}
	cp := data.Clone()
	cp.AllSearchQueries[0] = "mutated"
	cp.CurrentIterationData["k"] = "mutated"
	if data.AllSearchQueries[0] != "q" || data.CurrentIterationData["k"] != "v" {
		t.Fatal("clone aliases the original")
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusRunning.Terminal() || StatusInit.Terminal() {
		t.Fatal("running/init must not be terminal")
	}
	if !StatusCompleted.Terminal() || !StatusError.Terminal() || !StatusInterrupted.Terminal() {
		t.Fatal("completed/error/interrupted must be terminal")
	}
}
