// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/feedspine/feedspine/internal/model"
	"github.com/feedspine/feedspine/internal/resource"
)

func collectItems(t *testing.T, ch <-chan Item) ([]model.RecordCandidate, []error) {
	t.Helper()
	var candidates []model.RecordCandidate
	var errs []error
	for it := range ch {
		if it.Err != nil {
			errs = append(errs, it.Err)
			continue
		}
		candidates = append(candidates, it.Candidate)
	}
	return candidates, errs
}

func TestStaticFetchAndResume(t *testing.T) {
	ctx := context.Background()
	cands := []model.RecordCandidate{
		model.NewCandidate("a", "s1", nil),
		model.NewCandidate("b", "s1", nil),
		model.NewCandidate("c", "s1", nil),
	}
	a := NewStatic("s1", cands)
	if err := a.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	got, errs := collectItems(t, a.Fetch(ctx))
	if len(errs) != 0 || len(got) != 3 {
		t.Fatalf("Expected 3 candidates, got %d (errs %v)", len(got), errs)
	}
	if got[0].NaturalKey != "a" || got[2].NaturalKey != "c" {
		t.Errorf("Emission order broken: %v", got)
	}

	cp, ok := a.CurrentCheckpoint()
	if !ok || cp.Cursor != "3" {
		t.Errorf("Expected cursor 3 after full fetch, got %+v ok=%v", cp, ok)
	}

	// Resume from offset 1 replays b and c only.
	if err := a.Resume(model.Checkpoint{FeedName: "s1", Cursor: "1"}); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	got, _ = collectItems(t, a.Fetch(ctx))
	if len(got) != 2 || got[0].NaturalKey != "b" {
		t.Errorf("Resume did not skip emitted candidates: %v", got)
	}

	if err := a.Resume(model.Checkpoint{Cursor: "junk"}); !errors.Is(err, model.ErrConfig) {
		t.Errorf("Expected ErrConfig for bad cursor, got %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestStaticFetchCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cands := make([]model.RecordCandidate, 100)
	for i := range cands {
		cands[i] = model.NewCandidate(strconv.Itoa(i), "s1", nil)
	}
	a := NewStatic("s1", cands)

	ch := a.Fetch(ctx)
	<-ch
	cancel()

	// The channel must close shortly after cancellation.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Fetch stream did not close after cancellation")
		}
	}
}

func TestStaticCursorStopsAtLastDelivered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cands := []model.RecordCandidate{
		model.NewCandidate("a", "s1", nil),
		model.NewCandidate("b", "s1", nil),
		model.NewCandidate("c", "s1", nil),
	}
	a := NewStatic("s1", cands)
	ch := a.Fetch(ctx)

	// Take one item; the producer is now blocked sending the next.
	if it := <-ch; it.Candidate.NaturalKey != "a" {
		t.Fatalf("first item = %q, want a", it.Candidate.NaturalKey)
	}
	cancel()
	for range ch {
	}

	// Only "a" was delivered, so a resume must start at offset 1. A
	// cursor past that would silently drop the abandoned send of "b".
	cp, ok := a.CurrentCheckpoint()
	if !ok || cp.Cursor != "1" {
		t.Errorf("cursor = %q, want 1 after one delivery", cp.Cursor)
	}
}

const rssSample = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Example</title>
<item><title>First</title><link>https://example.com/1</link><guid>POST-1</guid>
<description>one</description><pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate>
<category>news</category></item>
<item><title>Second</title><link>https://example.com/2</link>
<pubDate>Tue, 03 Jan 2006 15:04:05 -0700</pubDate></item>
</channel></rss>`

const atomSample = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom"><title>Example</title>
<entry><id>urn:entry:1</id><title>Alpha</title><updated>2006-01-02T15:04:05Z</updated>
<summary>alpha entry</summary><link rel="alternate" href="https://example.com/a"/></entry>
</feed>`

func TestRSSAdapterParsesRSS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssSample))
	}))
	defer srv.Close()

	pool := resource.NewPool(resource.Config{MaxConcurrent: 2})
	a, err := NewRSS(RSSConfig{Name: "rss-main", URL: srv.URL}, pool)
	if err != nil {
		t.Fatalf("NewRSS failed: %v", err)
	}
	ctx := context.Background()
	if err := a.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer a.Close(ctx)

	got, errs := collectItems(t, a.Fetch(ctx))
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(got))
	}
	if got[0].NaturalKey != "post-1" {
		t.Errorf("Expected normalized guid post-1, got %s", got[0].NaturalKey)
	}
	// Second item has no guid; the link is the key.
	if got[1].NaturalKey != "https://example.com/2" {
		t.Errorf("Expected link fallback key, got %s", got[1].NaturalKey)
	}
	if got[0].Content["title"] != "First" {
		t.Errorf("Title not captured: %v", got[0].Content)
	}
	if got[0].PublishedAt.IsZero() {
		t.Error("pubDate not parsed")
	}
	if got[0].Metadata.Source != "rss-main" || got[0].Metadata.RecordType != "article" {
		t.Errorf("Metadata wrong: %+v", got[0].Metadata)
	}
}

func TestRSSAdapterParsesAtom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(atomSample))
	}))
	defer srv.Close()

	pool := resource.NewPool(resource.Config{MaxConcurrent: 2})
	a, err := NewRSS(RSSConfig{Name: "atom-main", URL: srv.URL}, pool)
	if err != nil {
		t.Fatalf("NewRSS failed: %v", err)
	}
	got, errs := collectItems(t, a.Fetch(context.Background()))
	if len(errs) != 0 || len(got) != 1 {
		t.Fatalf("Expected 1 candidate, got %d (errs %v)", len(got), errs)
	}
	if got[0].NaturalKey != "urn:entry:1" {
		t.Errorf("Expected atom id key, got %s", got[0].NaturalKey)
	}
	if got[0].Content["link"] != "https://example.com/a" {
		t.Errorf("Atom link not captured: %v", got[0].Content)
	}
}

func TestRSSAdapterEmitsErrorOnBadDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not xml at all"))
	}))
	defer srv.Close()

	pool := resource.NewPool(resource.Config{MaxConcurrent: 2})
	a, _ := NewRSS(RSSConfig{Name: "rss-main", URL: srv.URL}, pool)
	got, errs := collectItems(t, a.Fetch(context.Background()))
	if len(got) != 0 {
		t.Errorf("Expected no candidates from bad document, got %d", len(got))
	}
	if len(errs) != 1 || !errors.Is(errs[0], model.ErrAdapter) {
		t.Errorf("Expected one ErrAdapter, got %v", errs)
	}
}

func TestJSONAPIPaginationAndResume(t *testing.T) {
	pages := map[string]string{
		"1": `[{"id":"X-1","v":1},{"id":"X-2","v":2}]`,
		"2": `[{"id":"X-3","v":3}]`,
		"3": `[]`,
	}
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		requested = append(requested, page)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(pages[page]))
	}))
	defer srv.Close()

	pool := resource.NewPool(resource.Config{MaxConcurrent: 2})
	a, err := NewJSONAPI(JSONAPIConfig{Name: "api-alt", URL: srv.URL, KeyField: "id"}, pool)
	if err != nil {
		t.Fatalf("NewJSONAPI failed: %v", err)
	}

	got, errs := collectItems(t, a.Fetch(context.Background()))
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 candidates across pages, got %d", len(got))
	}
	if got[0].NaturalKey != "x-1" || got[2].NaturalKey != "x-3" {
		t.Errorf("Keys wrong or out of order: %v", got)
	}
	if len(requested) != 3 {
		t.Errorf("Expected 3 page requests, got %v", requested)
	}

	cp, ok := a.CurrentCheckpoint()
	if !ok || cp.Cursor != "3" {
		t.Errorf("Expected cursor 3 after exhausting page 2, got %+v", cp)
	}

	// A fresh adapter resumed at page 2 skips page 1.
	b, _ := NewJSONAPI(JSONAPIConfig{Name: "api-alt", URL: srv.URL, KeyField: "id"}, pool)
	if err := b.Resume(model.Checkpoint{FeedName: "api-alt", Cursor: "2"}); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	requested = nil
	got, _ = collectItems(t, b.Fetch(context.Background()))
	if len(got) != 1 || got[0].NaturalKey != "x-3" {
		t.Errorf("Resume did not skip page 1: %v", got)
	}
}

func TestJSONAPIMissingKeyFieldIsItemError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			_, _ = w.Write([]byte(`[{"id":"ok"},{"nokey":true}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	pool := resource.NewPool(resource.Config{MaxConcurrent: 2})
	a, _ := NewJSONAPI(JSONAPIConfig{Name: "api-alt", URL: srv.URL, KeyField: "id"}, pool)
	got, errs := collectItems(t, a.Fetch(context.Background()))
	if len(got) != 1 {
		t.Errorf("Expected the valid object to survive, got %d", len(got))
	}
	if len(errs) != 1 || !errors.Is(errs[0], model.ErrInvalidCandidate) {
		t.Errorf("Expected one ErrInvalidCandidate, got %v", errs)
	}
}

func TestDirAdapterListsAndResumes(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.json", "b.json", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o640); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "d.json"), []byte("{}"), 0o640); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	a, err := NewDir(DirConfig{Name: "drop", Path: dir, Pattern: "*.json"})
	if err != nil {
		t.Fatalf("NewDir failed: %v", err)
	}
	ctx := context.Background()

	got, errs := collectItems(t, a.Fetch(ctx))
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 json files, got %d", len(got))
	}
	if got[0].NaturalKey != "a.json" || got[2].NaturalKey != "sub/d.json" {
		t.Errorf("Lexical order broken: %v", got)
	}
	if got[0].Content["size"] == nil || got[0].PublishedAt.IsZero() {
		t.Errorf("File metadata missing: %v", got[0].Content)
	}

	cp, ok := a.CurrentCheckpoint()
	if !ok || cp.Cursor != "sub/d.json" {
		t.Errorf("Expected cursor at last path, got %+v", cp)
	}

	// New file after the cursor shows up on the next fetch; old ones
	// are skipped.
	if err := os.WriteFile(filepath.Join(dir, "z.json"), []byte("{}"), 0o640); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	got, _ = collectItems(t, a.Fetch(ctx))
	if len(got) != 1 || got[0].NaturalKey != "z.json" {
		t.Errorf("Incremental fetch wrong: %v", got)
	}
}
