// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/feedspine/feedspine/internal/bus"
	"github.com/feedspine/feedspine/internal/checkpoint"
	"github.com/feedspine/feedspine/internal/enrich"
	"github.com/feedspine/feedspine/internal/feed"
	"github.com/feedspine/feedspine/internal/model"
	"github.com/feedspine/feedspine/internal/storage"
)

func newTestCollector(t *testing.T, opts Options) *Collector {
	t.Helper()
	if opts.Store == nil {
		opts.Store = storage.NewMemory()
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func candidates(source string, keys ...string) []model.RecordCandidate {
	out := make([]model.RecordCandidate, 0, len(keys))
	for i, k := range keys {
		out = append(out, model.NewCandidate(k, source, model.Content{"n": i}))
	}
	return out
}

func TestRegisterFeedDuplicateName(t *testing.T) {
	c := newTestCollector(t, Options{})
	if err := c.RegisterFeed(feed.NewStatic("a", nil)); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := c.RegisterFeed(feed.NewStatic("a", nil))
	if !errors.Is(err, model.ErrConfig) {
		t.Fatalf("duplicate register err = %v, want ErrConfig", err)
	}
	if got := c.Feeds(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("Feeds() = %v", got)
	}
}

func TestCollectDeduplicatesWithinOneFeed(t *testing.T) {
	c := newTestCollector(t, Options{})
	// "a", "A", and " a " normalize to the same natural key.
	if err := c.RegisterFeed(feed.NewStatic("news", candidates("news", "a", "b", "a", "A", " a "))); err != nil {
		t.Fatal(err)
	}

	res, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if res.Status != model.StatusCompleted {
		t.Errorf("status = %s, want completed", res.Status)
	}
	if res.TotalProcessed != 5 || res.TotalNew != 2 || res.TotalDuplicate != 3 {
		t.Errorf("totals = %d/%d/%d, want 5/2/3", res.TotalProcessed, res.TotalNew, res.TotalDuplicate)
	}

	sightings, err := c.Store().GetSightings(context.Background(), "a")
	if err != nil {
		t.Fatalf("GetSightings: %v", err)
	}
	if len(sightings) != 4 {
		t.Fatalf("sightings for a = %d, want 4", len(sightings))
	}
	for i, s := range sightings {
		want := i == 0
		if s.IsNew != want {
			t.Errorf("sighting %d is_new = %v, want %v", i, s.IsNew, want)
		}
	}
}

func TestCollectSharedKeyAcrossFeeds(t *testing.T) {
	c := newTestCollector(t, Options{})
	if err := c.RegisterFeed(feed.NewStatic("f1", candidates("f1", "x", "y"))); err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterFeed(feed.NewStatic("f2", candidates("f2", "y", "z"))); err != nil {
		t.Fatal(err)
	}

	res, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if res.TotalNew != 3 || res.TotalDuplicate != 1 {
		t.Fatalf("new/dup = %d/%d, want 3/1", res.TotalNew, res.TotalDuplicate)
	}

	count, err := c.Store().Count(context.Background(), storage.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("record count = %d, want 3", count)
	}

	sightings, err := c.Store().GetSightings(context.Background(), "y")
	if err != nil {
		t.Fatal(err)
	}
	if len(sightings) != 2 {
		t.Fatalf("sightings for y = %d, want 2", len(sightings))
	}
	sources := map[string]bool{}
	for _, s := range sightings {
		sources[s.Source] = true
	}
	if !sources["f1"] || !sources["f2"] {
		t.Errorf("sighting sources = %v, want f1 and f2", sources)
	}
}

func TestCollectStreamYieldsOnlyNewRecords(t *testing.T) {
	c := newTestCollector(t, Options{})
	if err := c.RegisterFeed(feed.NewStatic("s", candidates("s", "k1", "k2", "k1", "k3", "k2"))); err != nil {
		t.Fatal(err)
	}

	rs := c.CollectStream(context.Background())
	var keys []string
	for rec := range rs.Records() {
		keys = append(keys, rec.NaturalKey)
	}
	res, err := rs.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}

	if len(keys) != 3 {
		t.Fatalf("streamed %v, want 3 new records", keys)
	}
	if keys[0] != "k1" || keys[1] != "k2" || keys[2] != "k3" {
		t.Errorf("streamed order = %v", keys)
	}
	if res.TotalDuplicate != 2 {
		t.Errorf("duplicates = %d, want 2", res.TotalDuplicate)
	}
}

func TestCollectParallelCollectsEverything(t *testing.T) {
	c := newTestCollector(t, Options{MaxConcurrent: 3})
	total := 0
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("feed-%d", i)
		var keys []string
		for j := 0; j < 10; j++ {
			keys = append(keys, fmt.Sprintf("%s-item-%d", name, j))
		}
		total += len(keys)
		if err := c.RegisterFeed(feed.NewStatic(name, candidates(name, keys...))); err != nil {
			t.Fatal(err)
		}
	}

	rs := c.CollectParallel(context.Background(), 3)
	seen := 0
	for range rs.Records() {
		seen++
	}
	res, err := rs.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if seen != total {
		t.Errorf("streamed %d records, want %d", seen, total)
	}
	if res.TotalNew != int64(total) || res.Status != model.StatusCompleted {
		t.Errorf("result = %+v", res)
	}
	if len(res.Feeds) != 6 {
		t.Errorf("per-feed stats = %d entries, want 6", len(res.Feeds))
	}
}

func TestCollectRunsEnrichmentOnNewRecords(t *testing.T) {
	c := newTestCollector(t, Options{})
	if err := c.RegisterFeed(feed.NewStatic("s", candidates("s", "only"))); err != nil {
		t.Fatal(err)
	}
	c.RegisterEnricher(enrich.Func{
		EnricherName: "tagger",
		Fn: func(ctx context.Context, rec *model.Record) model.EnrichmentResult {
			return model.Applied(map[string]any{"tag": "v"}, model.LayerSilver)
		},
	})

	if _, err := c.Collect(context.Background()); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	rec, err := c.Store().GetByNaturalKey(context.Background(), "only")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Layer != model.LayerSilver {
		t.Errorf("layer = %s, want silver", rec.Layer)
	}
	if rec.Content["tag"] != "v" {
		t.Errorf("enrichment missing: %v", rec.Content)
	}
}

// brokenAdapter fails on Open. Used to prove one bad feed never takes
// down the run.
type brokenAdapter struct{ name string }

func (b *brokenAdapter) Name() string                      { return b.name }
func (b *brokenAdapter) Open(ctx context.Context) error    { return fmt.Errorf("%w: connect refused", model.ErrAdapter) }
func (b *brokenAdapter) Close(ctx context.Context) error   { return nil }
func (b *brokenAdapter) Fetch(ctx context.Context) <-chan feed.Item {
	out := make(chan feed.Item)
	close(out)
	return out
}

func TestFailingAdapterIsIsolated(t *testing.T) {
	c := newTestCollector(t, Options{})
	if err := c.RegisterFeed(&brokenAdapter{name: "broken"}); err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterFeed(feed.NewStatic("healthy", candidates("healthy", "h1", "h2"))); err != nil {
		t.Fatal(err)
	}

	res, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if res.Status != model.StatusPartial {
		t.Errorf("status = %s, want partial", res.Status)
	}
	if res.Feeds["broken"].Errors != 1 {
		t.Errorf("broken errors = %d, want 1", res.Feeds["broken"].Errors)
	}
	if res.Feeds["healthy"].RecordsNew != 2 {
		t.Errorf("healthy new = %d, want 2", res.Feeds["healthy"].RecordsNew)
	}
}

func TestAllAdaptersFailingIsFailedStatus(t *testing.T) {
	c := newTestCollector(t, Options{})
	if err := c.RegisterFeed(&brokenAdapter{name: "b1"}); err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterFeed(&brokenAdapter{name: "b2"}); err != nil {
		t.Fatal(err)
	}

	res, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if res.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
}

// endlessAdapter emits distinct keys until its context is cancelled.
type endlessAdapter struct{ name string }

func (e *endlessAdapter) Name() string                    { return e.name }
func (e *endlessAdapter) Open(ctx context.Context) error  { return nil }
func (e *endlessAdapter) Close(ctx context.Context) error { return nil }
func (e *endlessAdapter) Fetch(ctx context.Context) <-chan feed.Item {
	out := make(chan feed.Item)
	go func() {
		defer close(out)
		for i := 0; ; i++ {
			c := model.NewCandidate(fmt.Sprintf("k-%d", i), e.name, model.Content{"n": i})
			select {
			case out <- feed.Item{Candidate: c}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func TestCancellationYieldsPartialResult(t *testing.T) {
	c := newTestCollector(t, Options{BufferCapacity: 8})
	if err := c.RegisterFeed(&endlessAdapter{name: "endless"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rs := c.CollectStream(ctx)

	received := 0
	for rec := range rs.Records() {
		received++
		if received == 20 {
			cancel()
		}
		_ = rec
	}
	res, err := rs.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}

	if res.Status != model.StatusPartial {
		t.Errorf("status = %s, want partial", res.Status)
	}
	if res.TotalNew < 20 {
		t.Errorf("persisted %d records before cancel, want >= 20", res.TotalNew)
	}

	// Everything streamed was durably stored before cancellation.
	count, err := c.Store().Count(context.Background(), storage.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if count < 20 {
		t.Errorf("stored count = %d, want >= 20", count)
	}
}

func TestCancelledRunResumesWithoutSkipping(t *testing.T) {
	const total = 40
	cpStore := checkpoint.NewMemory()
	store := storage.NewMemory()

	keys := make([]string, total)
	for i := range keys {
		keys[i] = fmt.Sprintf("item-%02d", i)
	}

	newRun := func() *Collector {
		mgr := checkpoint.NewManager(cpStore, checkpoint.ManagerConfig{IntervalRecords: 1})
		c := newTestCollector(t, Options{Store: store, Checkpoints: mgr, BufferCapacity: 1})
		if err := c.RegisterFeed(feed.NewStatic("replay", candidates("replay", keys...))); err != nil {
			t.Fatal(err)
		}
		return c
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rs := newRun().CollectStream(ctx)
	received := 0
	for range rs.Records() {
		received++
		if received == 10 {
			cancel()
		}
	}
	if _, err := rs.Result(); err != nil {
		t.Fatalf("Result: %v", err)
	}

	// A fresh collector over the same checkpoint store picks up where the
	// cancelled run left off. A cursor saved past an undelivered item
	// would drop that candidate here.
	res, err := newRun().Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if res.Status != model.StatusCompleted {
		t.Errorf("resumed status = %s, want completed", res.Status)
	}

	count, err := store.Count(context.Background(), storage.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if count != total {
		t.Errorf("records after resume = %d, want %d", count, total)
	}
	for _, k := range keys {
		if _, err := store.GetByNaturalKey(context.Background(), k); err != nil {
			t.Errorf("candidate %s lost across resume: %v", k, err)
		}
	}
}

func TestCheckpointResumeSkipsProcessedItems(t *testing.T) {
	cpStore := checkpoint.NewMemory()
	store := storage.NewMemory()

	run := func() *model.CollectionResult {
		mgr := checkpoint.NewManager(cpStore, checkpoint.ManagerConfig{IntervalRecords: 1})
		c := newTestCollector(t, Options{Store: store, Checkpoints: mgr})
		if err := c.RegisterFeed(feed.NewStatic("s", candidates("s", "a", "b", "c"))); err != nil {
			t.Fatal(err)
		}
		res, err := c.Collect(context.Background())
		if err != nil {
			t.Fatalf("Collect: %v", err)
		}
		return res
	}

	first := run()
	if first.TotalProcessed != 3 || first.TotalNew != 3 {
		t.Fatalf("first run = %+v", first)
	}

	cp, err := cpStore.Load(context.Background(), "s")
	if err != nil {
		t.Fatalf("checkpoint load: %v", err)
	}
	if cp.Cursor != "3" {
		t.Errorf("cursor = %q, want 3", cp.Cursor)
	}

	// A fresh collector over the same checkpoint store resumes past the
	// already-processed items and touches nothing.
	second := run()
	if second.TotalProcessed != 0 {
		t.Errorf("second run processed %d, want 0", second.TotalProcessed)
	}

	count, err := store.Count(context.Background(), storage.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("record count = %d, want 3", count)
	}
}

func TestCollectPublishesLifecycleEvents(t *testing.T) {
	b := bus.New(64)
	defer b.Close()

	var mu sync.Mutex
	seen := map[bus.Type]int{}
	unsub, err := b.SubscribeAll(func(ctx context.Context, ev bus.Event) error {
		mu.Lock()
		seen[ev.Type]++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	c := newTestCollector(t, Options{Bus: b})
	if err := c.RegisterFeed(feed.NewStatic("s", candidates("s", "a", "a"))); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Collect(context.Background()); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	deadline := time.After(2 * time.Second)
	want := []bus.Type{
		bus.CollectionStarted, bus.AdapterStarted, bus.RecordDiscovered,
		bus.RecordDuplicate, bus.AdapterCompleted, bus.CollectionCompleted,
	}
	for {
		mu.Lock()
		missing := ""
		for _, typ := range want {
			if seen[typ] == 0 {
				missing = string(typ)
				break
			}
		}
		mu.Unlock()
		if missing == "" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("event %s never observed; seen=%v", missing, seen)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPipelineBuilderOverRawCandidates(t *testing.T) {
	c := newTestCollector(t, Options{})
	if err := c.RegisterFeed(feed.NewStatic("p1", candidates("p1", "a", "b", "c"))); err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterFeed(feed.NewStatic("p2", candidates("p2", "d", "e"))); err != nil {
		t.Fatal(err)
	}

	got, err := c.Pipeline(context.Background()).
		Filter(func(cand model.RecordCandidate) bool { return cand.NaturalKey != "b" }).
		Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("pipeline yielded %d candidates, want 4", len(got))
	}

	// Pipeline bypasses dedup and storage entirely.
	count, err := c.Store().Count(context.Background(), storage.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("store count = %d, want 0", count)
	}
}
