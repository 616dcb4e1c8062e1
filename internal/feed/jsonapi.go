// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/feedspine/feedspine/internal/model"
	"github.com/feedspine/feedspine/internal/resource"
)

// JSONAPIConfig configures one paginated JSON endpoint.
type JSONAPIConfig struct {
	Name    string            `koanf:"name"`
	URL     string            `koanf:"url"`
	Headers map[string]string `koanf:"headers"`
	Params  map[string]string `koanf:"params"`
	// KeyField selects the natural key from each object. Required.
	KeyField string `koanf:"key_field"`
	// PublishedField optionally selects an RFC 3339 timestamp field.
	PublishedField string `koanf:"published_field"`
	// RecordType tags produced candidates. Default "item".
	RecordType string `koanf:"record_type"`
	// PageParam is the query parameter carrying the page number.
	// Default "page"; pages start at 1. Pagination stops on the first
	// empty page or after MaxPages.
	PageParam string `koanf:"page_param"`
	MaxPages  int    `koanf:"max_pages"`
}

// JSONAPI pulls arrays of JSON objects page by page and emits one
// candidate per object. It resumes from the page number it last
// completed.
type JSONAPI struct {
	cfg  JSONAPIConfig
	pool *resource.Pool

	mu       sync.Mutex
	nextPage int
}

var (
	_ Adapter      = (*JSONAPI)(nil)
	_ Resumable    = (*JSONAPI)(nil)
	_ Checkpointer = (*JSONAPI)(nil)
)

// NewJSONAPI creates a JSON API adapter over the shared pool.
func NewJSONAPI(cfg JSONAPIConfig, pool *resource.Pool) (*JSONAPI, error) {
	if cfg.Name == "" || cfg.URL == "" {
		return nil, fmt.Errorf("%w: jsonapi adapter needs name and url", model.ErrConfig)
	}
	if cfg.KeyField == "" {
		return nil, fmt.Errorf("%w: jsonapi adapter %s needs key_field", model.ErrConfig, cfg.Name)
	}
	if cfg.RecordType == "" {
		cfg.RecordType = "item"
	}
	if cfg.PageParam == "" {
		cfg.PageParam = "page"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1000
	}
	return &JSONAPI{cfg: cfg, pool: pool, nextPage: 1}, nil
}

// Name implements Adapter.
func (j *JSONAPI) Name() string { return j.cfg.Name }

// Open implements Adapter.
func (j *JSONAPI) Open(ctx context.Context) error { return nil }

// Close implements Adapter.
func (j *JSONAPI) Close(ctx context.Context) error { return nil }

// Fetch implements Adapter.
func (j *JSONAPI) Fetch(ctx context.Context) <-chan Item {
	out := make(chan Item)
	go func() {
		defer close(out)
		for {
			j.mu.Lock()
			page := j.nextPage
			j.mu.Unlock()
			if page > j.cfg.MaxPages {
				return
			}

			objects, err := j.fetchPage(ctx, page)
			if err != nil {
				emit(ctx, out, Item{Err: fmt.Errorf("%w: %s page %d: %v", model.ErrAdapter, j.cfg.Name, page, err)})
				return
			}
			if len(objects) == 0 {
				return
			}

			for _, obj := range objects {
				c, err := j.toCandidate(obj)
				if err != nil {
					if !emit(ctx, out, Item{Err: err}) {
						return
					}
					continue
				}
				if !emit(ctx, out, Item{Candidate: c}) {
					return
				}
			}

			j.mu.Lock()
			j.nextPage = page + 1
			j.mu.Unlock()
		}
	}()
	return out
}

func (j *JSONAPI) fetchPage(ctx context.Context, page int) ([]map[string]any, error) {
	u, err := url.Parse(j.cfg.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	for k, v := range j.cfg.Params {
		q.Set(k, v)
	}
	q.Set(j.cfg.PageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "feedspine/1.0")
	for k, v := range j.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := j.pool.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	var objects []map[string]any
	if err := json.Unmarshal(body, &objects); err != nil {
		// Some APIs wrap the array in {"items": [...]}.
		var wrapper struct {
			Items []map[string]any `json:"items"`
		}
		if werr := json.Unmarshal(body, &wrapper); werr != nil || wrapper.Items == nil {
			return nil, fmt.Errorf("decode page: %w", err)
		}
		objects = wrapper.Items
	}
	return objects, nil
}

func (j *JSONAPI) toCandidate(obj map[string]any) (model.RecordCandidate, error) {
	rawKey, ok := obj[j.cfg.KeyField]
	if !ok {
		return model.RecordCandidate{}, fmt.Errorf("%w: object missing key field %q", model.ErrInvalidCandidate, j.cfg.KeyField)
	}
	key := fmt.Sprintf("%v", rawKey)
	c := model.NewCandidate(key, j.cfg.Name, model.Content(obj)).WithRecordType(j.cfg.RecordType)
	if j.cfg.PublishedField != "" {
		if raw, ok := obj[j.cfg.PublishedField].(string); ok {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				c = c.WithPublishedAt(ts)
			}
		}
	}
	return c, nil
}

// Resume implements Resumable. The cursor is the next page number.
func (j *JSONAPI) Resume(cp model.Checkpoint) error {
	page, err := strconv.Atoi(cp.Cursor)
	if err != nil || page < 1 {
		return fmt.Errorf("%w: jsonapi cursor %q", model.ErrConfig, cp.Cursor)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextPage = page
	return nil
}

// CurrentCheckpoint implements Checkpointer.
func (j *JSONAPI) CurrentCheckpoint() (model.Checkpoint, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return model.Checkpoint{
		FeedName: j.cfg.Name,
		Cursor:   strconv.Itoa(j.nextPage),
	}, true
}
