// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package feed

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/feedspine/feedspine/internal/model"
)

// DirConfig configures a filesystem-listing feed.
type DirConfig struct {
	Name string `koanf:"name"`
	// Path is the directory to walk. Required.
	Path string `koanf:"path"`
	// Pattern optionally filters file names (filepath.Match syntax).
	Pattern string `koanf:"pattern"`
	// RecordType tags produced candidates. Default "file".
	RecordType string `koanf:"record_type"`
}

// Dir walks a directory tree in lexical order and emits one candidate
// per regular file. The natural key is the path relative to the root,
// which doubles as the resume cursor: a resumed run skips every path at
// or before the cursor.
type Dir struct {
	cfg DirConfig

	mu     sync.Mutex
	cursor string
}

var (
	_ Adapter      = (*Dir)(nil)
	_ Resumable    = (*Dir)(nil)
	_ Checkpointer = (*Dir)(nil)
)

// NewDir creates a directory-listing adapter.
func NewDir(cfg DirConfig) (*Dir, error) {
	if cfg.Name == "" || cfg.Path == "" {
		return nil, fmt.Errorf("%w: dir adapter needs name and path", model.ErrConfig)
	}
	if cfg.Pattern != "" {
		if _, err := filepath.Match(cfg.Pattern, "probe"); err != nil {
			return nil, fmt.Errorf("%w: dir adapter %s pattern %q: %v", model.ErrConfig, cfg.Name, cfg.Pattern, err)
		}
	}
	if cfg.RecordType == "" {
		cfg.RecordType = "file"
	}
	return &Dir{cfg: cfg}, nil
}

// Name implements Adapter.
func (d *Dir) Name() string { return d.cfg.Name }

// Open implements Adapter.
func (d *Dir) Open(ctx context.Context) error { return nil }

// Close implements Adapter.
func (d *Dir) Close(ctx context.Context) error { return nil }

// Fetch implements Adapter.
func (d *Dir) Fetch(ctx context.Context) <-chan Item {
	out := make(chan Item)
	go func() {
		defer close(out)

		paths, err := d.list()
		if err != nil {
			emit(ctx, out, Item{Err: fmt.Errorf("%w: %s: %v", model.ErrAdapter, d.cfg.Name, err)})
			return
		}

		d.mu.Lock()
		cursor := d.cursor
		d.mu.Unlock()

		for _, rel := range paths {
			if cursor != "" && rel <= cursor {
				continue
			}
			c, err := d.toCandidate(rel)
			if err != nil {
				if !emit(ctx, out, Item{Err: err}) {
					return
				}
				continue
			}
			if !emit(ctx, out, Item{Candidate: c}) {
				return
			}
			d.mu.Lock()
			d.cursor = rel
			d.mu.Unlock()
		}
	}()
	return out
}

// list returns matching relative paths in lexical order.
func (d *Dir) list() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(d.cfg.Path, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if d.cfg.Pattern != "" {
			if ok, _ := filepath.Match(d.cfg.Pattern, entry.Name()); !ok {
				return nil
			}
		}
		rel, err := filepath.Rel(d.cfg.Path, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func (d *Dir) toCandidate(rel string) (model.RecordCandidate, error) {
	info, err := fs.Stat(os.DirFS(d.cfg.Path), filepath.ToSlash(rel))
	if err != nil {
		return model.RecordCandidate{}, fmt.Errorf("%w: stat %s: %v", model.ErrAdapter, rel, err)
	}
	content := model.Content{
		"path":     rel,
		"size":     info.Size(),
		"modified": info.ModTime().UTC(),
	}
	c := model.NewCandidate(rel, d.cfg.Name, content).
		WithRecordType(d.cfg.RecordType).
		WithPublishedAt(info.ModTime())
	return c, nil
}

// Resume implements Resumable. The cursor is the last emitted relative
// path; any string is acceptable since skipping is a comparison.
func (d *Dir) Resume(cp model.Checkpoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cursor = cp.Cursor
	return nil
}

// CurrentCheckpoint implements Checkpointer.
func (d *Dir) CurrentCheckpoint() (model.Checkpoint, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursor == "" {
		return model.Checkpoint{}, false
	}
	return model.Checkpoint{FeedName: d.cfg.Name, Cursor: d.cursor}, true
}
