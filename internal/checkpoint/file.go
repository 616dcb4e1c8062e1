// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/feedspine/feedspine/internal/model"
)

// File is the filesystem Store: one JSON document per feed, written with
// write-to-temp, fsync, rename, then directory fsync so a crash never
// leaves a torn checkpoint.
type File struct {
	dir string
	// atomicWrite disabled skips the temp-file dance (faster, only safe
	// on filesystems where a torn checkpoint is acceptable).
	atomicWrite bool
	mu          sync.Mutex
}

var _ Store = (*File)(nil)

// NewFile creates a filesystem checkpoint store rooted at dir.
func NewFile(dir string, atomicWrite bool) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: checkpoint directory required", model.ErrConfig)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", dir, err)
	}
	return &File{dir: dir, atomicWrite: atomicWrite}, nil
}

// Save implements Store.
func (f *File) Save(ctx context.Context, cp model.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal checkpoint: %v", model.ErrStorage, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.path(cp.FeedName)
	if !f.atomicWrite {
		if err := os.WriteFile(path, data, 0o640); err != nil {
			return fmt.Errorf("%w: write checkpoint: %v", model.ErrStorage, err)
		}
		return nil
	}

	tmp, err := os.CreateTemp(f.dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("%w: create temp checkpoint: %v", model.ErrStorage, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write temp checkpoint: %v", model.ErrStorage, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync temp checkpoint: %v", model.ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp checkpoint: %v", model.ErrStorage, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: rename checkpoint: %v", model.ErrStorage, err)
	}
	return f.syncDir()
}

// Load implements Store.
func (f *File) Load(ctx context.Context, feedName string) (*model.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(feedName))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: checkpoint for %s", model.ErrNotFound, feedName)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read checkpoint: %v", model.ErrStorage, err)
	}
	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: decode checkpoint for %s: %v", model.ErrStorage, feedName, err)
	}
	return &cp, nil
}

// Delete implements Store. Deleting an absent checkpoint is a no-op.
func (f *File) Delete(ctx context.Context, feedName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(feedName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: delete checkpoint: %v", model.ErrStorage, err)
	}
	return nil
}

// Close implements Store.
func (f *File) Close() error {
	return nil
}

// path maps a feed name to its checkpoint file, replacing separators so
// adversarial feed names cannot escape the directory.
func (f *File) path(feedName string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, feedName)
	safe = strings.ReplaceAll(safe, "..", "_")
	return filepath.Join(f.dir, safe+".checkpoint.json")
}

// syncDir fsyncs the directory so the rename itself is durable.
func (f *File) syncDir() error {
	d, err := os.Open(f.dir)
	if err != nil {
		return fmt.Errorf("%w: open checkpoint directory: %v", model.ErrStorage, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("%w: sync checkpoint directory: %v", model.ErrStorage, err)
	}
	return nil
}
