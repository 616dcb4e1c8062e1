// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package checkpoint

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/feedspine/feedspine/internal/logging"
	"github.com/feedspine/feedspine/internal/model"
)

const badgerKeyPrefix = "checkpoint/"

// Badger is the embedded-KV Store. It trades the file store's
// one-file-per-feed layout for a single write-ahead-logged database,
// which holds up better with many feeds checkpointing concurrently.
type Badger struct {
	db *badger.DB
}

var _ Store = (*Badger)(nil)

// NewBadger opens (or creates) a Badger-backed checkpoint store at dir.
func NewBadger(dir string) (*Badger, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: checkpoint directory required", model.ErrConfig)
	}
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{}).
		WithCompactL0OnClose(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger at %s: %v", model.ErrStorage, dir, err)
	}
	logging.Debug().Str("dir", dir).Msg("badger checkpoint store opened")
	return &Badger{db: db}, nil
}

// Save implements Store. Badger transactions give the atomic-replace
// guarantee for free.
func (b *Badger) Save(ctx context.Context, cp model.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("%w: marshal checkpoint: %v", model.ErrStorage, err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+cp.FeedName), data)
	})
	if err != nil {
		return fmt.Errorf("%w: save checkpoint for %s: %v", model.ErrStorage, cp.FeedName, err)
	}
	return nil
}

// Load implements Store.
func (b *Badger) Load(ctx context.Context, feedName string) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + feedName))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: checkpoint for %s", model.ErrNotFound, feedName)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load checkpoint for %s: %v", model.ErrStorage, feedName, err)
	}
	return &cp, nil
}

// Delete implements Store. Deleting an absent checkpoint is a no-op.
func (b *Badger) Delete(ctx context.Context, feedName string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerKeyPrefix + feedName))
	})
	if err != nil {
		return fmt.Errorf("%w: delete checkpoint for %s: %v", model.ErrStorage, feedName, err)
	}
	return nil
}

// Close implements Store.
func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes Badger's internal logging through zerolog at
// reduced severity; Badger is chatty at its INFO level.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logging.Error().Msgf("badger: "+format, args...)
}

func (badgerLogger) Warningf(format string, args ...any) {
	logging.Warn().Msgf("badger: "+format, args...)
}

func (badgerLogger) Infof(format string, args ...any) {
	logging.Debug().Msgf("badger: "+format, args...)
}

func (badgerLogger) Debugf(format string, args ...any) {
	logging.Trace().Msgf("badger: "+format, args...)
}
