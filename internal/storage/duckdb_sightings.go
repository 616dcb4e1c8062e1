// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/feedspine/feedspine/internal/model"
)

// RecordSighting implements Store. The first-sighting decision and the
// append run under the key's mutex, so concurrent calls for the same key
// settle in a total order and exactly one returns true.
func (db *DuckDB) RecordSighting(ctx context.Context, s model.Sighting) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, err
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	mu := db.lockKey(s.NaturalKey)
	defer mu.Unlock()

	var count int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sightings WHERE natural_key = ?`, s.NaturalKey).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: count sightings: %v", model.ErrStorage, err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO sightings (sighting_id, natural_key, source, seen_at, seq, is_new, record_id, content_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.SightingID, s.NaturalKey, s.Source, s.SeenAt.UTC(), db.nextSeq(),
		s.IsNew, s.RecordID, nullableString(s.ContentHash))
	if err != nil {
		return false, fmt.Errorf("%w: insert sighting: %v", model.ErrStorage, err)
	}
	return count == 0, nil
}

// GetSightings implements Store. Ascending seen_at, append order on ties.
func (db *DuckDB) GetSightings(ctx context.Context, naturalKey string) ([]model.Sighting, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	key := model.NormalizeKey(naturalKey)
	rows, err := db.conn.QueryContext(ctx,
		`SELECT sighting_id, natural_key, source, seen_at, is_new, record_id, content_hash
		 FROM sightings WHERE natural_key = ? ORDER BY seen_at ASC, seq ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("%w: query sightings: %v", model.ErrStorage, err)
	}
	defer rows.Close()

	out := make([]model.Sighting, 0)
	for rows.Next() {
		var (
			s    model.Sighting
			hash sql.NullString
		)
		if err := rows.Scan(&s.SightingID, &s.NaturalKey, &s.Source, &s.SeenAt, &s.IsNew, &s.RecordID, &hash); err != nil {
			return nil, fmt.Errorf("%w: scan sighting: %v", model.ErrStorage, err)
		}
		s.SeenAt = s.SeenAt.UTC()
		s.ContentHash = hash.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate sightings: %v", model.ErrStorage, err)
	}
	return out, nil
}
