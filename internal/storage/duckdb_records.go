// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/feedspine/feedspine/internal/model"
)

const recordColumns = `record_id, natural_key, published_at, content, metadata,
	content_hash, layer, captured_at, updated_at, first_seen_at, last_seen_at`

// Insert implements Store.
func (db *DuckDB) Insert(ctx context.Context, rec *model.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	mu := db.lockKey(rec.NaturalKey)
	defer mu.Unlock()

	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM records WHERE natural_key = ?)`, rec.NaturalKey).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: check natural key: %v", model.ErrStorage, err)
	}
	if exists {
		return fmt.Errorf("%w: %s", model.ErrDuplicateNaturalKey, rec.NaturalKey)
	}

	contentJSON, metadataJSON, err := marshalRecordBlobs(rec)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RecordID, rec.NaturalKey, nullableTime(rec.PublishedAt), contentJSON, metadataJSON,
		nullableString(rec.ContentHash), rec.Layer.String(),
		rec.CapturedAt.UTC(), rec.UpdatedAt.UTC(), rec.FirstSeenAt.UTC(), rec.LastSeenAt.UTC())
	if err != nil {
		// The unique index is the backstop for races across processes.
		if strings.Contains(err.Error(), "Duplicate key") || strings.Contains(err.Error(), "Constraint") {
			return fmt.Errorf("%w: %s", model.ErrDuplicateNaturalKey, rec.NaturalKey)
		}
		return fmt.Errorf("%w: insert record: %v", model.ErrStorage, err)
	}
	return nil
}

// UpsertLastSeen implements Store. last_seen_at and updated_at never move
// backwards.
func (db *DuckDB) UpsertLastSeen(ctx context.Context, recordID string, seenAt time.Time, contentHash string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	seenAt = seenAt.UTC()
	var res sql.Result
	var err error
	if contentHash != "" {
		res, err = db.conn.ExecContext(ctx,
			`UPDATE records SET
				last_seen_at = CASE WHEN ? > last_seen_at THEN ? ELSE last_seen_at END,
				updated_at   = CASE WHEN ? > updated_at THEN ? ELSE updated_at END,
				content_hash = ?
			WHERE record_id = ?`,
			seenAt, seenAt, seenAt, seenAt, contentHash, recordID)
	} else {
		res, err = db.conn.ExecContext(ctx,
			`UPDATE records SET
				last_seen_at = CASE WHEN ? > last_seen_at THEN ? ELSE last_seen_at END,
				updated_at   = CASE WHEN ? > updated_at THEN ? ELSE updated_at END
			WHERE record_id = ?`,
			seenAt, seenAt, seenAt, seenAt, recordID)
	}
	if err != nil {
		return fmt.Errorf("%w: upsert last seen: %v", model.ErrStorage, err)
	}
	return requireAffected(res, recordID)
}

// UpdateLayer implements Store. The layer comparison and the write happen
// under the record's key lock so concurrent promotions cannot leapfrog.
func (db *DuckDB) UpdateLayer(ctx context.Context, recordID string, newLayer model.Layer, mergedContent model.Content, updatedAt time.Time) error {
	if !newLayer.Valid() {
		return fmt.Errorf("%w: layer %d", model.ErrInvalidPromotion, int(newLayer))
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	current, err := db.Get(ctx, recordID)
	if err != nil {
		return err
	}
	mu := db.lockKey(current.NaturalKey)
	defer mu.Unlock()

	// Re-read under the lock; another promotion may have landed.
	current, err = db.Get(ctx, recordID)
	if err != nil {
		return err
	}
	if !newLayer.Above(current.Layer) {
		return fmt.Errorf("%w: %s -> %s on record %s", model.ErrInvalidPromotion, current.Layer, newLayer, recordID)
	}

	contentJSON, err := json.Marshal(mergedContent)
	if err != nil {
		return fmt.Errorf("%w: marshal content: %v", model.ErrStorage, err)
	}
	updatedAt = updatedAt.UTC()
	if updatedAt.Before(current.UpdatedAt) {
		updatedAt = current.UpdatedAt
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE records SET layer = ?, content = ?, updated_at = ? WHERE record_id = ?`,
		newLayer.String(), string(contentJSON), updatedAt, recordID)
	if err != nil {
		return fmt.Errorf("%w: update layer: %v", model.ErrStorage, err)
	}
	return requireAffected(res, recordID)
}

// Get implements Store.
func (db *DuckDB) Get(ctx context.Context, recordID string) (*model.Record, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE record_id = ?`, recordID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: record %s", model.ErrNotFound, recordID)
	}
	return rec, err
}

// GetByNaturalKey implements Store.
func (db *DuckDB) GetByNaturalKey(ctx context.Context, naturalKey string) (*model.Record, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	key := model.NormalizeKey(naturalKey)
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE natural_key = ?`, key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: natural key %s", model.ErrNotFound, key)
	}
	return rec, err
}

// Exists implements Store.
func (db *DuckDB) Exists(ctx context.Context, naturalKey string) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM records WHERE natural_key = ?)`,
		model.NormalizeKey(naturalKey)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: exists: %v", model.ErrStorage, err)
	}
	return exists, nil
}

// Delete implements Store. Sighting history for the key is retained.
func (db *DuckDB) Delete(ctx context.Context, recordID string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `DELETE FROM records WHERE record_id = ?`, recordID)
	if err != nil {
		return fmt.Errorf("%w: delete record: %v", model.ErrStorage, err)
	}
	return requireAffected(res, recordID)
}

// Query implements Store.
func (db *DuckDB) Query(ctx context.Context, f Filter) ([]*model.Record, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	where, args := buildWhereClause(f)
	limit, offset := normalizePagination(f)
	query := `SELECT ` + recordColumns + ` FROM records` + where +
		` ORDER BY ` + orderColumn(f.OrderBy) + ` LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query records: %v", model.ErrStorage, err)
	}
	defer rows.Close()

	out := make([]*model.Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate records: %v", model.ErrStorage, err)
	}
	return out, nil
}

// Count implements Store.
func (db *DuckDB) Count(ctx context.Context, f Filter) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	where, args := buildWhereClause(f)
	var n int64
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count records: %v", model.ErrStorage, err)
	}
	return n, nil
}

// buildWhereClause assembles the WHERE fragment and argument list for a
// filter. Returns "" when the filter is empty.
func buildWhereClause(f Filter) (string, []any) {
	conds := make([]string, 0, 6)
	args := make([]any, 0, 6)

	if f.Source != "" {
		conds = append(conds, `json_extract_string(metadata, '$.source') = ?`)
		args = append(args, f.Source)
	}
	if f.RecordType != "" {
		conds = append(conds, `json_extract_string(metadata, '$.record_type') = ?`)
		args = append(args, f.RecordType)
	}
	if f.Layer != nil {
		conds = append(conds, `layer = ?`)
		args = append(args, f.Layer.String())
	}
	if f.PublishedAfter != nil {
		conds = append(conds, `published_at > ?`)
		args = append(args, f.PublishedAfter.UTC())
	}
	if f.PublishedBefore != nil {
		conds = append(conds, `published_at < ?`)
		args = append(args, f.PublishedBefore.UTC())
	}
	if f.CapturedAfter != nil {
		conds = append(conds, `captured_at > ?`)
		args = append(args, f.CapturedAfter.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderColumn(orderBy string) string {
	switch orderBy {
	case "captured_at", "published_at":
		return orderBy
	default:
		return "record_id"
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.Record, error) {
	var (
		rec          model.Record
		publishedAt  sql.NullTime
		contentJSON  sql.NullString
		metadataJSON string
		contentHash  sql.NullString
		layerName    string
	)
	err := row.Scan(&rec.RecordID, &rec.NaturalKey, &publishedAt, &contentJSON, &metadataJSON,
		&contentHash, &layerName, &rec.CapturedAt, &rec.UpdatedAt, &rec.FirstSeenAt, &rec.LastSeenAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scan record: %v", model.ErrStorage, err)
	}

	if publishedAt.Valid {
		rec.PublishedAt = publishedAt.Time.UTC()
	}
	if contentJSON.Valid && contentJSON.String != "" {
		if err := json.Unmarshal([]byte(contentJSON.String), &rec.Content); err != nil {
			return nil, fmt.Errorf("%w: decode content for %s: %v", model.ErrStorage, rec.RecordID, err)
		}
	}
	if err := json.Unmarshal([]byte(metadataJSON), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("%w: decode metadata for %s: %v", model.ErrStorage, rec.RecordID, err)
	}
	rec.ContentHash = contentHash.String

	layer, err := model.ParseLayer(layerName)
	if err != nil {
		return nil, fmt.Errorf("%w: record %s: %v", model.ErrStorage, rec.RecordID, err)
	}
	rec.Layer = layer
	rec.CapturedAt = rec.CapturedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	rec.FirstSeenAt = rec.FirstSeenAt.UTC()
	rec.LastSeenAt = rec.LastSeenAt.UTC()
	return &rec, nil
}

func marshalRecordBlobs(rec *model.Record) (content any, metadata string, err error) {
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, "", fmt.Errorf("%w: marshal metadata: %v", model.ErrStorage, err)
	}
	if rec.Content == nil {
		return nil, string(metadataJSON), nil
	}
	contentJSON, err := json.Marshal(rec.Content)
	if err != nil {
		return nil, "", fmt.Errorf("%w: marshal content: %v", model.ErrStorage, err)
	}
	return string(contentJSON), string(metadataJSON), nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireAffected(res sql.Result, recordID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", model.ErrStorage, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: record %s", model.ErrNotFound, recordID)
	}
	return nil
}
