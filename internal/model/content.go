// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package model

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
)

// Content is the open field bag attached to candidates and records.
// Values are JSON-shaped: string, bool, number, time.Time, nil, []any,
// or a nested map[string]any.
type Content map[string]any

// Clone returns a deep copy of the content bag. Nested maps and slices
// are copied; leaf values are shared (they are immutable JSON scalars).
func (c Content) Clone() Content {
	if c == nil {
		return nil
	}
	out := make(Content, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, nested := range val {
			m[k] = cloneValue(nested)
		}
		return m
	case Content:
		return map[string]any(val.Clone())
	case []any:
		s := make([]any, len(val))
		for i, nested := range val {
			s[i] = cloneValue(nested)
		}
		return s
	default:
		return v
	}
}

// Merge returns a copy of c with overrides applied as a shallow override:
// a colliding top-level key takes the override's value wholesale.
func (c Content) Merge(overrides map[string]any) Content {
	out := c.Clone()
	if out == nil {
		out = make(Content, len(overrides))
	}
	for k, v := range overrides {
		out[k] = cloneValue(v)
	}
	return out
}

// Hash computes the content fingerprint: an xxhash over the canonical
// serialization. Stable under field-order permutation because map keys
// are sorted recursively before hashing.
func (c Content) Hash() (string, error) {
	if len(c) == 0 {
		return "", nil
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, map[string]any(c)); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(buf.Bytes())), nil
}

// writeCanonical serializes v as JSON with recursively sorted object keys.
func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyJSON)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case Content:
		return writeCanonical(buf, map[string]any(val))
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case time.Time:
		ts, err := json.Marshal(val.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		buf.Write(ts)
		return nil
	default:
		leaf, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("%w: unserializable content value: %v", ErrInvalidCandidate, err)
		}
		buf.Write(leaf)
		return nil
	}
}

// MatchesSubset reports whether every constraint key is present in c with
// an equal value. Used by enricher content predicates. Comparison goes
// through canonical serialization so nested maps compare by value.
func (c Content) MatchesSubset(constraints map[string]any) bool {
	for k, want := range constraints {
		got, ok := c[k]
		if !ok {
			return false
		}
		if !canonicalEqual(got, want) {
			return false
		}
	}
	return true
}

func canonicalEqual(a, b any) bool {
	var bufA, bufB bytes.Buffer
	if err := writeCanonical(&bufA, a); err != nil {
		return false
	}
	if err := writeCanonical(&bufB, b); err != nil {
		return false
	}
	return bytes.Equal(bufA.Bytes(), bufB.Bytes())
}
