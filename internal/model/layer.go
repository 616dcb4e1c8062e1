// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

// Package model defines the core value types of the capture engine:
// candidates, records, sightings, layers, checkpoints, and collection
// results. All types here are immutable values with validators; mutation
// happens only through the engine and storage layers.
package model

import "fmt"

// Layer is a data-quality tier. Layers form a strict total order
// Bronze < Silver < Gold; records only ever move upward.
type Layer int

const (
	// LayerBronze is the raw capture tier. Every record starts here.
	LayerBronze Layer = iota
	// LayerSilver is the cleaned tier.
	LayerSilver
	// LayerGold is the enriched tier.
	LayerGold
)

// String returns the lowercase tier name used in storage and logs.
func (l Layer) String() string {
	switch l {
	case LayerBronze:
		return "bronze"
	case LayerSilver:
		return "silver"
	case LayerGold:
		return "gold"
	default:
		return fmt.Sprintf("layer(%d)", int(l))
	}
}

// Valid reports whether l is one of the three defined tiers.
func (l Layer) Valid() bool {
	return l >= LayerBronze && l <= LayerGold
}

// Above reports whether l is strictly higher than other.
func (l Layer) Above(other Layer) bool {
	return l > other
}

// ParseLayer converts a stored tier name back to a Layer.
func ParseLayer(s string) (Layer, error) {
	switch s {
	case "bronze":
		return LayerBronze, nil
	case "silver":
		return LayerSilver, nil
	case "gold":
		return LayerGold, nil
	default:
		return LayerBronze, fmt.Errorf("%w: unknown layer %q", ErrInvalidCandidate, s)
	}
}

// MarshalText implements encoding.TextMarshaler so layers serialize as
// their names in JSON payloads and checkpoint files.
func (l Layer) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid layer %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Layer) UnmarshalText(text []byte) error {
	parsed, err := ParseLayer(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
