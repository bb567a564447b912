// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package peerid defines the 16-byte peer identifier used throughout the
// redundancy core. A peer's identifier is minted once, at process start,
// by New (cmd/tracker's run calls it before creating the transport; the
// transport does not assign ids) and is never reused within a run.
package peerid

import (
	"bytes"
	"encoding/hex"

	"github.com/google/uuid"
)

// Size is the fixed width of a PeerId in bytes.
const Size = 16

// ID is an opaque, totally-ordered peer identifier.
type ID [Size]byte

// Null is the reserved all-ones sentinel meaning "empty slot" or "no vote".
var Null = func() ID {
	var id ID
	for i := range id {
		id[i] = 0xFF
	}
	return id
}()

// New mints a fresh, globally-unique peer identifier. uuid.UUID is already
// a [16]byte, so no folding is required to fit the spec's PeerId shape.
func New() ID {
	return ID(uuid.New())
}

// IsNull reports whether id is the NullId sentinel.
func (id ID) IsNull() bool {
	return id == Null
}

// Less implements byte-lexicographic ordering with Null sorting last (+inf).
func (id ID) Less(other ID) bool {
	if id.IsNull() {
		return false
	}
	if other.IsNull() {
		return true
	}
	return bytes.Compare(id[:], other[:]) < 0
}

// Equal reports whether id and other are byte-identical.
func (id ID) Equal(other ID) bool {
	return id == other
}

func (id ID) String() string {
	if id.IsNull() {
		return "null"
	}
	return hex.EncodeToString(id[:])
}

// FromBytes copies a 16-byte slice into an ID, as decoded off the wire.
func FromBytes(b []byte) ID {
	var id ID
	copy(id[:], b)
	return id
}

// Bytes returns the wire representation of id.
func (id ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}
