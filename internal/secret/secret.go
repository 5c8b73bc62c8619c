// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-smartcard.
//
// go-smartcard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package secret provides zeroizable storage for card reference data:
// PINs, PUKs, and management keys. Material is copied on construction,
// wiped with a constant-time store that survives compiler optimization,
// and compared without leaking timing.
package secret

import (
	"crypto/subtle"
	"errors"
)

// ErrCleared is returned when material is requested from a buffer that
// has already been wiped.
var ErrCleared = errors.New("secret: buffer has been cleared")

// Wipe zeroes b in place. The subtle copy keeps the compiler from
// treating the stores as dead.
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	for i := range b {
		b[i] = 0
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}

// Equal compares two byte strings in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Buffer owns one piece of sensitive material.
type Buffer struct {
	data []byte
}

// New copies b into a fresh Buffer. The caller keeps responsibility for
// wiping its own copy.
func New(b []byte) *Buffer {
	data := make([]byte, len(b))
	copy(data, b)
	return &Buffer{data: data}
}

// FromString copies s into a fresh Buffer.
func FromString(s string) *Buffer {
	return &Buffer{data: []byte(s)}
}

// Bytes returns the backing slice, not a copy, so the material has one
// home and Clear reaches every byte. Callers must not retain the slice
// past Clear.
func (b *Buffer) Bytes() ([]byte, error) {
	if b.data == nil {
		return nil, ErrCleared
	}
	return b.data, nil
}

// Len returns the material length, 0 once cleared.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Clear wipes the material. Irreversible.
func (b *Buffer) Clear() {
	Wipe(b.data)
	b.data = nil
}

// Cleared reports whether the buffer has been wiped.
func (b *Buffer) Cleared() bool {
	return b.data == nil
}
