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

package tlv

import "errors"

var (
	// ErrMalformed is returned when input cannot be parsed as well-formed
	// TLV: truncated values, indefinite or oversized length forms, tags
	// longer than two bytes, or trailing garbage.
	ErrMalformed = errors.New("tlv: malformed encoding")

	// ErrInvalidTag is returned when a tag cannot be expressed in the
	// one- or two-byte forms this profile supports.
	ErrInvalidTag = errors.New("tlv: invalid tag")

	// ErrValueTooLarge is returned when a value exceeds the two-byte
	// definite length form.
	ErrValueTooLarge = errors.New("tlv: value too large")
)
