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

package encoding

import "errors"

var (
	// ErrOddLength is returned when text to decode does not pair up into
	// whole bytes.
	ErrOddLength = errors.New("encoding: odd-length input")

	// ErrInvalidRune is returned when text contains a character outside
	// the codec's alphabet.
	ErrInvalidRune = errors.New("encoding: invalid character")

	// ErrInvalidDigit is returned when bytes to encode as decimal hold a
	// nibble above nine.
	ErrInvalidDigit = errors.New("encoding: nibble is not a decimal digit")
)
