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

package u2f

import "errors"

var (
	// ErrConditionsNotSatisfied is returned when the token wants a
	// user-presence test before it completes the operation. In
	// check-only authentication it is the success signal: the key
	// handle belongs to this token.
	ErrConditionsNotSatisfied = errors.New("u2f: user presence required")

	// ErrWrongData is returned when the token rejects the key handle or
	// request parameters.
	ErrWrongData = errors.New("u2f: key handle rejected")

	// ErrInvalidKeyHandle is returned when a key handle cannot be
	// framed, before any I/O.
	ErrInvalidKeyHandle = errors.New("u2f: key handle must be 1-255 bytes")

	// ErrInvalidAuthMode is returned for an authentication mode outside
	// the defined control values.
	ErrInvalidAuthMode = errors.New("u2f: invalid authentication mode")

	// ErrUnexpectedResponse is returned when a response does not parse
	// as the raw message format requires.
	ErrUnexpectedResponse = errors.New("u2f: unexpected response from applet")
)
