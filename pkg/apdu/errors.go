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

package apdu

import (
	"errors"
	"fmt"
)

var (
	// ErrDataTooLong is returned when a command data field exceeds the
	// extended-length limit.
	ErrDataTooLong = errors.New("apdu: command data too long")

	// ErrResponseLengthInvalid is returned when the expected response
	// length is negative or exceeds the extended-length limit.
	ErrResponseLengthInvalid = errors.New("apdu: expected response length invalid")

	// ErrResponseTooShort is returned when a card response is missing
	// the two status bytes.
	ErrResponseTooShort = errors.New("apdu: response too short")

	// ErrChunkSize is returned when a chain fragment size is out of
	// range.
	ErrChunkSize = errors.New("apdu: invalid chain fragment size")
)

// StatusError reports a card status word that ended an exchange where
// success was required, such as a rejected chain fragment.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("apdu: %s", e.Status)
}
