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

package pcsc

import "errors"

var (
	// ErrNoReaders is returned when no smart card reader is attached.
	ErrNoReaders = errors.New("pcsc: no smart card readers present")

	// ErrReaderNotFound is returned when no attached reader matches the
	// requested name or prefix.
	ErrReaderNotFound = errors.New("pcsc: reader not found")

	// ErrClosed is returned when the connection has already been closed.
	ErrClosed = errors.New("pcsc: connection closed")
)
