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

package piv

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationFailed is the base error for wrong PINs, PUKs and
	// management keys. Failures carrying a retry count are reported as
	// an AuthError wrapping this sentinel.
	ErrAuthenticationFailed = errors.New("piv: authentication failed")

	// ErrPINBlocked is returned when the PIN retry counter has reached
	// zero. The state is permanent for the applet instance; only a full
	// application reset clears it. Distinct from AuthError so callers do
	// not retry.
	ErrPINBlocked = errors.New("piv: PIN blocked")

	// ErrPUKBlocked is the PUK counterpart of ErrPINBlocked.
	ErrPUKBlocked = errors.New("piv: PUK blocked")

	// ErrNotAuthenticated is returned when an operation requires a
	// verified PIN or an authenticated management key the session does
	// not hold. Raised locally, before any card I/O, whenever the
	// missing prerequisite is known.
	ErrNotAuthenticated = errors.New("piv: required authentication not established")

	// ErrInvalidPINLength is returned for PINs and PUKs outside 6-8
	// bytes, before any card I/O.
	ErrInvalidPINLength = errors.New("piv: PIN must be 6-8 bytes")

	// ErrInvalidKeyLength is returned when key material does not match
	// its algorithm's key size.
	ErrInvalidKeyLength = errors.New("piv: invalid management key length")

	// ErrUnsupportedAlgorithm is returned for algorithm identifiers
	// outside the supported management key set.
	ErrUnsupportedAlgorithm = errors.New("piv: unsupported algorithm")

	// ErrInvalidTag is returned when a data object is constructed or
	// addressed with a tag outside its permitted set, before any card
	// I/O.
	ErrInvalidTag = errors.New("piv: data object tag not permitted")

	// ErrInvalidSaltLength is returned when administrative metadata
	// carries a salt that is not exactly 16 bytes.
	ErrInvalidSaltLength = errors.New("piv: salt must be 16 bytes")

	// ErrInvalidTimestamp is returned when a PIN-last-updated timestamp
	// cannot be represented in the stored 4-byte encoding.
	ErrInvalidTimestamp = errors.New("piv: timestamp out of range")

	// ErrInvalidRetryCount is returned for retry maxima outside 1-255.
	ErrInvalidRetryCount = errors.New("piv: retry count must be 1-255")

	// ErrInvalidCertCount is returned when a key history certificate
	// count does not fit its single-byte encoding.
	ErrInvalidCertCount = errors.New("piv: certificate count must be 0-255")

	// ErrInvalidCardID is returned when a capability container card
	// identifier is not exactly 14 bytes.
	ErrInvalidCardID = errors.New("piv: card id must be 14 bytes")

	// ErrInvalidMode is returned for PIN-only mode values outside the
	// defined bit set.
	ErrInvalidMode = errors.New("piv: invalid PIN-only mode")

	// ErrPINOnlyNotActive is returned by PIN-based management
	// authentication when no PIN-only bookkeeping exists on the card.
	ErrPINOnlyNotActive = errors.New("piv: no PIN-only mode active")

	// ErrNotSupported is returned for operations the connected applet
	// version does not implement.
	ErrNotSupported = errors.New("piv: not supported by this applet version")

	// ErrUnexpectedResponse is returned when a card response parses as
	// TLV but does not carry the structure the operation requires.
	ErrUnexpectedResponse = errors.New("piv: unexpected response structure")
)

// Credential identifies reference data by its card key reference.
type Credential byte

const (
	CredentialPIN           Credential = 0x80
	CredentialPUK           Credential = 0x81
	CredentialManagementKey Credential = 0x9B
)

func (c Credential) String() string {
	switch c {
	case CredentialPIN:
		return "PIN"
	case CredentialPUK:
		return "PUK"
	case CredentialManagementKey:
		return "management key"
	}
	return fmt.Sprintf("credential %02X", byte(c))
}

// AuthError reports a failed authentication attempt. Retries carries the
// card-reported remaining attempts, or -1 when the card did not report
// one (management keys have no counter).
type AuthError struct {
	Credential Credential
	Retries    int
}

func (e *AuthError) Error() string {
	if e.Retries >= 0 {
		return fmt.Sprintf("piv: wrong %s, %d attempts remaining", e.Credential, e.Retries)
	}
	return fmt.Sprintf("piv: %s authentication failed", e.Credential)
}

// Unwrap ties AuthError into the taxonomy: errors.Is(err,
// ErrAuthenticationFailed) matches every AuthError.
func (e *AuthError) Unwrap() error {
	return ErrAuthenticationFailed
}
