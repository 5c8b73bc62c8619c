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
	"fmt"

	"github.com/jeremyhahn/go-smartcard/pkg/apdu"
	"github.com/jeremyhahn/go-smartcard/pkg/tlv"
)

// Metadata report tags.
const (
	tagMetadataAlgorithm = 0x01
	tagMetadataPolicy    = 0x02
	tagMetadataOrigin    = 0x03
	tagMetadataPublicKey = 0x04
	tagMetadataIsDefault = 0x05
	tagMetadataRetries   = 0x06
)

// SlotMetadata is the applet's report about one key reference.
type SlotMetadata struct {
	// Algorithm is the raw algorithm byte. PIN and PUK references
	// report a reserved value rather than a cipher algorithm.
	Algorithm Algorithm

	// IsDefault reports whether the reference still holds its factory
	// value.
	IsDefault bool

	// Retries and RetriesRemaining are the configured maximum and the
	// current count, present only for references that have a counter.
	Retries          int
	RetriesRemaining int
	HasRetries       bool
}

// Metadata reads the applet's metadata report for a key reference.
// Available from firmware 5.3. A report that carries retry counts
// resynchronizes the session's cached counters to the card's view.
func (s *Session) Metadata(cred Credential) (*SlotMetadata, error) {
	if !s.version.AtLeast(5, 3, 0) {
		return nil, fmt.Errorf("%w: slot metadata needs firmware 5.3, have %s", ErrNotSupported, s.version)
	}
	resp, err := s.send(apdu.Command{Ins: insMetadata, P2: byte(cred), Ne: apdu.MaxShortResponse})
	if err != nil {
		return nil, err
	}
	if !resp.Status().OK() {
		return nil, fmt.Errorf("piv: metadata %s: %w", cred, &apdu.StatusError{Status: resp.Status()})
	}
	report, err := tlv.Decode(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("piv: metadata %s: %w", cred, err)
	}

	md := &SlotMetadata{}
	if v, ok := report.GetValue(tagMetadataAlgorithm); ok {
		if len(v) != 1 {
			return nil, fmt.Errorf("%w: algorithm field is %d bytes", ErrUnexpectedResponse, len(v))
		}
		md.Algorithm = Algorithm(v[0])
	}
	if v, ok := report.GetValue(tagMetadataIsDefault); ok {
		md.IsDefault = len(v) == 1 && v[0] != 0
	}
	if v, ok := report.GetValue(tagMetadataRetries); ok {
		if len(v) != 2 {
			return nil, fmt.Errorf("%w: retries field is %d bytes", ErrUnexpectedResponse, len(v))
		}
		md.Retries = int(v[0])
		md.RetriesRemaining = int(v[1])
		md.HasRetries = true
	}

	if md.HasRetries && (cred == CredentialPIN || cred == CredentialPUK) {
		state := s.retryFor(cred)
		if md.Retries > 0 {
			state.max = md.Retries
		}
		state.sync(md.RetriesRemaining)
	}
	return md, nil
}
