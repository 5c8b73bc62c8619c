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

// Package apdu implements ISO 7816-4 application protocol data units: the
// command and response framing smart cards speak, with short and extended
// length forms, status word interpretation, command chaining, and a client
// that resolves the transport-level status words (61XX continuation, 6CXX
// length correction) so callers deal only in whole logical exchanges.
package apdu

import (
	"bytes"
	"fmt"
)

// Length limits fixed by ISO 7816-3.
const (
	// MaxShortData is the largest data field a short-form command can
	// carry (one-byte Lc).
	MaxShortData = 255

	// MaxShortResponse is the largest expected response length the
	// short form can request; Le 0x00 encodes it.
	MaxShortResponse = 256

	// MaxExtendedData is the largest data field the extended form can
	// carry (two-byte Lc).
	MaxExtendedData = 65535

	// MaxExtendedResponse is the largest expected response length the
	// extended form can request; Le 0x0000 encodes it.
	MaxExtendedResponse = 65536
)

// Class byte flags and instructions handled at the framing layer.
const (
	// ClaISO is the plain interindustry class byte.
	ClaISO = 0x00

	// ClaChain marks a command as a non-final fragment of a chain.
	ClaChain = 0x10

	// InsGetResponse retrieves response bytes a card holds back after
	// reporting status 61XX.
	InsGetResponse = 0xC0
)

// Command is a command APDU. Data is the payload (may be nil) and Ne the
// number of response bytes expected, with 0 meaning none. The encoder
// selects the short or extended length form from the sizes involved.
type Command struct {
	Cla  byte
	Ins  byte
	P1   byte
	P2   byte
	Data []byte
	Ne   int
}

// Bytes encodes the command, choosing between the four ISO 7816-3 cases
// and between short and extended length fields. Payloads beyond the
// extended limits are rejected here, before any I/O happens.
func (c Command) Bytes() ([]byte, error) {
	nc := len(c.Data)
	if nc > MaxExtendedData {
		return nil, fmt.Errorf("%w: %d bytes", ErrDataTooLong, nc)
	}
	if c.Ne < 0 || c.Ne > MaxExtendedResponse {
		return nil, fmt.Errorf("%w: Ne %d", ErrResponseLengthInvalid, c.Ne)
	}

	var buf bytes.Buffer
	buf.WriteByte(c.Cla)
	buf.WriteByte(c.Ins)
	buf.WriteByte(c.P1)
	buf.WriteByte(c.P2)

	extended := nc > MaxShortData || c.Ne > MaxShortResponse

	if nc > 0 {
		if extended {
			// Extended Lc: marker byte plus two length bytes.
			buf.WriteByte(0x00)
			buf.WriteByte(byte(nc >> 8))
			buf.WriteByte(byte(nc))
		} else {
			buf.WriteByte(byte(nc))
		}
		buf.Write(c.Data)
	}

	if c.Ne > 0 {
		if extended {
			if nc == 0 {
				// Case 2 extended needs the marker byte so Le is not
				// mistaken for Lc.
				buf.WriteByte(0x00)
			}
			if c.Ne == MaxExtendedResponse {
				buf.WriteByte(0x00)
				buf.WriteByte(0x00)
			} else {
				buf.WriteByte(byte(c.Ne >> 8))
				buf.WriteByte(byte(c.Ne))
			}
		} else {
			if c.Ne == MaxShortResponse {
				buf.WriteByte(0x00)
			} else {
				buf.WriteByte(byte(c.Ne))
			}
		}
	}

	return buf.Bytes(), nil
}

func (c Command) String() string {
	return fmt.Sprintf("CLA=%02X INS=%02X P1=%02X P2=%02X Nc=%d Ne=%d",
		c.Cla, c.Ins, c.P1, c.P2, len(c.Data), c.Ne)
}

// Response is a response APDU: the data field followed by the two status
// bytes.
type Response struct {
	Data []byte
	SW1  byte
	SW2  byte
}

// ParseResponse splits raw card output into data and status word. Cards
// always return at least the two status bytes.
func ParseResponse(raw []byte) (Response, error) {
	if len(raw) < 2 {
		return Response{}, fmt.Errorf("%w: %d bytes", ErrResponseTooShort, len(raw))
	}
	return Response{
		Data: raw[:len(raw)-2],
		SW1:  raw[len(raw)-2],
		SW2:  raw[len(raw)-1],
	}, nil
}

// Status returns the response's status word.
func (r Response) Status() Status {
	return Status(uint16(r.SW1)<<8 | uint16(r.SW2))
}

func (r Response) String() string {
	return fmt.Sprintf("%d bytes, %s", len(r.Data), r.Status())
}
