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

// Package encoding provides the text codecs used around the card but
// outside the protocol path: uppercase hexadecimal for administrative
// display, the ModHex keyboard-layout-safe alphabet used in OTP
// personalization, and packed BCD for decimal serials.
package encoding

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// EncodeBase16 renders src as uppercase hexadecimal.
func EncodeBase16(src []byte) string {
	return strings.ToUpper(hex.EncodeToString(src))
}

// DecodeBase16 parses hexadecimal text in either case.
func DecodeBase16(s string) ([]byte, error) {
	out, err := hex.DecodeString(s)
	if err != nil {
		if errors.Is(err, hex.ErrLength) {
			return nil, ErrOddLength
		}
		var bad hex.InvalidByteError
		if errors.As(err, &bad) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRune, rune(bad))
		}
		return nil, err
	}
	return out, nil
}

// modHexAlphabet maps each nibble to the character a USB keyboard
// reports identically across layouts.
const modHexAlphabet = "cbdefghijklnrtuv"

// EncodeModHex renders src in the ModHex alphabet.
func EncodeModHex(src []byte) string {
	out := make([]byte, 0, len(src)*2)
	for _, b := range src {
		out = append(out, modHexAlphabet[b>>4], modHexAlphabet[b&0x0F])
	}
	return string(out)
}

// DecodeModHex parses ModHex text in either case.
func DecodeModHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		hi, err := modHexNibble(s[i])
		if err != nil {
			return nil, err
		}
		lo, err := modHexNibble(s[i+1])
		if err != nil {
			return nil, err
		}
		out[i/2] = hi<<4 | lo
	}
	return out, nil
}

func modHexNibble(c byte) (byte, error) {
	if c >= 'A' && c <= 'Z' {
		c += 'a' - 'A'
	}
	if i := strings.IndexByte(modHexAlphabet, c); i >= 0 {
		return byte(i), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRune, rune(c))
}

// EncodeBCD renders packed binary-coded-decimal bytes as digit text.
// Every nibble of src must be a decimal digit.
func EncodeBCD(src []byte) (string, error) {
	out := make([]byte, 0, len(src)*2)
	for _, b := range src {
		hi, lo := b>>4, b&0x0F
		if hi > 9 || lo > 9 {
			return "", fmt.Errorf("%w: %02X", ErrInvalidDigit, b)
		}
		out = append(out, '0'+hi, '0'+lo)
	}
	return string(out), nil
}

// DecodeBCD packs digit text two digits per byte.
func DecodeBCD(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		hi, lo := s[i], s[i+1]
		if hi < '0' || hi > '9' || lo < '0' || lo > '9' {
			c := rune(hi)
			if hi >= '0' && hi <= '9' {
				c = rune(lo)
			}
			return nil, fmt.Errorf("%w: %q", ErrInvalidRune, c)
		}
		out[i/2] = (hi-'0')<<4 | (lo - '0')
	}
	return out, nil
}
