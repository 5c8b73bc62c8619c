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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase16(t *testing.T) {
	raw := []byte{0xba, 0xad, 0xde, 0xad, 0xf0, 0x0d}
	assert.Equal(t, "BAADDEADF00D", EncodeBase16(raw))
	assert.Equal(t, "", EncodeBase16(nil))

	for _, in := range []string{"BAADDEADF00D", "baaddeadf00d", "BaAdDeAdF00d"} {
		out, err := DecodeBase16(in)
		require.NoError(t, err, in)
		assert.Equal(t, raw, out, in)
	}
}

func TestBase16Errors(t *testing.T) {
	_, err := DecodeBase16("ABC")
	require.ErrorIs(t, err, ErrOddLength)

	_, err = DecodeBase16("ZZ")
	require.ErrorIs(t, err, ErrInvalidRune)
}

func TestModHex(t *testing.T) {
	tests := []struct {
		raw  []byte
		text string
	}{
		{[]byte{0x00}, "cc"},
		{[]byte{0x47}, "fi"},
		{[]byte{0xFF}, "vv"},
		{[]byte{0x00, 0x47, 0xFF}, "ccfivv"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.text, EncodeModHex(tt.raw))

		out, err := DecodeModHex(tt.text)
		require.NoError(t, err, tt.text)
		assert.Equal(t, tt.raw, out)
	}

	// Decoding tolerates uppercase even though encoding never emits it.
	out, err := DecodeModHex("CCFIVV")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x47, 0xFF}, out)
}

func TestModHexErrors(t *testing.T) {
	_, err := DecodeModHex("ccf")
	require.ErrorIs(t, err, ErrOddLength)

	_, err = DecodeModHex("cx")
	require.ErrorIs(t, err, ErrInvalidRune)

	// Plain hex digits are not part of the alphabet.
	_, err = DecodeModHex("ab")
	require.ErrorIs(t, err, ErrInvalidRune)
}

func TestBCD(t *testing.T) {
	text, err := EncodeBCD([]byte{0x12, 0x34})
	require.NoError(t, err)
	assert.Equal(t, "1234", text)

	out, err := DecodeBCD("1234")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x34}, out)

	text, err = EncodeBCD([]byte{0x00, 0x99})
	require.NoError(t, err)
	assert.Equal(t, "0099", text)
}

func TestBCDErrors(t *testing.T) {
	_, err := EncodeBCD([]byte{0x1A})
	require.ErrorIs(t, err, ErrInvalidDigit)

	_, err = DecodeBCD("123")
	require.ErrorIs(t, err, ErrOddLength)

	_, err = DecodeBCD("12a4")
	require.ErrorIs(t, err, ErrInvalidRune)
}
