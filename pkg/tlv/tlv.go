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

// Package tlv implements the BER-TLV encoding profile used by ISO 7816
// smart-card applets: tags of one or two bytes and definite lengths of up
// to two bytes. Decoding is strict; malformed input is rejected rather
// than silently truncated.
package tlv

import (
	"bytes"
	"fmt"
)

// Tag identifies a TLV element. One-byte tags occupy the low byte; two-byte
// tags (first byte with the low five bits set, e.g. 0x5F49) occupy both.
type Tag uint16

// maxValueLen is the largest value length the two-byte definite form can
// express. The applet family never exceeds it.
const maxValueLen = 0xFFFF

// Constructed reports whether the tag's constructed bit is set. The applet
// family does not honor it consistently (0x53 containers nest TLVs despite
// being primitive by BER rules), so decoding never recurses on it; it is
// informational only.
func (t Tag) Constructed() bool {
	return t.firstByte()&0x20 != 0
}

func (t Tag) firstByte() byte {
	if t > 0xFF {
		return byte(t >> 8)
	}
	return byte(t)
}

func (t Tag) bytes() []byte {
	if t > 0xFF {
		return []byte{byte(t >> 8), byte(t)}
	}
	return []byte{byte(t)}
}

// valid reports whether the tag is expressible in the one- or two-byte
// forms this profile supports.
func (t Tag) valid() bool {
	if t == 0 {
		return false
	}
	if t > 0xFF {
		// Two-byte form requires the high-tag-number marker in the first
		// byte and no continuation bit in the second.
		if byte(t>>8)&0x1F != 0x1F {
			return false
		}
		if byte(t)&0x80 != 0 {
			return false
		}
	}
	return true
}

func (t Tag) String() string {
	if t > 0xFF {
		return fmt.Sprintf("%04X", uint16(t))
	}
	return fmt.Sprintf("%02X", uint16(t))
}

// TagValue is one node of a TLV structure. When Children is non-empty the
// node encodes its children in place of Value; otherwise Value is the
// payload. Decoding fills Tag and Value only; use Nested to descend.
type TagValue struct {
	Tag      Tag
	Value    []byte
	Children []TagValue
}

// New returns a TagValue whose payload is the encoding of children, in
// order.
func New(tag Tag, children ...TagValue) TagValue {
	return TagValue{Tag: tag, Children: children}
}

// NewValue returns a TagValue with a primitive payload.
func NewValue(tag Tag, value []byte) TagValue {
	return TagValue{Tag: tag, Value: value}
}

// Nested decodes the node's payload as a TLV sequence.
func (tv TagValue) Nested() (TagValues, error) {
	return Decode(tv.Value)
}

// TagValues is an ordered TLV sequence, as produced by Decode.
type TagValues []TagValue

// Get returns the first element with the given tag.
func (tvs TagValues) Get(tag Tag) (TagValue, bool) {
	for _, tv := range tvs {
		if tv.Tag == tag {
			return tv, true
		}
	}
	return TagValue{}, false
}

// GetValue returns the payload of the first element with the given tag.
func (tvs TagValues) GetValue(tag Tag) ([]byte, bool) {
	tv, ok := tvs.Get(tag)
	return tv.Value, ok
}

// GetAll returns every element with the given tag, in order.
func (tvs TagValues) GetAll(tag Tag) TagValues {
	var out TagValues
	for _, tv := range tvs {
		if tv.Tag == tag {
			out = append(out, tv)
		}
	}
	return out
}

// Pop removes and returns the first element with the given tag.
func (tvs *TagValues) Pop(tag Tag) (TagValue, bool) {
	for i, tv := range *tvs {
		if tv.Tag == tag {
			*tvs = append((*tvs)[:i], (*tvs)[i+1:]...)
			return tv, true
		}
	}
	return TagValue{}, false
}

// Put appends an element to the sequence.
func (tvs *TagValues) Put(tv TagValue) {
	*tvs = append(*tvs, tv)
}

// DeleteAll removes every element with the given tag.
func (tvs *TagValues) DeleteAll(tag Tag) {
	out := (*tvs)[:0]
	for _, tv := range *tvs {
		if tv.Tag != tag {
			out = append(out, tv)
		}
	}
	*tvs = out
}

// Encode serializes the given nodes, in order, into a single byte string.
func Encode(tvs ...TagValue) ([]byte, error) {
	var buf bytes.Buffer
	for _, tv := range tvs {
		if err := encodeNode(&buf, tv); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeNode(buf *bytes.Buffer, tv TagValue) error {
	if !tv.Tag.valid() {
		return fmt.Errorf("%w: %s", ErrInvalidTag, tv.Tag)
	}

	value := tv.Value
	if len(tv.Children) > 0 {
		nested, err := Encode(tv.Children...)
		if err != nil {
			return err
		}
		value = nested
	}
	if len(value) > maxValueLen {
		return fmt.Errorf("%w: tag %s value is %d bytes", ErrValueTooLarge, tv.Tag, len(value))
	}

	buf.Write(tv.Tag.bytes())
	buf.Write(encodeLength(len(value)))
	buf.Write(value)
	return nil
}

// encodeLength produces the minimal definite-length form.
func encodeLength(n int) []byte {
	switch {
	case n <= 0x7F:
		return []byte{byte(n)}
	case n <= 0xFF:
		return []byte{0x81, byte(n)}
	default:
		return []byte{0x82, byte(n >> 8), byte(n)}
	}
}

// Decode parses one level of a TLV sequence. The entire input must be
// consumed by well-formed elements; truncated values, indefinite lengths,
// and unsupported tag or length forms are errors.
func Decode(data []byte) (TagValues, error) {
	var tvs TagValues
	for len(data) > 0 {
		tv, rest, err := decodeNode(data)
		if err != nil {
			return nil, err
		}
		tvs = append(tvs, tv)
		data = rest
	}
	return tvs, nil
}

// DecodeSingle parses exactly one element and rejects trailing bytes.
func DecodeSingle(data []byte) (TagValue, error) {
	tv, rest, err := decodeNode(data)
	if err != nil {
		return TagValue{}, err
	}
	if len(rest) > 0 {
		return TagValue{}, fmt.Errorf("%w: %d trailing bytes after tag %s", ErrMalformed, len(rest), tv.Tag)
	}
	return tv, nil
}

func decodeNode(data []byte) (TagValue, []byte, error) {
	if len(data) == 0 {
		return TagValue{}, nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}

	tag := Tag(data[0])
	data = data[1:]
	if byte(tag)&0x1F == 0x1F {
		if len(data) == 0 {
			return TagValue{}, nil, fmt.Errorf("%w: truncated tag", ErrMalformed)
		}
		if data[0]&0x80 != 0 {
			return TagValue{}, nil, fmt.Errorf("%w: tag longer than two bytes", ErrMalformed)
		}
		tag = tag<<8 | Tag(data[0])
		data = data[1:]
	}
	if tag == 0 {
		return TagValue{}, nil, fmt.Errorf("%w: zero tag", ErrMalformed)
	}

	if len(data) == 0 {
		return TagValue{}, nil, fmt.Errorf("%w: tag %s missing length", ErrMalformed, tag)
	}
	length := int(data[0])
	data = data[1:]
	if length > 0x7F {
		n := length & 0x7F
		if n == 0 {
			return TagValue{}, nil, fmt.Errorf("%w: tag %s uses indefinite length", ErrMalformed, tag)
		}
		if n > 2 {
			return TagValue{}, nil, fmt.Errorf("%w: tag %s length of %d bytes", ErrMalformed, tag, n)
		}
		if len(data) < n {
			return TagValue{}, nil, fmt.Errorf("%w: tag %s truncated length", ErrMalformed, tag)
		}
		length = 0
		for i := 0; i < n; i++ {
			length = length<<8 | int(data[i])
		}
		data = data[n:]
	}
	if len(data) < length {
		return TagValue{}, nil, fmt.Errorf("%w: tag %s value truncated (need %d bytes, have %d)",
			ErrMalformed, tag, length, len(data))
	}

	return TagValue{Tag: tag, Value: data[:length:length]}, data[length:], nil
}
