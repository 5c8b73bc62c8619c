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
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/jeremyhahn/go-smartcard/pkg/tlv"
)

// testCard is an in-memory applet that behaves like the hardware the
// session layer talks to: PIN and PUK with retry counters, mutual
// management key authentication, a PIN-gated object store and the
// vendor instructions. Frames are short form only; nothing the
// session layer sends here needs chaining.
type testCard struct {
	version [3]byte
	serial  uint32

	pin      []byte
	puk      []byte
	pinMax   int
	pukMax   int
	pinCount int
	pukCount int
	verified bool

	key       []byte
	keyAlg    Algorithm
	touch     bool
	keyAuthed bool

	objects map[ObjectID][]byte

	// witness holds the plain challenge the card expects back after a
	// witness request.
	witness []byte
	nonce   byte

	// failAuthResponse corrupts the final mutual-auth response so the
	// card fails to prove key possession.
	failAuthResponse bool

	// legacyCounter reports retry counts as 630X instead of 63CX.
	legacyCounter bool

	transmits int
}

func newTestCard() *testCard {
	c := &testCard{
		version: [3]byte{5, 4, 3},
		serial:  0x00BC614E,
		pinMax:  DefaultRetries,
		pukMax:  DefaultRetries,
		objects: make(map[ObjectID][]byte),
	}
	c.pin = paddedRef(DefaultPIN)
	c.puk = paddedRef(DefaultPUK)
	c.pinCount = c.pinMax
	c.pukCount = c.pukMax
	def := DefaultManagementKey()
	c.key = def.Key
	c.keyAlg = def.Algorithm
	return c
}

func paddedRef(v string) []byte {
	ref, err := encodePIN(v)
	if err != nil {
		panic(err)
	}
	return ref
}

func (c *testCard) Transmit(cmd []byte) ([]byte, error) {
	c.transmits++
	if len(cmd) < 4 {
		return nil, fmt.Errorf("testcard: frame too short: %d bytes", len(cmd))
	}
	cla, ins, p1, p2 := cmd[0], cmd[1], cmd[2], cmd[3]
	if cla&0x10 != 0 {
		return reply(nil, 0x6700), nil
	}
	data, err := commandData(cmd)
	if err != nil {
		return nil, err
	}

	switch ins {
	case insSelect:
		if p1 == 0x04 && bytes.Equal(data, AID) {
			return reply(nil, 0x9000), nil
		}
		return reply(nil, 0x6A82), nil
	case insGetVersion:
		return reply(c.version[:], 0x9000), nil
	case insGetSerial:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, c.serial)
		return reply(buf, 0x9000), nil
	case insVerify:
		return c.verify(p2, data), nil
	case insChangeReference:
		return c.changeReference(p2, data), nil
	case insResetRetry:
		return c.resetRetry(p2, data), nil
	case insGeneralAuthenticate:
		return c.generalAuthenticate(p1, p2, data), nil
	case insGetData:
		return c.getData(p1, p2, data), nil
	case insPutData:
		return c.putData(p1, p2, data), nil
	case insSetManagementKey:
		return c.setManagementKey(p1, p2, data), nil
	case insSetPINRetries:
		return c.setRetries(p1, p2), nil
	case insMetadata:
		return c.metadata(p2), nil
	}
	return reply(nil, 0x6D00), nil
}

// commandData extracts the data field of a short-form command frame.
func commandData(cmd []byte) ([]byte, error) {
	if len(cmd) <= 5 {
		return nil, nil
	}
	lc := int(cmd[4])
	rest := cmd[5:]
	switch len(rest) {
	case lc, lc + 1:
		return rest[:lc], nil
	}
	return nil, fmt.Errorf("testcard: frame length %d does not match Lc %d", len(cmd), lc)
}

func reply(data []byte, sw uint16) []byte {
	out := make([]byte, 0, len(data)+2)
	out = append(out, data...)
	return append(out, byte(sw>>8), byte(sw))
}

func (c *testCard) counterSW(n int) uint16 {
	if c.legacyCounter {
		return 0x6300 | uint16(n&0x0F)
	}
	return 0x63C0 | uint16(n&0x0F)
}

func (c *testCard) verify(p2 byte, data []byte) []byte {
	if p2 != byte(CredentialPIN) {
		return reply(nil, 0x6A88)
	}
	if len(data) == 0 {
		if c.verified {
			return reply(nil, 0x9000)
		}
		return reply(nil, c.counterSW(c.pinCount))
	}
	if c.pinCount == 0 {
		return reply(nil, 0x6983)
	}
	if len(data) != 8 {
		return reply(nil, 0x6700)
	}
	if bytes.Equal(data, c.pin) {
		c.verified = true
		c.pinCount = c.pinMax
		return reply(nil, 0x9000)
	}
	c.pinCount--
	return reply(nil, c.counterSW(c.pinCount))
}

func (c *testCard) changeReference(p2 byte, data []byte) []byte {
	var ref *[]byte
	var count *int
	var max int
	switch p2 {
	case byte(CredentialPIN):
		ref, count, max = &c.pin, &c.pinCount, c.pinMax
	case byte(CredentialPUK):
		ref, count, max = &c.puk, &c.pukCount, c.pukMax
	default:
		return reply(nil, 0x6A88)
	}
	if *count == 0 {
		return reply(nil, 0x6983)
	}
	if len(data) != 16 {
		return reply(nil, 0x6700)
	}
	if !bytes.Equal(data[:8], *ref) {
		*count--
		return reply(nil, c.counterSW(*count))
	}
	*ref = append([]byte(nil), data[8:]...)
	*count = max
	return reply(nil, 0x9000)
}

func (c *testCard) resetRetry(p2 byte, data []byte) []byte {
	if p2 != byte(CredentialPIN) {
		return reply(nil, 0x6A88)
	}
	if c.pukCount == 0 {
		return reply(nil, 0x6983)
	}
	if len(data) != 16 {
		return reply(nil, 0x6700)
	}
	if !bytes.Equal(data[:8], c.puk) {
		c.pukCount--
		return reply(nil, c.counterSW(c.pukCount))
	}
	c.pin = append([]byte(nil), data[8:]...)
	c.pinCount = c.pinMax
	c.pukCount = c.pukMax
	return reply(nil, 0x9000)
}

func (c *testCard) generalAuthenticate(p1, p2 byte, data []byte) []byte {
	if p2 != byte(CredentialManagementKey) {
		return reply(nil, 0x6A88)
	}
	if Algorithm(p1) != c.keyAlg {
		return reply(nil, 0x6A86)
	}
	outer, err := tlv.DecodeSingle(data)
	if err != nil || outer.Tag != tagDynAuth {
		return reply(nil, 0x6A80)
	}
	children, err := outer.Nested()
	if err != nil {
		return reply(nil, 0x6A80)
	}
	block, err := c.keyAlg.newCipher(c.key)
	if err != nil {
		panic(err)
	}
	bs := c.keyAlg.BlockSize()

	witness, hasWitness := children.Get(tagWitness)
	challenge, hasChallenge := children.Get(tagChallenge)

	switch {
	case hasWitness && len(witness.Value) == 0 && !hasChallenge:
		plain := c.nextNonce(bs)
		c.witness = plain
		enc := make([]byte, bs)
		block.Encrypt(enc, plain)
		body, err := tlv.Encode(tlv.New(tagDynAuth, tlv.NewValue(tagWitness, enc)))
		if err != nil {
			panic(err)
		}
		return reply(body, 0x9000)

	case hasWitness && len(witness.Value) > 0 && hasChallenge:
		if c.witness == nil || !bytes.Equal(witness.Value, c.witness) {
			c.witness = nil
			return reply(nil, 0x6982)
		}
		c.witness = nil
		if len(challenge.Value) != bs {
			return reply(nil, 0x6A80)
		}
		enc := make([]byte, bs)
		block.Encrypt(enc, challenge.Value)
		if c.failAuthResponse {
			enc[0] ^= 0xFF
		}
		c.keyAuthed = true
		body, err := tlv.Encode(tlv.New(tagDynAuth, tlv.NewValue(tagResponse, enc)))
		if err != nil {
			panic(err)
		}
		return reply(body, 0x9000)
	}
	return reply(nil, 0x6A80)
}

func (c *testCard) getData(p1, p2 byte, data []byte) []byte {
	if p1 != 0x3F || p2 != 0xFF {
		return reply(nil, 0x6A86)
	}
	addr, err := tlv.DecodeSingle(data)
	if err != nil || addr.Tag != tagObjectID {
		return reply(nil, 0x6A80)
	}
	id := objectIDFromBytes(addr.Value)
	if id == ObjectPINProtected && !c.verified {
		return reply(nil, 0x6982)
	}
	content, ok := c.objects[id]
	if !ok {
		return reply(nil, 0x6A82)
	}
	return reply(content, 0x9000)
}

func (c *testCard) putData(p1, p2 byte, data []byte) []byte {
	if p1 != 0x3F || p2 != 0xFF {
		return reply(nil, 0x6A86)
	}
	if !c.keyAuthed {
		return reply(nil, 0x6982)
	}
	tvs, err := tlv.Decode(data)
	if err != nil {
		return reply(nil, 0x6A80)
	}
	addr, ok := tvs.GetValue(tagObjectID)
	if !ok {
		return reply(nil, 0x6A80)
	}
	container, ok := tvs.Get(tagContainer)
	if !ok {
		return reply(nil, 0x6A80)
	}
	encoded, err := tlv.Encode(tlv.NewValue(tagContainer, container.Value))
	if err != nil {
		panic(err)
	}
	c.objects[objectIDFromBytes(addr)] = encoded
	return reply(nil, 0x9000)
}

func (c *testCard) setManagementKey(p1, p2 byte, data []byte) []byte {
	if p1 != 0xFF || (p2 != 0xFF && p2 != 0xFE) {
		return reply(nil, 0x6A86)
	}
	if !c.keyAuthed {
		return reply(nil, 0x6982)
	}
	if len(data) < 3 {
		return reply(nil, 0x6A80)
	}
	alg := Algorithm(data[0])
	if data[1] != byte(CredentialManagementKey) || !alg.Valid() {
		return reply(nil, 0x6A80)
	}
	key := data[3:]
	if int(data[2]) != len(key) || len(key) != alg.KeySize() {
		return reply(nil, 0x6A80)
	}
	c.key = append([]byte(nil), key...)
	c.keyAlg = alg
	c.touch = p2 == 0xFE
	return reply(nil, 0x9000)
}

func (c *testCard) setRetries(p1, p2 byte) []byte {
	if !c.keyAuthed {
		return reply(nil, 0x6982)
	}
	if p1 == 0 || p2 == 0 {
		return reply(nil, 0x6A86)
	}
	c.pinMax, c.pukMax = int(p1), int(p2)
	c.pinCount, c.pukCount = c.pinMax, c.pukMax
	c.pin = paddedRef(DefaultPIN)
	c.puk = paddedRef(DefaultPUK)
	return reply(nil, 0x9000)
}

func (c *testCard) metadata(p2 byte) []byte {
	var body []byte
	var err error
	switch p2 {
	case byte(CredentialPIN):
		body, err = tlv.Encode(
			tlv.NewValue(tagMetadataAlgorithm, []byte{0xFF}),
			tlv.NewValue(tagMetadataIsDefault, []byte{boolByte(bytes.Equal(c.pin, paddedRef(DefaultPIN)))}),
			tlv.NewValue(tagMetadataRetries, []byte{byte(c.pinMax), byte(c.pinCount)}),
		)
	case byte(CredentialPUK):
		body, err = tlv.Encode(
			tlv.NewValue(tagMetadataAlgorithm, []byte{0xFF}),
			tlv.NewValue(tagMetadataIsDefault, []byte{boolByte(bytes.Equal(c.puk, paddedRef(DefaultPUK)))}),
			tlv.NewValue(tagMetadataRetries, []byte{byte(c.pukMax), byte(c.pukCount)}),
		)
	case byte(CredentialManagementKey):
		def := DefaultManagementKey()
		body, err = tlv.Encode(
			tlv.NewValue(tagMetadataAlgorithm, []byte{byte(c.keyAlg)}),
			tlv.NewValue(tagMetadataPolicy, []byte{0x00, boolByte(c.touch)}),
			tlv.NewValue(tagMetadataIsDefault, []byte{boolByte(bytes.Equal(c.key, def.Key))}),
		)
	default:
		return reply(nil, 0x6A88)
	}
	if err != nil {
		panic(err)
	}
	return reply(body, 0x9000)
}

func (c *testCard) nextNonce(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		c.nonce++
		buf[i] = c.nonce
	}
	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func objectIDFromBytes(b []byte) ObjectID {
	var id uint32
	for _, v := range b {
		id = id<<8 | uint32(v)
	}
	return ObjectID(id)
}

// seqReader yields a deterministic byte sequence for session
// randomness in tests.
type seqReader struct{ next byte }

func (r *seqReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.next
		r.next++
	}
	return len(p), nil
}

func newTestSession(t *testing.T, card *testCard) *Session {
	t.Helper()
	s, err := NewSession(card)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	s.Rand = &seqReader{next: 0x42}
	return s
}
