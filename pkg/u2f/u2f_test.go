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

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transmitFunc func([]byte) ([]byte, error)

func (f transmitFunc) Transmit(cmd []byte) ([]byte, error) { return f(cmd) }

// testToken is an in-memory U2F token with a real attestation key, so
// parsed envelopes can be verified end to end.
type testToken struct {
	attKey  *ecdsa.PrivateKey
	certDER []byte

	creds      map[string]*ecdsa.PrivateKey
	counter    uint32
	nextHandle byte

	// needTouch makes the next operation demand user presence once.
	needTouch bool

	transmits int
}

func newTestToken(t *testing.T) *testToken {
	t.Helper()
	attKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "U2F Token Attestation"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &attKey.PublicKey, attKey)
	require.NoError(t, err)

	return &testToken{
		attKey:  attKey,
		certDER: certDER,
		creds:   make(map[string]*ecdsa.PrivateKey),
	}
}

func (tok *testToken) Transmit(cmd []byte) ([]byte, error) {
	tok.transmits++
	if len(cmd) < 4 {
		return nil, fmt.Errorf("testtoken: frame too short: %d bytes", len(cmd))
	}
	ins, p1 := cmd[1], cmd[2]
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
	case insVersion:
		return reply([]byte("U2F_V2"), 0x9000), nil
	case insRegister:
		return tok.register(data)
	case insAuthenticate:
		return tok.authenticate(p1, data)
	}
	return reply(nil, 0x6D00), nil
}

func (tok *testToken) register(data []byte) ([]byte, error) {
	if len(data) != 64 {
		return reply(nil, 0x6700), nil
	}
	if tok.needTouch {
		tok.needTouch = false
		return reply(nil, 0x6985), nil
	}
	challenge, application := data[:32], data[32:]

	devKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	pub := elliptic.Marshal(elliptic.P256(), devKey.PublicKey.X, devKey.PublicKey.Y)

	tok.nextHandle++
	handle := bytes.Repeat([]byte{tok.nextHandle}, 32)
	tok.creds[string(handle)] = devKey

	base := make([]byte, 0, 1+32+32+len(handle)+len(pub))
	base = append(base, 0x00)
	base = append(base, application...)
	base = append(base, challenge...)
	base = append(base, handle...)
	base = append(base, pub...)
	digest := sha256.Sum256(base)
	sig, err := ecdsa.SignASN1(rand.Reader, tok.attKey, digest[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+len(pub)+1+len(handle)+len(tok.certDER)+len(sig))
	out = append(out, registerReserved)
	out = append(out, pub...)
	out = append(out, byte(len(handle)))
	out = append(out, handle...)
	out = append(out, tok.certDER...)
	out = append(out, sig...)
	return reply(out, 0x9000), nil
}

func (tok *testToken) authenticate(ctrl byte, data []byte) ([]byte, error) {
	if len(data) < 65 {
		return reply(nil, 0x6700), nil
	}
	challenge, application := data[:32], data[32:64]
	khLen := int(data[64])
	if len(data) != 65+khLen {
		return reply(nil, 0x6700), nil
	}
	devKey, ok := tok.creds[string(data[65:])]
	if !ok {
		return reply(nil, 0x6A80), nil
	}
	if AuthMode(ctrl) == AuthCheckOnly {
		return reply(nil, 0x6985), nil
	}

	presence := byte(0x00)
	if AuthMode(ctrl) == AuthEnforcePresence {
		presence = 0x01
	}
	tok.counter++

	var counter [4]byte
	binary.BigEndian.PutUint32(counter[:], tok.counter)

	base := make([]byte, 0, 32+1+4+32)
	base = append(base, application...)
	base = append(base, presence)
	base = append(base, counter[:]...)
	base = append(base, challenge...)
	digest := sha256.Sum256(base)
	sig, err := ecdsa.SignASN1(rand.Reader, devKey, digest[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+4+len(sig))
	out = append(out, presence)
	out = append(out, counter[:]...)
	out = append(out, sig...)
	return reply(out, 0x9000), nil
}

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
	return nil, fmt.Errorf("testtoken: frame length %d does not match Lc %d", len(cmd), lc)
}

func reply(data []byte, sw uint16) []byte {
	out := make([]byte, 0, len(data)+2)
	out = append(out, data...)
	return append(out, byte(sw>>8), byte(sw))
}

func param(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

func devicePublicKey(t *testing.T, encoded []byte) *ecdsa.PublicKey {
	t.Helper()
	x, y := elliptic.Unmarshal(elliptic.P256(), encoded)
	require.NotNil(t, x)
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
}

func TestVersion(t *testing.T) {
	tok := newTestToken(t)
	s, err := NewSession(tok)
	require.NoError(t, err)

	version, err := s.Version()
	require.NoError(t, err)
	assert.Equal(t, "U2F_V2", version)
}

func TestNewSessionNoApplet(t *testing.T) {
	tx := transmitFunc(func(cmd []byte) ([]byte, error) {
		return reply(nil, 0x6A82), nil
	})
	_, err := NewSession(tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "applet not present")
}

func TestRegister(t *testing.T) {
	tok := newTestToken(t)
	s, err := NewSession(tok)
	require.NoError(t, err)

	challenge := param("registration challenge")
	application := param("https://example.com")

	reg, err := s.Register(challenge, application)
	require.NoError(t, err)
	require.Len(t, reg.PublicKey, 65)
	assert.Equal(t, byte(0x04), reg.PublicKey[0])
	assert.Len(t, reg.KeyHandle, 32)
	require.NotNil(t, reg.Certificate)
	assert.Equal(t, "U2F Token Attestation", reg.Certificate.Subject.CommonName)

	// The attestation signature covers the envelope fields; parsing
	// must have split them exactly.
	base := make([]byte, 0, 1+32+32+len(reg.KeyHandle)+len(reg.PublicKey))
	base = append(base, 0x00)
	base = append(base, application[:]...)
	base = append(base, challenge[:]...)
	base = append(base, reg.KeyHandle...)
	base = append(base, reg.PublicKey...)
	digest := sha256.Sum256(base)

	attPub, ok := reg.Certificate.PublicKey.(*ecdsa.PublicKey)
	require.True(t, ok)
	assert.True(t, ecdsa.VerifyASN1(attPub, digest[:], reg.Signature))
}

func TestRegisterTouchRequired(t *testing.T) {
	tok := newTestToken(t)
	s, err := NewSession(tok)
	require.NoError(t, err)
	tok.needTouch = true

	challenge := param("challenge")
	application := param("application")

	_, err = s.Register(challenge, application)
	require.ErrorIs(t, err, ErrConditionsNotSatisfied)

	_, err = s.Register(challenge, application)
	require.NoError(t, err)
}

func TestAuthenticate(t *testing.T) {
	tok := newTestToken(t)
	s, err := NewSession(tok)
	require.NoError(t, err)

	application := param("application")
	reg, err := s.Register(param("registration"), application)
	require.NoError(t, err)

	challenge := param("assertion challenge")
	assertion, err := s.Authenticate(AuthEnforcePresence, challenge, application, reg.KeyHandle)
	require.NoError(t, err)
	assert.True(t, assertion.UserPresent)
	assert.Equal(t, uint32(1), assertion.Counter)

	base := make([]byte, 0, 32+1+4+32)
	base = append(base, application[:]...)
	base = append(base, 0x01)
	base = append(base, 0x00, 0x00, 0x00, 0x01)
	base = append(base, challenge[:]...)
	digest := sha256.Sum256(base)
	assert.True(t, ecdsa.VerifyASN1(devicePublicKey(t, reg.PublicKey), digest[:], assertion.Signature))

	// The counter is monotonic across assertions.
	assertion, err = s.Authenticate(AuthNoPresence, challenge, application, reg.KeyHandle)
	require.NoError(t, err)
	assert.False(t, assertion.UserPresent)
	assert.Equal(t, uint32(2), assertion.Counter)
}

func TestAuthenticateCheckOnly(t *testing.T) {
	tok := newTestToken(t)
	s, err := NewSession(tok)
	require.NoError(t, err)

	application := param("application")
	reg, err := s.Register(param("registration"), application)
	require.NoError(t, err)

	_, err = s.Authenticate(AuthCheckOnly, param("challenge"), application, reg.KeyHandle)
	require.ErrorIs(t, err, ErrConditionsNotSatisfied)

	bogus := bytes.Repeat([]byte{0xEE}, 32)
	_, err = s.Authenticate(AuthCheckOnly, param("challenge"), application, bogus)
	require.ErrorIs(t, err, ErrWrongData)
}

func TestAuthenticateUnknownHandle(t *testing.T) {
	tok := newTestToken(t)
	s, err := NewSession(tok)
	require.NoError(t, err)

	bogus := bytes.Repeat([]byte{0xEE}, 32)
	_, err = s.Authenticate(AuthEnforcePresence, param("challenge"), param("application"), bogus)
	require.ErrorIs(t, err, ErrWrongData)
}

func TestAuthenticateValidation(t *testing.T) {
	tok := newTestToken(t)
	s, err := NewSession(tok)
	require.NoError(t, err)
	before := tok.transmits

	_, err = s.Authenticate(AuthMode(0x05), param("c"), param("a"), []byte{0x01})
	require.ErrorIs(t, err, ErrInvalidAuthMode)

	_, err = s.Authenticate(AuthEnforcePresence, param("c"), param("a"), nil)
	require.ErrorIs(t, err, ErrInvalidKeyHandle)

	_, err = s.Authenticate(AuthEnforcePresence, param("c"), param("a"), make([]byte, 256))
	require.ErrorIs(t, err, ErrInvalidKeyHandle)

	assert.Equal(t, before, tok.transmits)
}
