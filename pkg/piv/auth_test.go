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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transmitFunc func([]byte) ([]byte, error)

func (f transmitFunc) Transmit(cmd []byte) ([]byte, error) { return f(cmd) }

func TestNewSession(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)

	assert.Equal(t, Version{Major: 5, Minor: 4, Patch: 3}, s.Version())
	assert.Equal(t, "5.4.3", s.Version().String())
	assert.False(t, s.PINVerified())
	assert.False(t, s.ManagementKeyAuthenticated())
}

func TestNewSessionNoApplet(t *testing.T) {
	tx := transmitFunc(func(cmd []byte) ([]byte, error) {
		return reply(nil, 0x6A82), nil
	})
	_, err := NewSession(tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "applet not present")
}

func TestSerial(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)

	serial, err := s.Serial()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xBC614E), serial)

	// The second read is served from the session.
	before := card.transmits
	serial, err = s.Serial()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xBC614E), serial)
	assert.Equal(t, before, card.transmits)
}

func TestVerifyPIN(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)

	require.NoError(t, s.VerifyPIN(DefaultPIN))
	assert.True(t, s.PINVerified())
}

func TestVerifyPINWrong(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)

	err := s.VerifyPIN("999999")
	require.ErrorIs(t, err, ErrAuthenticationFailed)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, CredentialPIN, authErr.Credential)
	assert.Equal(t, 2, authErr.Retries)
	assert.Equal(t, "piv: wrong PIN, 2 attempts remaining", authErr.Error())
	assert.False(t, s.PINVerified())

	// A later success refills the counter.
	require.NoError(t, s.VerifyPIN(DefaultPIN))
	count, err := s.Retries()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestVerifyPINLength(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)
	before := card.transmits

	require.ErrorIs(t, s.VerifyPIN("123"), ErrInvalidPINLength)
	require.ErrorIs(t, s.VerifyPIN("123456789"), ErrInvalidPINLength)
	assert.Equal(t, before, card.transmits)
}

// A drained counter makes the blocked state terminal: the session must
// refuse further attempts on its own, without touching the transport.
func TestVerifyPINExhaustion(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)

	var authErr *AuthError
	require.ErrorAs(t, s.VerifyPIN("999999"), &authErr)
	assert.Equal(t, 2, authErr.Retries)
	require.ErrorAs(t, s.VerifyPIN("999999"), &authErr)
	assert.Equal(t, 1, authErr.Retries)

	require.ErrorIs(t, s.VerifyPIN("999999"), ErrPINBlocked)

	before := card.transmits
	require.ErrorIs(t, s.VerifyPIN(DefaultPIN), ErrPINBlocked)
	assert.Equal(t, before, card.transmits)
}

func TestVerifyPINLegacyCounter(t *testing.T) {
	card := newTestCard()
	card.legacyCounter = true
	s := newTestSession(t, card)

	var authErr *AuthError
	require.ErrorAs(t, s.VerifyPIN("999999"), &authErr)
	assert.Equal(t, 2, authErr.Retries)
}

// An applet answering 6983 without a prior zero count also lands the
// session in the blocked state.
func TestVerifyPINBlockedStatus(t *testing.T) {
	card := newTestCard()
	card.pinCount = 0
	s := newTestSession(t, card)

	require.ErrorIs(t, s.VerifyPIN(DefaultPIN), ErrPINBlocked)

	before := card.transmits
	require.ErrorIs(t, s.VerifyPIN(DefaultPIN), ErrPINBlocked)
	assert.Equal(t, before, card.transmits)
}

func TestRetries(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)

	count, err := s.Retries()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Querying does not consume an attempt.
	count, err = s.Retries()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	var authErr *AuthError
	require.ErrorAs(t, s.VerifyPIN("999999"), &authErr)
	count, err = s.Retries()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// After verification the card reports plain success.
	require.NoError(t, s.VerifyPIN(DefaultPIN))
	count, err = s.Retries()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestChangePIN(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)

	require.NoError(t, s.ChangePIN(DefaultPIN, "314159"))
	require.NoError(t, s.VerifyPIN("314159"))
}

func TestChangePINWrongCurrent(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)

	var authErr *AuthError
	require.ErrorAs(t, s.ChangePIN("999999", "314159"), &authErr)
	assert.Equal(t, CredentialPIN, authErr.Credential)
	assert.Equal(t, 2, authErr.Retries)

	// The old PIN still works.
	require.NoError(t, s.VerifyPIN(DefaultPIN))
}

func TestChangePUK(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)

	require.NoError(t, s.ChangePUK(DefaultPUK, "87654321"))

	// The new PUK proves itself by resetting the PIN.
	require.NoError(t, s.UnblockPIN("87654321", "271828"))
	require.NoError(t, s.VerifyPIN("271828"))
}

func TestUnblockPIN(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)

	for i := 0; i < 3; i++ {
		require.Error(t, s.VerifyPIN("999999"))
	}
	require.ErrorIs(t, s.VerifyPIN("999999"), ErrPINBlocked)

	require.NoError(t, s.UnblockPIN(DefaultPUK, "314159"))
	require.NoError(t, s.VerifyPIN("314159"))
}

func TestUnblockPINExhaustsPUK(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)

	var authErr *AuthError
	require.ErrorAs(t, s.UnblockPIN("00000000", "314159"), &authErr)
	assert.Equal(t, CredentialPUK, authErr.Credential)
	assert.Equal(t, 2, authErr.Retries)

	require.ErrorAs(t, s.UnblockPIN("00000000", "314159"), &authErr)
	require.ErrorIs(t, s.UnblockPIN("00000000", "314159"), ErrPUKBlocked)

	// Terminal: refused locally from now on.
	before := card.transmits
	require.ErrorIs(t, s.UnblockPIN(DefaultPUK, "314159"), ErrPUKBlocked)
	assert.Equal(t, before, card.transmits)
}

func TestAuthenticateManagementKey(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)

	key := DefaultManagementKey()
	require.NoError(t, s.AuthenticateManagementKey(key))
	assert.True(t, s.ManagementKeyAuthenticated())
}

func TestAuthenticateManagementKeyWrong(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)

	wrong, err := GenerateManagementKey(&seqReader{next: 7}, Alg3DES)
	require.NoError(t, err)

	authErr := &AuthError{}
	require.ErrorAs(t, s.AuthenticateManagementKey(wrong), &authErr)
	assert.Equal(t, CredentialManagementKey, authErr.Credential)
	assert.Equal(t, -1, authErr.Retries)
	assert.False(t, s.ManagementKeyAuthenticated())
}

// The exchange is mutual: a card that cannot encrypt the host
// challenge under the shared key is rejected.
func TestAuthenticateManagementKeyCardFails(t *testing.T) {
	card := newTestCard()
	card.failAuthResponse = true
	s := newTestSession(t, card)

	err := s.AuthenticateManagementKey(DefaultManagementKey())
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.False(t, s.ManagementKeyAuthenticated())
}

func TestAuthenticateManagementKeyAES(t *testing.T) {
	card := newTestCard()
	key, err := GenerateManagementKey(&seqReader{next: 0x10}, AlgAES256)
	require.NoError(t, err)
	card.key = key.Key
	card.keyAlg = AlgAES256

	s := newTestSession(t, card)
	require.NoError(t, s.AuthenticateManagementKey(key))
	assert.True(t, s.ManagementKeyAuthenticated())
}

func TestSetManagementKey(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)
	require.NoError(t, s.AuthenticateManagementKey(DefaultManagementKey()))

	next, err := GenerateManagementKey(s.Rand, AlgAES192)
	require.NoError(t, err)
	require.NoError(t, s.SetManagementKey(next, false))
	assert.Equal(t, AlgAES192, card.keyAlg)
	assert.False(t, card.touch)

	// A fresh session authenticates with the new key only.
	s2 := newTestSession(t, card)
	require.Error(t, s2.AuthenticateManagementKey(DefaultManagementKey()))
	require.NoError(t, s2.AuthenticateManagementKey(next))
}

func TestSetManagementKeyTouch(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)
	require.NoError(t, s.AuthenticateManagementKey(DefaultManagementKey()))

	next, err := GenerateManagementKey(s.Rand, AlgAES128)
	require.NoError(t, err)
	require.NoError(t, s.SetManagementKey(next, true))
	assert.True(t, card.touch)
}

func TestSetManagementKeyRequiresAuth(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)
	before := card.transmits

	key, err := GenerateManagementKey(&seqReader{}, AlgAES256)
	require.NoError(t, err)
	require.ErrorIs(t, s.SetManagementKey(key, false), ErrNotAuthenticated)
	assert.Equal(t, before, card.transmits)
}

func TestSetRetries(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)
	require.NoError(t, s.AuthenticateManagementKey(DefaultManagementKey()))

	require.NoError(t, s.SetRetries(5, 4))
	assert.Equal(t, 5, card.pinMax)
	assert.Equal(t, 4, card.pukMax)

	count, err := s.Retries()
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

// Setting retry maxima replenishes the counters, which is the one
// management-key operation that recovers a blocked PIN in-session.
func TestSetRetriesClearsBlocked(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)

	for i := 0; i < 3; i++ {
		require.Error(t, s.VerifyPIN("999999"))
	}
	require.ErrorIs(t, s.VerifyPIN(DefaultPIN), ErrPINBlocked)

	require.NoError(t, s.AuthenticateManagementKey(DefaultManagementKey()))
	require.NoError(t, s.SetRetries(3, 3))

	// The card reset reference data to factory values.
	require.NoError(t, s.VerifyPIN(DefaultPIN))
}

func TestSetRetriesValidation(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)
	require.NoError(t, s.AuthenticateManagementKey(DefaultManagementKey()))

	require.ErrorIs(t, s.SetRetries(0, 3), ErrInvalidRetryCount)
	require.ErrorIs(t, s.SetRetries(3, 256), ErrInvalidRetryCount)
}

func TestSetRetriesRequiresAuth(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)
	before := card.transmits

	require.ErrorIs(t, s.SetRetries(3, 3), ErrNotAuthenticated)
	assert.Equal(t, before, card.transmits)
}

func TestMetadata(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)

	md, err := s.Metadata(CredentialPIN)
	require.NoError(t, err)
	assert.True(t, md.IsDefault)
	assert.True(t, md.HasRetries)
	assert.Equal(t, 3, md.Retries)
	assert.Equal(t, 3, md.RetriesRemaining)

	md, err = s.Metadata(CredentialManagementKey)
	require.NoError(t, err)
	assert.Equal(t, Alg3DES, md.Algorithm)
	assert.True(t, md.IsDefault)
	assert.False(t, md.HasRetries)
}

// Counter changes come only from card reports; a metadata report is
// one of them.
func TestMetadataResyncsCounters(t *testing.T) {
	card := newTestCard()
	s := newTestSession(t, card)

	card.pinCount = 1
	md, err := s.Metadata(CredentialPIN)
	require.NoError(t, err)
	assert.Equal(t, 1, md.RetriesRemaining)
	assert.Equal(t, 1, s.pin.count)
	assert.True(t, s.pin.known)
}

func TestMetadataVersionGate(t *testing.T) {
	card := newTestCard()
	card.version = [3]byte{4, 3, 7}
	s := newTestSession(t, card)
	before := card.transmits

	_, err := s.Metadata(CredentialPIN)
	require.ErrorIs(t, err, ErrNotSupported)
	assert.Equal(t, before, card.transmits)
}
