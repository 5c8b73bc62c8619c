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
	"io"

	"github.com/jeremyhahn/go-smartcard/internal/secret"
	"github.com/jeremyhahn/go-smartcard/pkg/apdu"
	"github.com/jeremyhahn/go-smartcard/pkg/tlv"
)

// encodePIN pads a PIN or PUK to the fixed 8-byte reference data
// format. Callers wipe the returned buffer.
func encodePIN(pin string) ([]byte, error) {
	if len(pin) < 6 || len(pin) > 8 {
		return nil, ErrInvalidPINLength
	}
	ref := make([]byte, 8)
	copy(ref, pin)
	for i := len(pin); i < 8; i++ {
		ref[i] = 0xFF
	}
	return ref, nil
}

func (s *Session) retryFor(cred Credential) *retryState {
	if cred == CredentialPUK {
		return &s.puk
	}
	return &s.pin
}

func blockedErr(cred Credential) error {
	if cred == CredentialPUK {
		return ErrPUKBlocked
	}
	return ErrPINBlocked
}

// referenceFailure maps a failed reference data exchange onto the
// cached counter for cred. Counts move only on card reports, so a
// status without one leaves the cache untouched.
func (s *Session) referenceFailure(cred Credential, op string, sw apdu.Status) error {
	if n, ok := sw.RetryCount(); ok {
		s.retryFor(cred).sync(n)
		if n == 0 {
			return blockedErr(cred)
		}
		return &AuthError{Credential: cred, Retries: n}
	}
	if sw == apdu.SWAuthMethodBlocked {
		s.retryFor(cred).sync(0)
		return blockedErr(cred)
	}
	return fmt.Errorf("piv: %s: %w", op, &apdu.StatusError{Status: sw})
}

// VerifyPIN proves knowledge of the PIN to the card. Success grants
// PIN-gated access for the rest of the session and replenishes the
// retry counter. A wrong PIN returns an AuthError carrying the
// card-reported remaining count; when the count reaches zero the
// session enters the blocked state and every later call that needs the
// PIN fails with ErrPINBlocked before any transport I/O.
func (s *Session) VerifyPIN(pin string) error {
	if s.pin.blocked {
		return ErrPINBlocked
	}
	ref, err := encodePIN(pin)
	if err != nil {
		return err
	}
	defer secret.Wipe(ref)

	resp, err := s.send(apdu.Command{Ins: insVerify, P2: byte(CredentialPIN), Data: ref})
	if err != nil {
		return err
	}
	if !resp.Status().OK() {
		return s.referenceFailure(CredentialPIN, "verify pin", resp.Status())
	}
	s.pinVerified = true
	s.pin.fresh()
	return nil
}

// Retries reports the remaining PIN attempts without consuming one,
// using a verify exchange with an empty body. A blocked PIN reports
// zero locally.
func (s *Session) Retries() (int, error) {
	if s.pin.blocked {
		return 0, nil
	}
	resp, err := s.send(apdu.Command{Ins: insVerify, P2: byte(CredentialPIN)})
	if err != nil {
		return 0, err
	}
	sw := resp.Status()
	if n, ok := sw.RetryCount(); ok {
		s.pin.sync(n)
		return n, nil
	}
	switch {
	case sw.OK():
		// Already verified; a successful verify refilled the counter.
		s.pin.fresh()
		return s.pin.count, nil
	case sw == apdu.SWAuthMethodBlocked:
		s.pin.sync(0)
		return 0, nil
	}
	return 0, fmt.Errorf("piv: query retries: %w", &apdu.StatusError{Status: sw})
}

// ChangePIN replaces the PIN, proving the old value in the same
// exchange.
//
// When the derived PIN-only mode is active the stored salt only
// produces the management key together with the PIN it was enrolled
// under, so a direct change detaches that bookkeeping. UpdatePIN
// changes the PIN and re-enrolls the stored material in one operation.
func (s *Session) ChangePIN(oldPIN, newPIN string) error {
	if err := s.changeReference(CredentialPIN, "change pin", oldPIN, newPIN); err != nil {
		return err
	}
	return s.unlinkDerivedKey(oldPIN)
}

// ChangePUK replaces the PUK, proving the old value in the same
// exchange.
func (s *Session) ChangePUK(oldPUK, newPUK string) error {
	return s.changeReference(CredentialPUK, "change puk", oldPUK, newPUK)
}

func (s *Session) changeReference(cred Credential, op, oldSecret, newSecret string) error {
	if s.retryFor(cred).blocked {
		return blockedErr(cred)
	}
	data := make([]byte, 0, 16)
	defer secret.Wipe(data)
	for _, v := range []string{oldSecret, newSecret} {
		ref, err := encodePIN(v)
		if err != nil {
			return err
		}
		data = append(data, ref...)
		secret.Wipe(ref)
	}

	resp, err := s.send(apdu.Command{Ins: insChangeReference, P2: byte(cred), Data: data})
	if err != nil {
		return err
	}
	if !resp.Status().OK() {
		return s.referenceFailure(cred, op, resp.Status())
	}
	s.retryFor(cred).fresh()
	return nil
}

// UnblockPIN sets a new PIN by proving the PUK, clearing a blocked PIN
// counter. Once the PUK itself is blocked this is refused locally;
// PIN-only modes block the PUK on purpose, which makes PUK-based reset
// permanently unavailable for the life of the applet instance.
func (s *Session) UnblockPIN(puk, newPIN string) error {
	if s.puk.blocked {
		return ErrPUKBlocked
	}
	data := make([]byte, 0, 16)
	defer secret.Wipe(data)
	for _, v := range []string{puk, newPIN} {
		ref, err := encodePIN(v)
		if err != nil {
			return err
		}
		data = append(data, ref...)
		secret.Wipe(ref)
	}

	resp, err := s.send(apdu.Command{Ins: insResetRetry, P2: byte(CredentialPIN), Data: data})
	if err != nil {
		return err
	}
	if !resp.Status().OK() {
		// The counter consumed here is the PUK's.
		return s.referenceFailure(CredentialPUK, "unblock pin", resp.Status())
	}
	s.puk.fresh()
	s.pin.fresh()
	return nil
}

// AuthenticateManagementKey runs the mutual challenge/response exchange
// for the card management key. The card proves possession first: it
// returns a witness (its challenge encrypted under its stored key)
// which the host must send back decrypted, together with a host
// challenge the card must encrypt in turn. Neither side ever transmits
// the key itself.
//
// The management key has no retry counter; a mismatch reports the
// failure kind only and the exchange can be repeated.
func (s *Session) AuthenticateManagementKey(key ManagementKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	block, err := key.Algorithm.newCipher(key.Key)
	if err != nil {
		return err
	}
	bs := key.Algorithm.BlockSize()

	auth, err := s.sendAuth(key.Algorithm, tlv.New(tagDynAuth, tlv.New(tagWitness)))
	if err != nil {
		return err
	}
	witness, ok := auth.GetValue(tagWitness)
	if !ok {
		return fmt.Errorf("%w: authentication template missing witness", ErrUnexpectedResponse)
	}
	if len(witness) != bs {
		return fmt.Errorf("%w: witness is %d bytes, want %d", ErrUnexpectedResponse, len(witness), bs)
	}
	decrypted := make([]byte, bs)
	defer secret.Wipe(decrypted)
	block.Decrypt(decrypted, witness)

	challenge := make([]byte, bs)
	if _, err := io.ReadFull(s.Rand, challenge); err != nil {
		return fmt.Errorf("piv: generating challenge: %w", err)
	}

	auth, err = s.sendAuth(key.Algorithm, tlv.New(tagDynAuth,
		tlv.NewValue(tagWitness, decrypted),
		tlv.NewValue(tagChallenge, challenge)))
	if err != nil {
		return err
	}
	cardResponse, ok := auth.GetValue(tagResponse)
	if !ok {
		return fmt.Errorf("%w: authentication template missing response", ErrUnexpectedResponse)
	}
	expected := make([]byte, bs)
	block.Encrypt(expected, challenge)
	if !secret.Equal(cardResponse, expected) {
		// The card failed to prove possession of the same key.
		return &AuthError{Credential: CredentialManagementKey, Retries: -1}
	}

	s.keyAuthenticated = true
	s.mgmtKeyAlg = key.Algorithm
	return nil
}

// sendAuth performs one GENERAL AUTHENTICATE exchange and returns the
// children of the dynamic authentication template.
func (s *Session) sendAuth(alg Algorithm, req tlv.TagValue) (tlv.TagValues, error) {
	data, err := tlv.Encode(req)
	if err != nil {
		return nil, err
	}
	defer secret.Wipe(data)

	resp, err := s.send(apdu.Command{
		Ins:  insGeneralAuthenticate,
		P1:   byte(alg),
		P2:   byte(CredentialManagementKey),
		Data: data,
		Ne:   apdu.MaxShortResponse,
	})
	if err != nil {
		return nil, err
	}
	switch sw := resp.Status(); {
	case sw.OK():
	case sw == apdu.SWSecurityStatusNotSatisfied:
		return nil, &AuthError{Credential: CredentialManagementKey, Retries: -1}
	default:
		return nil, fmt.Errorf("piv: general authenticate: %w", &apdu.StatusError{Status: sw})
	}

	outer, err := tlv.DecodeSingle(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("piv: general authenticate response: %w", err)
	}
	if outer.Tag != tagDynAuth {
		return nil, fmt.Errorf("%w: expected authentication template, got %s", ErrUnexpectedResponse, outer.Tag)
	}
	return outer.Nested()
}

// SetManagementKey installs a new management key. The current key must
// already be authenticated in this session; the check fails locally
// before any I/O. requireTouch asks the card to demand a physical
// touch for every later use of the key.
//
// A direct key change detaches any active PIN-only mode, since the
// stored salt and wrapped copy agreed with the key that was just
// replaced. SetPINOnlyMode rotates the key and the stored material
// together.
func (s *Session) SetManagementKey(key ManagementKey, requireTouch bool) error {
	if err := s.setManagementKey(key, requireTouch); err != nil {
		return err
	}
	return s.unlinkManagementKey()
}

func (s *Session) setManagementKey(key ManagementKey, requireTouch bool) error {
	if !s.keyAuthenticated {
		return ErrNotAuthenticated
	}
	if err := key.Validate(); err != nil {
		return err
	}
	p2 := byte(0xFF)
	if requireTouch {
		p2 = 0xFE
	}
	data := make([]byte, 0, 3+len(key.Key))
	defer secret.Wipe(data)
	data = append(data, byte(key.Algorithm), byte(CredentialManagementKey), byte(len(key.Key)))
	data = append(data, key.Key...)

	resp, err := s.send(apdu.Command{Ins: insSetManagementKey, P1: 0xFF, P2: p2, Data: data})
	if err != nil {
		return err
	}
	if !resp.Status().OK() {
		return fmt.Errorf("piv: set management key: %w", &apdu.StatusError{Status: resp.Status()})
	}
	s.mgmtKeyAlg = key.Algorithm
	return nil
}

// SetRetries configures new PIN and PUK retry maxima. Requires an
// authenticated management key. The card resets both secrets to their
// factory values and replenishes both counters, so the cached state is
// marked fresh, including previously blocked flags.
func (s *Session) SetRetries(pinRetries, pukRetries int) error {
	if !s.keyAuthenticated {
		return ErrNotAuthenticated
	}
	if pinRetries < 1 || pinRetries > 255 || pukRetries < 1 || pukRetries > 255 {
		return ErrInvalidRetryCount
	}
	resp, err := s.send(apdu.Command{Ins: insSetPINRetries, P1: byte(pinRetries), P2: byte(pukRetries)})
	if err != nil {
		return err
	}
	if !resp.Status().OK() {
		return fmt.Errorf("piv: set retries: %w", &apdu.StatusError{Status: resp.Status()})
	}
	s.pin.max = pinRetries
	s.puk.max = pukRetries
	s.pin.fresh()
	s.puk.fresh()
	return nil
}

// unlinkDerivedKey clears a stored derived-key salt after a direct PIN
// change. Writing administrative data needs an authenticated
// management key; when the session lacks one, the key the old PIN
// still derives is used to establish it. If that fails the salt stays
// behind, already unable to reproduce the current key.
func (s *Session) unlinkDerivedKey(oldPIN string) error {
	admin, err := s.getAdminData()
	if err != nil {
		return fmt.Errorf("piv: detach derived key: %w", err)
	}
	if len(admin.Salt) == 0 {
		return nil
	}
	if !s.keyAuthenticated {
		key, err := s.deriveManagementKey(oldPIN, admin.Salt)
		if err != nil {
			return nil
		}
		defer key.Zero()
		if err := s.AuthenticateManagementKey(key); err != nil {
			return nil
		}
	}
	admin.Salt = nil
	admin.Updated = s.now()
	if err := s.putAdminData(admin); err != nil {
		return fmt.Errorf("piv: detach derived key: %w", err)
	}
	return nil
}

// unlinkManagementKey clears PIN-only bookkeeping after a direct key
// change. Runs with the management key already authenticated.
func (s *Session) unlinkManagementKey() error {
	admin, err := s.getAdminData()
	if err != nil {
		return fmt.Errorf("piv: detach pin-only material: %w", err)
	}
	if len(admin.Salt) == 0 && !admin.KeyProtected {
		return nil
	}
	if admin.KeyProtected {
		if err := s.DeleteObject(ObjectPINProtected); err != nil {
			return fmt.Errorf("piv: detach pin-only material: %w", err)
		}
	}
	admin.Salt = nil
	admin.KeyProtected = false
	admin.Updated = s.now()
	if err := s.putAdminData(admin); err != nil {
		return fmt.Errorf("piv: detach pin-only material: %w", err)
	}
	return nil
}
