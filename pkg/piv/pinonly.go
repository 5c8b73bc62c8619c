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
	"io"
)

// PINOnlyMode describes which PIN-only management key constructions
// are enrolled. The two modes are independent bits and can be active
// at the same time, in which case a single key satisfies both.
type PINOnlyMode int

const (
	// PINOnlyNone means the management key is independent of the PIN.
	PINOnlyNone PINOnlyMode = 0

	// PINOnlyDerived reproduces the management key from the PIN and a
	// stored salt; no key material lives on the card.
	PINOnlyDerived PINOnlyMode = 1 << 0

	// PINOnlyProtected stores the management key in the PIN-gated
	// secret container.
	PINOnlyProtected PINOnlyMode = 1 << 1
)

// Valid reports whether m is a defined combination of mode bits.
func (m PINOnlyMode) Valid() bool {
	return m >= PINOnlyNone && m <= PINOnlyDerived|PINOnlyProtected
}

// Derived reports whether the derived bit is set.
func (m PINOnlyMode) Derived() bool { return m&PINOnlyDerived != 0 }

// Protected reports whether the protected bit is set.
func (m PINOnlyMode) Protected() bool { return m&PINOnlyProtected != 0 }

func (m PINOnlyMode) String() string {
	switch m {
	case PINOnlyNone:
		return "none"
	case PINOnlyDerived:
		return "derived"
	case PINOnlyProtected:
		return "protected"
	case PINOnlyDerived | PINOnlyProtected:
		return "derived+protected"
	}
	return fmt.Sprintf("PINOnlyMode(%d)", int(m))
}

// GetPINOnlyMode reports which PIN-only constructions have bookkeeping
// on the card. It inspects administrative data only; no secrets are
// touched and no authentication state changes.
func (s *Session) GetPINOnlyMode() (PINOnlyMode, error) {
	admin, err := s.getAdminData()
	if err != nil {
		return PINOnlyNone, err
	}
	return pinOnlyModeOf(admin), nil
}

func pinOnlyModeOf(admin *AdminData) PINOnlyMode {
	mode := PINOnlyNone
	if len(admin.Salt) > 0 {
		mode |= PINOnlyDerived
	}
	if admin.KeyProtected {
		mode |= PINOnlyProtected
	}
	return mode
}

// AuthenticateWithPIN establishes management key authentication from
// the PIN alone, using whichever PIN-only construction is enrolled.
// Derived mode recomputes the key from the PIN and stored salt;
// protected mode verifies the PIN and reads the stored copy. Fails
// with ErrPINOnlyNotActive when no bookkeeping exists.
func (s *Session) AuthenticateWithPIN(pin string) error {
	admin, err := s.getAdminData()
	if err != nil {
		return err
	}
	return s.authenticateWithPIN(pin, admin)
}

func (s *Session) authenticateWithPIN(pin string, admin *AdminData) error {
	switch {
	case admin.KeyProtected:
		if err := s.VerifyPIN(pin); err != nil {
			return err
		}
		stored, err := s.getPINProtectedData()
		if err != nil {
			return err
		}
		defer stored.Zero()
		if stored.IsEmpty() {
			return ErrPINOnlyNotActive
		}
		key, err := s.storedManagementKey(stored.ManagementKey)
		if err != nil {
			return err
		}
		return s.AuthenticateManagementKey(key)

	case len(admin.Salt) > 0:
		key, err := s.deriveManagementKey(pin, admin.Salt)
		if err != nil {
			return err
		}
		defer key.Zero()
		return s.AuthenticateManagementKey(key)
	}
	return ErrPINOnlyNotActive
}

// SetPINOnlyMode moves the card between PIN-only management key modes.
//
// Enabling a mode installs a fresh management key under alg: derived
// mode computes it from the PIN and a new random salt, protected mode
// generates it randomly and stores a PIN-gated copy, and enabling both
// shares the derived construction's key. Either enablement permanently
// blocks the PUK, because a PUK-based PIN reset would orphan material
// tied to the PIN. Re-enabling with a different algorithm regenerates
// the key and all stored material under the new algorithm.
//
// PINOnlyNone restores the factory default management key and clears
// the stored material; the PUK stays blocked.
//
// Management authentication comes from whatever is available: an
// authentication already held by the session, the active mode's key
// resolved from the PIN, or the factory default key. A card holding a
// custom key without PIN-only bookkeeping needs
// AuthenticateManagementKey first.
func (s *Session) SetPINOnlyMode(pin string, mode PINOnlyMode, alg Algorithm) error {
	if !mode.Valid() {
		return ErrInvalidMode
	}
	if mode != PINOnlyNone && !alg.Valid() {
		return ErrUnsupportedAlgorithm
	}
	admin, err := s.getAdminData()
	if err != nil {
		return err
	}
	if err := s.authenticateForTransition(pin, admin); err != nil {
		return err
	}
	if mode == PINOnlyNone {
		return s.disablePINOnly(admin)
	}
	return s.enablePINOnly(pin, mode, alg, admin)
}

// UpdatePIN changes the PIN and re-enrolls PIN-dependent key material
// in the same operation, so the stored bookkeeping keeps matching the
// PIN. Without an active derived mode it behaves like ChangePIN.
func (s *Session) UpdatePIN(oldPIN, newPIN string) error {
	admin, err := s.getAdminData()
	if err != nil {
		return err
	}
	if len(admin.Salt) == 0 {
		return s.ChangePIN(oldPIN, newPIN)
	}

	// Rewriting the salt needs the management key, which the old PIN
	// still derives.
	if !s.keyAuthenticated {
		key, err := s.deriveManagementKey(oldPIN, admin.Salt)
		if err != nil {
			return err
		}
		defer key.Zero()
		if err := s.AuthenticateManagementKey(key); err != nil {
			return err
		}
	}
	if err := s.changeReference(CredentialPIN, "change pin", oldPIN, newPIN); err != nil {
		return err
	}

	salt := make([]byte, SaltLength)
	if _, err := io.ReadFull(s.Rand, salt); err != nil {
		return fmt.Errorf("piv: generating salt: %w", err)
	}
	alg := s.managementKeyAlgorithm()
	key, err := s.newDerivedKey(newPIN, salt, alg)
	if err != nil {
		return err
	}
	defer key.Zero()
	if err := s.setManagementKey(key, false); err != nil {
		return err
	}
	if admin.KeyProtected {
		if err := s.PutObject(&PINProtectedData{ManagementKey: key.Key}); err != nil {
			return err
		}
	}
	admin.Salt = salt
	admin.Updated = s.now()
	return s.putAdminData(admin)
}

// authenticateForTransition establishes management authentication for
// a mode change: an authentication the session already holds is
// reused, enrolled bookkeeping resolves the key from the PIN, and a
// factory-fresh card falls back to the default key.
func (s *Session) authenticateForTransition(pin string, admin *AdminData) error {
	if s.keyAuthenticated {
		return nil
	}
	if admin.KeyProtected || len(admin.Salt) > 0 {
		return s.authenticateWithPIN(pin, admin)
	}
	def := DefaultManagementKey()
	defer def.Zero()
	return s.AuthenticateManagementKey(def)
}

func (s *Session) disablePINOnly(admin *AdminData) error {
	def := DefaultManagementKey()
	defer def.Zero()
	if err := s.setManagementKey(def, false); err != nil {
		return err
	}
	if admin.KeyProtected {
		if err := s.DeleteObject(ObjectPINProtected); err != nil {
			return err
		}
	}
	admin.Salt = nil
	admin.KeyProtected = false
	admin.Updated = s.now()
	return s.putAdminData(admin)
}

func (s *Session) enablePINOnly(pin string, mode PINOnlyMode, alg Algorithm, admin *AdminData) error {
	// The PIN feeds the derived construction and gates the stored
	// copy; prove it before changing anything.
	if err := s.VerifyPIN(pin); err != nil {
		return err
	}

	var key ManagementKey
	var salt []byte
	if mode.Derived() {
		salt = make([]byte, SaltLength)
		if _, err := io.ReadFull(s.Rand, salt); err != nil {
			return fmt.Errorf("piv: generating salt: %w", err)
		}
		k, err := s.newDerivedKey(pin, salt, alg)
		if err != nil {
			return err
		}
		key = k
	} else {
		k, err := GenerateManagementKey(s.Rand, alg)
		if err != nil {
			return err
		}
		key = k
	}
	defer key.Zero()

	if err := s.setManagementKey(key, false); err != nil {
		return err
	}
	if mode.Protected() {
		if err := s.PutObject(&PINProtectedData{ManagementKey: key.Key}); err != nil {
			return err
		}
	} else if admin.KeyProtected {
		// Protected mode is being dropped; discard the stored copy.
		if err := s.DeleteObject(ObjectPINProtected); err != nil {
			return err
		}
	}

	if !admin.PUKBlocked {
		if err := s.blockPUK(); err != nil {
			return err
		}
	}

	admin.Salt = salt
	admin.KeyProtected = mode.Protected()
	admin.PUKBlocked = true
	admin.Updated = s.now()
	return s.putAdminData(admin)
}

// newDerivedKey builds the management key the given PIN and salt
// produce under alg.
func (s *Session) newDerivedKey(pin string, salt []byte, alg Algorithm) (ManagementKey, error) {
	if len(pin) < 6 || len(pin) > 8 {
		return ManagementKey{}, ErrInvalidPINLength
	}
	raw, err := s.KDF.DeriveKey([]byte(pin), salt, alg.KeySize())
	if err != nil {
		return ManagementKey{}, fmt.Errorf("piv: deriving management key: %w", err)
	}
	return NewManagementKey(alg, raw)
}

// deriveManagementKey reproduces the derived-mode key from the PIN and
// the stored salt under the algorithm currently on the card.
func (s *Session) deriveManagementKey(pin string, salt []byte) (ManagementKey, error) {
	if len(salt) != SaltLength {
		return ManagementKey{}, ErrInvalidSaltLength
	}
	return s.newDerivedKey(pin, salt, s.managementKeyAlgorithm())
}

// managementKeyAlgorithm resolves the algorithm of the key currently
// on the card: the applet's own report when available, otherwise the
// algorithm this session installed, otherwise the factory default.
func (s *Session) managementKeyAlgorithm() Algorithm {
	if s.version.AtLeast(5, 3, 0) {
		if md, err := s.Metadata(CredentialManagementKey); err == nil && md.Algorithm.Valid() {
			return md.Algorithm
		}
	}
	if s.mgmtKeyAlg.Valid() {
		return s.mgmtKeyAlg
	}
	return Alg3DES
}

// storedManagementKey types a raw key read from the protected
// container. The applet's algorithm report wins; otherwise the key
// length decides, reading 24 bytes as the legacy cipher.
func (s *Session) storedManagementKey(raw []byte) (ManagementKey, error) {
	alg := s.managementKeyAlgorithm()
	if alg.KeySize() != len(raw) {
		switch len(raw) {
		case 16:
			alg = AlgAES128
		case 24:
			alg = Alg3DES
		case 32:
			alg = AlgAES256
		default:
			return ManagementKey{}, ErrInvalidKeyLength
		}
	}
	return NewManagementKey(alg, raw)
}

// Wrong-PUK candidates used to exhaust the counter. Two are enough: a
// change that accidentally succeeds sets the PUK to the candidate
// itself, which the other candidate can never match.
var wrongPUKs = [...]string{
	"\xff\xff\xff\xff\xff\xff\xff\xff",
	"\x00\x00\x00\x00\x00\x00\x00\x00",
}

// blockPUK deliberately exhausts the PUK retry counter. Counter maxima
// are byte-wide, so the bound only guards a card that never reports
// the blocked state.
func (s *Session) blockPUK() error {
	const maxAttempts = 260
	cand := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.changeReference(CredentialPUK, "block puk", wrongPUKs[cand], wrongPUKs[cand])
		if err == nil {
			cand = 1 - cand
			continue
		}
		if errors.Is(err, ErrPUKBlocked) {
			return nil
		}
		var authErr *AuthError
		if errors.As(err, &authErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("piv: puk still usable after %d change attempts", maxAttempts)
}
