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
	"crypto/aes"
	"crypto/cipher"
	"crypto/des" //nolint:gosec // 3DES is the applet family's factory algorithm
	"fmt"
	"io"

	"github.com/jeremyhahn/go-smartcard/internal/secret"
)

// Algorithm identifies a management key algorithm by its card-assigned
// identifier byte.
type Algorithm byte

const (
	Alg3DES   Algorithm = 0x03
	AlgAES128 Algorithm = 0x08
	AlgAES192 Algorithm = 0x0A
	AlgAES256 Algorithm = 0x0C
)

// Valid reports whether the algorithm is one of the supported
// management key algorithms.
func (a Algorithm) Valid() bool {
	switch a {
	case Alg3DES, AlgAES128, AlgAES192, AlgAES256:
		return true
	}
	return false
}

// KeySize returns the key length in bytes, 0 for unknown algorithms.
func (a Algorithm) KeySize() int {
	switch a {
	case Alg3DES, AlgAES192:
		return 24
	case AlgAES128:
		return 16
	case AlgAES256:
		return 32
	}
	return 0
}

// BlockSize returns the cipher block length in bytes, 0 for unknown
// algorithms. Mutual authentication exchanges one block as witness,
// challenge, and response.
func (a Algorithm) BlockSize() int {
	switch a {
	case Alg3DES:
		return 8
	case AlgAES128, AlgAES192, AlgAES256:
		return 16
	}
	return 0
}

func (a Algorithm) String() string {
	switch a {
	case Alg3DES:
		return "3DES"
	case AlgAES128:
		return "AES-128"
	case AlgAES192:
		return "AES-192"
	case AlgAES256:
		return "AES-256"
	}
	return fmt.Sprintf("Algorithm(%02X)", byte(a))
}

// newCipher builds the block cipher for a management key.
func (a Algorithm) newCipher(key []byte) (cipher.Block, error) {
	switch a {
	case Alg3DES:
		return des.NewTripleDESCipher(key) //nolint:gosec
	case AlgAES128, AlgAES192, AlgAES256:
		return aes.NewCipher(key)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, a)
}

// ManagementKey is a symmetric card management key together with its
// algorithm.
type ManagementKey struct {
	Algorithm Algorithm
	Key       []byte
}

// NewManagementKey validates and wraps key material. The slice is used
// as-is, not copied; wiping it wipes the key.
func NewManagementKey(alg Algorithm, key []byte) (ManagementKey, error) {
	k := ManagementKey{Algorithm: alg, Key: key}
	if err := k.Validate(); err != nil {
		return ManagementKey{}, err
	}
	return k, nil
}

// GenerateManagementKey draws a fresh random key for the algorithm.
func GenerateManagementKey(rand io.Reader, alg Algorithm) (ManagementKey, error) {
	if !alg.Valid() {
		return ManagementKey{}, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
	key := make([]byte, alg.KeySize())
	if _, err := io.ReadFull(rand, key); err != nil {
		return ManagementKey{}, fmt.Errorf("piv: generate management key: %w", err)
	}
	return ManagementKey{Algorithm: alg, Key: key}, nil
}

// DefaultManagementKey returns the factory 3DES management key. A fresh
// copy is returned each call so callers can wipe it independently.
func DefaultManagementKey() ManagementKey {
	return ManagementKey{
		Algorithm: Alg3DES,
		Key: []byte{
			0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
			0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
			0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		},
	}
}

// Validate checks the algorithm and key length without touching the
// card.
func (k ManagementKey) Validate() error {
	if !k.Algorithm.Valid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, k.Algorithm)
	}
	if len(k.Key) != k.Algorithm.KeySize() {
		return fmt.Errorf("%w: %s requires %d bytes, got %d",
			ErrInvalidKeyLength, k.Algorithm, k.Algorithm.KeySize(), len(k.Key))
	}
	return nil
}

// Zero wipes the key material.
func (k ManagementKey) Zero() {
	secret.Wipe(k.Key)
}

// IsDefault reports whether the key equals the factory key, compared in
// constant time.
func (k ManagementKey) IsDefault() bool {
	def := DefaultManagementKey()
	defer def.Zero()
	return k.Algorithm == def.Algorithm && secret.Equal(k.Key, def.Key)
}
