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

// Package kdf derives symmetric key material from low-entropy secrets.
// The card management ecosystem derives PIN-based management keys with
// PBKDF2-HMAC-SHA1 at 10000 iterations; those are the defaults here so
// derived keys interoperate with existing tooling.
package kdf

import (
	"crypto/sha1" //nolint:gosec // fixed by the deployed derivation scheme
	"errors"
	"hash"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrEmptySecret is returned when no secret material is provided.
	ErrEmptySecret = errors.New("kdf: empty secret")

	// ErrEmptySalt is returned when no salt is provided.
	ErrEmptySalt = errors.New("kdf: empty salt")

	// ErrInvalidLength is returned when the requested key length is not
	// positive.
	ErrInvalidLength = errors.New("kdf: invalid key length")

	// ErrInvalidIterations is returned when the iteration count is not
	// positive.
	ErrInvalidIterations = errors.New("kdf: invalid iteration count")
)

// Deriver turns a secret and salt into key material of a requested
// length.
type Deriver interface {
	DeriveKey(secret, salt []byte, length int) ([]byte, error)
}

// Interoperability defaults.
const (
	DefaultIterations = 10000
)

// PBKDF2 implements Deriver with PBKDF2-HMAC.
type PBKDF2 struct {
	Iterations int
	Hash       func() hash.Hash
}

// NewPBKDF2 returns a PBKDF2 deriver with the ecosystem defaults
// (10000 iterations, SHA-1).
func NewPBKDF2() *PBKDF2 {
	return &PBKDF2{
		Iterations: DefaultIterations,
		Hash:       sha1.New,
	}
}

// DeriveKey derives length bytes from secret and salt. The caller owns
// the returned slice and is responsible for wiping it.
func (k *PBKDF2) DeriveKey(secret, salt []byte, length int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if len(salt) == 0 {
		return nil, ErrEmptySalt
	}
	if length <= 0 {
		return nil, ErrInvalidLength
	}
	if k.Iterations <= 0 {
		return nil, ErrInvalidIterations
	}
	h := k.Hash
	if h == nil {
		h = sha1.New
	}
	return pbkdf2.Key(secret, salt, k.Iterations, length, h), nil
}

var _ Deriver = (*PBKDF2)(nil)
