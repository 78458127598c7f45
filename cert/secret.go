// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cert

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// Work factors for passphrase protection, as log2 of the scrypt N parameter.
const (
	DefaultLogN = 18 // about 1s on a modern machine
	MaxLogN     = 22 // about 15s on a modern machine
	minLogN     = 1
)

const scryptLabel = "palcrypt.palform.app/v1/scrypt"

var (
	// ErrKeyLocked is returned when secret material is needed but is
	// passphrase protected.
	ErrKeyLocked = errors.New("secret key material is passphrase protected")

	// ErrIncorrectPassphrase is returned when protected secret material
	// fails to decrypt. It does not distinguish a wrong passphrase from
	// corrupted material.
	ErrIncorrectPassphrase = errors.New("incorrect passphrase or corrupted secret key")
)

// SecretKey is a key carrying secret material, obtained from a SecretCert.
type SecretKey struct {
	*Key
}

// Encrypted reports whether the secret material is passphrase protected.
func (k *SecretKey) Encrypted() bool { return k.secret.sealed != nil }

// Material returns a copy of the raw secret key, which is a seed for
// Ed25519 and X25519MLKEM768 and a scalar for X25519.
func (k *SecretKey) Material() ([]byte, error) {
	if k.Encrypted() {
		return nil, ErrKeyLocked
	}
	return bytes.Clone(k.secret.plain), nil
}

func passphraseKey(passphrase, salt []byte, logN int) ([]byte, error) {
	s := append([]byte(scryptLabel), salt...)
	key, err := scrypt.Key(passphrase, s, 1<<logN, 8, 1, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key from passphrase: %v", err)
	}
	return key, nil
}

// Protect returns a copy of k with its secret material encrypted under
// passphrase, using scrypt with work factor 2^logN.
func (k *SecretKey) Protect(passphrase []byte, logN int) (*SecretKey, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}
	if logN < minLogN || logN > MaxLogN {
		return nil, fmt.Errorf("invalid scrypt work factor 2^%d", logN)
	}
	if k.Encrypted() {
		return nil, ErrKeyLocked
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key, err := passphraseKey(passphrase, salt, logN)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	// Each derived key seals exactly one message.
	nonce := make([]byte, chacha20poly1305.NonceSize)
	sealed := aead.Seal(nil, nonce, k.secret.plain, k.publicBody())

	kk := *k.Key
	kk.secret = &secretMaterial{logN: uint8(logN), salt: salt, sealed: sealed}
	return &SecretKey{&kk}, nil
}

// Unprotect returns a copy of k with its secret material decrypted. If k is
// not protected, it is returned unchanged.
func (k *SecretKey) Unprotect(passphrase []byte) (*SecretKey, error) {
	if !k.Encrypted() {
		return k, nil
	}
	s := k.secret
	if int(s.logN) < minLogN || int(s.logN) > MaxLogN {
		return nil, fmt.Errorf("scrypt work factor 2^%d out of range", s.logN)
	}
	key, err := passphraseKey(passphrase, s.salt, int(s.logN))
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	plain, err := aead.Open(nil, nonce, s.sealed, k.publicBody())
	if err != nil {
		return nil, ErrIncorrectPassphrase
	}
	if len(plain) != k.algo.SecretKeySize() {
		return nil, ErrIncorrectPassphrase
	}

	kk := *k.Key
	kk.secret = &secretMaterial{plain: plain}
	return &SecretKey{&kk}, nil
}
