// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package backup protects the secret material of a Palform private key under
// a passphrase, so that the key can be escrowed and later restored.
//
// Only the secret parts of each key change. User IDs, bindings and expiry
// are carried over as they are, so a protected key has the same fingerprint
// and public certificate as the original.
package backup

import (
	"errors"
	"fmt"

	"github.com/palform/palcrypt/cert"
)

// ErrEmptyPassphrase is returned when the passphrase is empty.
var ErrEmptyPassphrase = errors.New("empty passphrase")

// ErrIncorrectPassphrase is returned when a backed up key does not open with
// the passphrase.
var ErrIncorrectPassphrase = cert.ErrIncorrectPassphrase

// RestoredKeyResponse is the result of DecryptBackedUpKey.
type RestoredKeyResponse struct {
	DecryptedPrivatePEM string `json:"decrypted_private_pem"`
	Fingerprint         string `json:"fingerprint"`
}

// Options configures passphrase protection.
type Options struct {
	// LogN is the scrypt work factor used when protecting keys, as log2 of
	// N. Zero means cert.DefaultLogN.
	LogN int
}

func (o *Options) logN() (int, error) {
	if o == nil || o.LogN == 0 {
		return cert.DefaultLogN, nil
	}
	if o.LogN < 1 || o.LogN > cert.MaxLogN {
		return 0, fmt.Errorf("scrypt work factor must be between 1 and %d", cert.MaxLogN)
	}
	return o.LogN, nil
}

// EncryptForBackup protects every unprotected key of secretPEM under
// passphrase with the default options.
func EncryptForBackup(secretPEM, passphrase string) (string, error) {
	return (*Options)(nil).EncryptForBackup(secretPEM, passphrase)
}

// DecryptBackedUpKey reverses EncryptForBackup.
func DecryptBackedUpKey(encryptedPEM, passphrase string) (*RestoredKeyResponse, error) {
	return (*Options)(nil).DecryptBackedUpKey(encryptedPEM, passphrase)
}

// EncryptForBackup parses secretPEM, checks that it is valid under the
// standard policy, and returns it armored with the secret material of every
// unprotected key encrypted under passphrase. Keys that are already
// protected are left as they are.
func (o *Options) EncryptForBackup(secretPEM, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}
	logN, err := o.logN()
	if err != nil {
		return "", err
	}
	sc, err := parseValid(secretPEM)
	if err != nil {
		return "", err
	}

	var protected []*cert.SecretKey
	for _, k := range sc.SecretKeys() {
		if k.Encrypted() {
			continue
		}
		pk, err := k.Protect([]byte(passphrase), logN)
		if err != nil {
			return "", fmt.Errorf("key %v: %w", k.KeyID(), err)
		}
		protected = append(protected, pk)
	}
	out, err := sc.InsertKeys(protected...)
	if err != nil {
		return "", err
	}
	return out.ArmorSecret(), nil
}

// DecryptBackedUpKey parses encryptedPEM, checks that it is valid under the
// standard policy, and decrypts the secret material of every protected key
// with passphrase. If any key fails to decrypt, it returns
// ErrIncorrectPassphrase and no key material.
func (o *Options) DecryptBackedUpKey(encryptedPEM, passphrase string) (*RestoredKeyResponse, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	sc, err := parseValid(encryptedPEM)
	if err != nil {
		return nil, err
	}

	var restored []*cert.SecretKey
	for _, k := range sc.SecretKeys() {
		if !k.Encrypted() {
			continue
		}
		uk, err := k.Unprotect([]byte(passphrase))
		if err != nil {
			return nil, err
		}
		restored = append(restored, uk)
	}
	out, err := sc.InsertKeys(restored...)
	if err != nil {
		return nil, err
	}
	return &RestoredKeyResponse{
		DecryptedPrivatePEM: out.ArmorSecret(),
		Fingerprint:         out.Fingerprint().String(),
	}, nil
}

func parseValid(pem string) (*cert.SecretCert, error) {
	sc, err := cert.ParseSecret(pem)
	if err != nil {
		return nil, err
	}
	if err := cert.Validate(sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// IsProtected reports whether any key of secretPEM is passphrase protected.
func IsProtected(secretPEM string) (bool, error) {
	sc, err := cert.ParseSecret(secretPEM)
	if err != nil {
		return false, err
	}
	for _, k := range sc.SecretKeys() {
		if k.Encrypted() {
			return true, nil
		}
	}
	return false, nil
}
