// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cert

import "github.com/palform/palcrypt/policy"

// KeyMetadata summarizes a certificate for display.
type KeyMetadata struct {
	// Fingerprint is the certificate fingerprint in its canonical encoding.
	Fingerprint string `json:"fingerprint"`
	// Algo names the algorithm of the storage encryption key.
	Algo string `json:"algo"`
	// HasSecret reports whether the storage encryption key carries secret
	// material that is usable without a passphrase.
	HasSecret bool `json:"has_secret"`
}

// GetMetadata parses a secret or public certificate and describes its first
// storage encryption key under the standard policy.
func GetMetadata(armored string) (*KeyMetadata, error) {
	return GetMetadataWithPolicy(armored, policy.Standard())
}

// GetMetadataWithPolicy is like GetMetadata, but evaluates under p.
func GetMetadataWithPolicy(armored string, p *policy.Policy) (*KeyMetadata, error) {
	c, err := ParseSecretOrPublic(armored)
	if err != nil {
		return nil, err
	}
	v, err := c.WithPolicy(p)
	if err != nil {
		return nil, err
	}
	k := v.firstStorageEncryptionKey()
	if k == nil {
		return nil, ErrNoStorageEncryptionKey
	}
	return &KeyMetadata{
		Fingerprint: c.Fingerprint().String(),
		Algo:        k.Algorithm().String(),
		HasSecret:   k.HasUnencryptedSecret(),
	}, nil
}

// StripSecret parses a secret certificate, validates it, and returns the
// armored public certificate.
func StripSecret(armored string) (string, error) {
	sc, err := ParseSecret(armored)
	if err != nil {
		return "", err
	}
	if err := Validate(sc); err != nil {
		return "", err
	}
	return sc.Armor(), nil
}
