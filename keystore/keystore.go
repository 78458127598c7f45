// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package keystore keeps Palform private keys in an OS keyring and resolves
// sealed messages against them.
//
// Each certificate is stored as an armored private key under
// "cert:<fingerprint>", and each of its subkeys has a "keyid:<key ID>" item
// pointing back to the fingerprint. Keys may be stored backup-protected, in
// which case Resolve asks for the passphrase.
package keystore

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"github.com/palform/palcrypt"
	"github.com/palform/palcrypt/backup"
	"github.com/palform/palcrypt/cert"
)

const (
	certPrefix  = "cert:"
	keyIDPrefix = "keyid:"
)

// ErrNotFound is returned for a fingerprint that is not in the keystore.
var ErrNotFound = errors.New("key not found in keystore")

// Keystore is a set of private keys in a keyring.
type Keystore struct {
	ring keyring.Keyring

	// Passphrase is called by Resolve to unlock a backup-protected key. If
	// it is nil, protected keys fail to resolve with cert.ErrKeyLocked.
	Passphrase func(fpr cert.Fingerprint) (string, error)
}

var _ palcrypt.KeyResolver = &Keystore{}

// New returns a Keystore backed by ring.
func New(ring keyring.Keyring) *Keystore {
	return &Keystore{ring: ring}
}

// Open opens the keyring described by cfg.
func Open(cfg keyring.Config) (*Keystore, error) {
	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return New(ring), nil
}

// Entry describes a stored key.
type Entry struct {
	Fingerprint cert.Fingerprint
	UserIDs     []string
	// Protected reports whether the key is stored backup-protected.
	Protected bool
	// Expires is the expiry of the first storage encryption key, if any.
	Expires time.Time
}

// Import validates privatePEM and stores it, replacing any previous copy of
// the same certificate.
func (s *Keystore) Import(privatePEM string) (*Entry, error) {
	sc, err := cert.ParseSecret(privatePEM)
	if err != nil {
		return nil, err
	}
	if err := cert.Validate(sc); err != nil {
		return nil, err
	}
	fpr := sc.Fingerprint()
	e := entry(sc)

	// Index items go in first, so a stored key is always reachable. If the
	// key is new, a failure removes the items this call wrote.
	_, err = s.ring.Get(certPrefix + fpr.String())
	replacing := err == nil
	var written []string
	fail := func(err error) (*Entry, error) {
		if !replacing {
			for _, key := range written {
				s.ring.Remove(key)
			}
		}
		return nil, err
	}
	for _, k := range sc.Keys()[1:] {
		key := keyIDPrefix + k.KeyID().String()
		if err := s.ring.Set(keyring.Item{
			Key:   key,
			Data:  []byte(fpr.String()),
			Label: "palcrypt key ID " + k.KeyID().String(),
		}); err != nil {
			return fail(fmt.Errorf("indexing key %v: %w", k.KeyID(), err))
		}
		written = append(written, key)
	}
	if err := s.ring.Set(keyring.Item{
		Key:         certPrefix + fpr.String(),
		Data:        []byte(sc.ArmorSecret()),
		Label:       "palcrypt key " + fpr.String(),
		Description: strings.Join(e.UserIDs, ", "),
	}); err != nil {
		return fail(fmt.Errorf("storing key %v: %w", fpr, err))
	}
	return e, nil
}

func entry(sc *cert.SecretCert) *Entry {
	e := &Entry{
		Fingerprint: sc.Fingerprint(),
		UserIDs:     sc.UserIDs(),
	}
	for _, k := range sc.SecretKeys() {
		if k.Encrypted() {
			e.Protected = true
		}
	}
	for _, k := range sc.Keys() {
		if k.ForStorageEncryption() {
			e.Expires, _ = k.Expiry()
			break
		}
	}
	return e
}

// Get returns the stored armored private key with fingerprint fpr.
func (s *Keystore) Get(fpr cert.Fingerprint) (string, error) {
	item, err := s.ring.Get(certPrefix + fpr.String())
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %v", ErrNotFound, fpr)
	} else if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

func (s *Keystore) load(fpr cert.Fingerprint) (*cert.SecretCert, error) {
	pem, err := s.Get(fpr)
	if err != nil {
		return nil, err
	}
	sc, err := cert.ParseSecret(pem)
	if err != nil {
		return nil, fmt.Errorf("stored key %v: %w", fpr, err)
	}
	return sc, nil
}

// List returns the stored keys, sorted by fingerprint.
func (s *Keystore) List() ([]*Entry, error) {
	keys, err := s.ring.Keys()
	if err != nil {
		return nil, err
	}
	var entries []*Entry
	for _, key := range keys {
		hex, ok := strings.CutPrefix(key, certPrefix)
		if !ok {
			continue
		}
		fpr, err := cert.ParseFingerprint(hex)
		if err != nil {
			continue
		}
		sc, err := s.load(fpr)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry(sc))
	}
	slices.SortFunc(entries, func(a, b *Entry) int {
		return strings.Compare(a.Fingerprint.String(), b.Fingerprint.String())
	})
	return entries, nil
}

// Remove deletes the key with fingerprint fpr and its index items.
func (s *Keystore) Remove(fpr cert.Fingerprint) error {
	sc, err := s.load(fpr)
	if err != nil {
		return err
	}
	for _, k := range sc.Keys()[1:] {
		err := s.ring.Remove(keyIDPrefix + k.KeyID().String())
		if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return err
		}
	}
	return s.ring.Remove(certPrefix + fpr.String())
}

// lookup returns the fingerprint of the certificate holding key id, if any.
func (s *Keystore) lookup(id cert.KeyID) (cert.Fingerprint, bool, error) {
	item, err := s.ring.Get(keyIDPrefix + id.String())
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return cert.Fingerprint{}, false, nil
	} else if err != nil {
		return cert.Fingerprint{}, false, err
	}
	fpr, err := cert.ParseFingerprint(string(item.Data))
	if err != nil {
		return cert.Fingerprint{}, false, fmt.Errorf("corrupted index for key %v: %v", id, err)
	}
	return fpr, true, nil
}

// unlock returns sc with its secret material restored, asking for the
// passphrase if sc is backup-protected.
func (s *Keystore) unlock(sc *cert.SecretCert) (*cert.SecretCert, error) {
	protected := false
	for _, k := range sc.SecretKeys() {
		protected = protected || k.Encrypted()
	}
	if !protected {
		return sc, nil
	}
	if s.Passphrase == nil {
		return nil, fmt.Errorf("key %v: %w", sc.Fingerprint(), cert.ErrKeyLocked)
	}
	pass, err := s.Passphrase(sc.Fingerprint())
	if err != nil {
		return nil, err
	}
	restored, err := backup.DecryptBackedUpKey(sc.ArmorSecret(), pass)
	if err != nil {
		return nil, err
	}
	return cert.ParseSecret(restored.DecryptedPrivatePEM)
}

// Resolve implements palcrypt.KeyResolver. A wrong passphrase for a
// protected key is reported as a decryption failure.
func (s *Keystore) Resolve(recipients []*palcrypt.Recipient) ([]byte, error) {
	for _, r := range recipients {
		fpr, ok, err := s.lookup(r.KeyID())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		sc, err := s.load(fpr)
		if errors.Is(err, ErrNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}
		sc, err = s.unlock(sc)
		if errors.Is(err, cert.ErrIncorrectPassphrase) {
			return nil, fmt.Errorf("%w: %v", palcrypt.ErrDecryption, err)
		} else if err != nil {
			return nil, err
		}
		return palcrypt.NewCertResolver(sc).Resolve(recipients)
	}
	return nil, palcrypt.ErrNoMatchingKey
}
