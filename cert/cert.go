// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cert implements Palform key certificates.
//
// A certificate binds a primary Ed25519 certification key, one or more user
// IDs, and subkeys. Palform certificates carry a single subkey flagged for
// storage encryption, which form submissions are sealed to. Certificates are
// serialized as OpenPGP-style packets and exchanged in ASCII armor.
//
// The package distinguishes certificates that may hold secret material
// (*SecretCert) from public views (*Cert). A *Cert never exposes secrets, and
// the only way to reach secret material is through a *SecretCert returned by
// ParseSecret or Generate.
package cert

import (
	"errors"
	"fmt"

	"github.com/palform/palcrypt/armor"
	"github.com/palform/palcrypt/policy"
)

// Certificate is implemented by *Cert and *SecretCert.
type Certificate interface {
	Fingerprint() Fingerprint
	PrimaryKey() *Key
	Keys() []*Key
	UserIDs() []string
	Public() *Cert
	WithPolicy(p *policy.Policy) (*ValidCert, error)
}

var (
	_ Certificate = (*Cert)(nil)
	_ Certificate = (*SecretCert)(nil)
)

// A UserID is a label bound to the primary key by a certification.
type UserID struct {
	label string
	sig   *signature
}

// Cert is a certificate. Certs are immutable.
type Cert struct {
	// keys[0] is the primary key.
	keys    []*Key
	userIDs []*UserID
}

// Fingerprint returns the fingerprint of the primary key.
func (c *Cert) Fingerprint() Fingerprint { return c.keys[0].Fingerprint() }

func (c *Cert) PrimaryKey() *Key { return c.keys[0] }

// Keys returns the primary key followed by the subkeys, in certificate order.
func (c *Cert) Keys() []*Key {
	return append([]*Key(nil), c.keys...)
}

// UserIDs returns the user ID labels, including unverified ones.
func (c *Cert) UserIDs() []string {
	labels := make([]string, 0, len(c.userIDs))
	for _, u := range c.userIDs {
		labels = append(labels, u.label)
	}
	return labels
}

// KeyByID returns the key with the given ID, or nil.
func (c *Cert) KeyByID(id KeyID) *Key {
	for _, k := range c.keys {
		if k.KeyID() == id {
			return k
		}
	}
	return nil
}

// Public returns a copy of c with all secret material removed.
func (c *Cert) Public() *Cert {
	pc := &Cert{userIDs: append([]*UserID(nil), c.userIDs...)}
	for _, k := range c.keys {
		pc.keys = append(pc.keys, k.withoutSecret())
	}
	return pc
}

// Marshal returns the binary encoding of the public certificate.
func (c *Cert) Marshal() []byte { return c.marshal(false) }

// Armor returns the armored public certificate.
func (c *Cert) Armor() string {
	return armor.Encode(armor.PublicKeyBlock, c.Marshal())
}

func (c *Cert) String() string {
	return fmt.Sprintf("Cert(%v)", c.Fingerprint())
}

// SecretCert is a certificate in which at least one key carries secret
// material. The embedded Cert methods behave as for a public certificate.
type SecretCert struct {
	Cert
}

// SecretKeys returns the keys that carry secret material, in certificate
// order.
func (c *SecretCert) SecretKeys() []*SecretKey {
	var keys []*SecretKey
	for _, k := range c.keys {
		if k.secret != nil {
			keys = append(keys, &SecretKey{k})
		}
	}
	return keys
}

// SecretKeyByID returns the secret key with the given ID, or nil if there is
// no such key or it carries no secret material.
func (c *SecretCert) SecretKeyByID(id KeyID) *SecretKey {
	k := c.KeyByID(id)
	if k == nil || k.secret == nil {
		return nil
	}
	return &SecretKey{k}
}

// MarshalSecret returns the binary encoding of the certificate, including
// secret material.
func (c *SecretCert) MarshalSecret() []byte { return c.marshal(true) }

// ArmorSecret returns the armored certificate, including secret material.
func (c *SecretCert) ArmorSecret() string {
	return armor.Encode(armor.PrivateKeyBlock, c.MarshalSecret())
}

// InsertKeys returns a new certificate in which each key of c with the same
// fingerprint as one of keys is replaced by it. The primary or subkey role of
// the replaced key is kept.
func (c *SecretCert) InsertKeys(keys ...*SecretKey) (*SecretCert, error) {
	nc := &SecretCert{Cert{
		keys:    append([]*Key(nil), c.keys...),
		userIDs: c.userIDs,
	}}
	for _, sk := range keys {
		fp := sk.Fingerprint()
		found := false
		for i, k := range nc.keys {
			if k.Fingerprint() != fp {
				continue
			}
			kk := *sk.Key
			kk.primary = k.primary
			kk.sig = k.sig
			nc.keys[i] = &kk
			found = true
			break
		}
		if !found {
			return nil, fmt.Errorf("key %v is not part of certificate %v", sk.KeyID(), c.Fingerprint())
		}
	}
	return nc, nil
}

// ParseError is returned for input that is not a well-formed certificate.
type ParseError struct {
	err error
}

func (e *ParseError) Error() string {
	return "malformed certificate: " + e.err.Error()
}

func (e *ParseError) Unwrap() error { return e.err }

func errorf(format string, a ...any) error {
	return &ParseError{fmt.Errorf(format, a...)}
}

// ErrNoSecretMaterial is returned by ParseSecret for certificates without
// any secret key material.
var ErrNoSecretMaterial = errors.New("certificate has no secret key material")

func decode(armored string, keepSecrets bool) (*Cert, error) {
	_, body, err := armor.Decode([]byte(armored), armor.PublicKeyBlock, armor.PrivateKeyBlock)
	if err != nil {
		return nil, &ParseError{err}
	}
	return parseCert(body, keepSecrets)
}

// ParsePublic parses an armored or binary certificate. Secret material, if
// present, is discarded.
func ParsePublic(armored string) (*Cert, error) {
	return decode(armored, false)
}

// ParseSecret parses an armored or binary certificate that carries secret
// material. The secret material may be passphrase protected.
func ParseSecret(armored string) (*SecretCert, error) {
	c, err := decode(armored, true)
	if err != nil {
		return nil, err
	}
	for _, k := range c.keys {
		if k.secret != nil {
			return &SecretCert{*c}, nil
		}
	}
	return nil, ErrNoSecretMaterial
}

// ParseSecretOrPublic returns a *SecretCert if armored parses as one, and
// otherwise falls back to ParsePublic. The fallback happens on any error,
// including malformed secret material, in which case the secret half of the
// input is silently ignored.
func ParseSecretOrPublic(armored string) (Certificate, error) {
	if sc, err := ParseSecret(armored); err == nil {
		return sc, nil
	}
	return ParsePublic(armored)
}
