// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package palcrypt

import (
	"errors"
	"fmt"

	"github.com/palform/palcrypt/cert"
	"github.com/palform/palcrypt/internal/format"
	"github.com/palform/palcrypt/policy"
)

// A KeyResolver produces the file key of a sealed message from its
// recipients, usually by finding a secret key with a matching KeyID and
// calling Recipient.Unwrap.
//
// Resolve must return an error wrapping ErrNoMatchingKey if it holds none of
// the recipient keys, and an error wrapping ErrDecryption if a matching key
// failed to unwrap. Any other error is reported as a *ResolverError.
type KeyResolver interface {
	Resolve(recipients []*Recipient) (fileKey []byte, err error)
}

// KeyResolverFunc adapts a function to the KeyResolver interface.
type KeyResolverFunc func(recipients []*Recipient) ([]byte, error)

func (f KeyResolverFunc) Resolve(recipients []*Recipient) ([]byte, error) {
	return f(recipients)
}

// A Recipient is a key a message is sealed to.
type Recipient struct {
	stanza *format.Stanza
	keyID  cert.KeyID
}

// KeyID identifies the recipient key.
func (r *Recipient) KeyID() cert.KeyID { return r.keyID }

// Type is the stanza type, which names the key algorithm.
func (r *Recipient) Type() string { return r.stanza.Type }

func (r *Recipient) String() string { return r.stanza.Type + " " + r.keyID.String() }

// Unwrap recovers the file key with k. It returns an error wrapping
// ErrDecryption if k is not the recipient key or the stanza does not open,
// and cert.ErrKeyLocked if k is passphrase protected.
func (r *Recipient) Unwrap(k *cert.SecretKey) ([]byte, error) {
	if k.KeyID() != r.keyID {
		return nil, fmt.Errorf("%w: key %v is not recipient %v", ErrDecryption, k.KeyID(), r.keyID)
	}
	secret, err := k.Material()
	if err != nil {
		return nil, err
	}
	switch {
	case r.stanza.Type == format.TypeX25519 && k.Algorithm() == policy.X25519:
		return unwrapX25519(r.stanza, secret)
	case r.stanza.Type == format.TypeX25519MLKEM768 && k.Algorithm() == policy.X25519MLKEM768:
		return unwrapHybrid(r.stanza, secret)
	}
	return nil, ErrDecryption
}

// parseRecipients returns the recipients of hdr that this package knows how
// to open. Stanzas of other types are skipped.
func parseRecipients(hdr *format.Header) ([]*Recipient, error) {
	var recipients []*Recipient
	for _, s := range hdr.Stanzas {
		var err error
		switch s.Type {
		case format.TypeX25519:
			err = parseX25519Stanza(s)
		case format.TypeX25519MLKEM768:
			err = parseHybridStanza(s)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, &Recipient{stanza: s, keyID: cert.KeyID(s.KeyID)})
	}
	return recipients, nil
}

// CertResolver resolves file keys with the secret keys of in-memory
// certificates.
type CertResolver struct {
	certs  []*cert.SecretCert
	policy *policy.Policy
}

var _ KeyResolver = &CertResolver{}

// NewCertResolver returns a resolver holding the storage encryption keys of
// certs, evaluated under the standard policy at the time of each Resolve.
func NewCertResolver(certs ...*cert.SecretCert) *CertResolver {
	return &CertResolver{certs: certs}
}

// ResolverFromPEM parses armored secret certificates into a CertResolver.
func ResolverFromPEM(pems ...string) (*CertResolver, error) {
	var certs []*cert.SecretCert
	for _, pem := range pems {
		c, err := cert.ParseSecret(pem)
		if err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	return NewCertResolver(certs...), nil
}

// WithPolicy returns a copy of r that evaluates keys under p.
func (r *CertResolver) WithPolicy(p *policy.Policy) *CertResolver {
	return &CertResolver{certs: r.certs, policy: p}
}

func (r *CertResolver) currentPolicy() *policy.Policy {
	if r.policy != nil {
		return r.policy
	}
	return policy.Standard()
}

// usable reports whether k is a valid storage encryption key of c that is
// alive under p.
func usable(c *cert.SecretCert, k *cert.SecretKey, p *policy.Policy) bool {
	v, err := c.WithPolicy(p)
	if err != nil {
		return false
	}
	for _, vk := range v.StorageEncryptionKeys() {
		if vk.Fingerprint() == k.Fingerprint() {
			return true
		}
	}
	return false
}

// Resolve implements KeyResolver. A held key that is not valid and alive
// fails with ErrDecryption, and a passphrase protected key is reported as
// locked.
func (r *CertResolver) Resolve(recipients []*Recipient) ([]byte, error) {
	p := r.currentPolicy()
	for _, rc := range recipients {
		for _, c := range r.certs {
			k := c.SecretKeyByID(rc.KeyID())
			if k == nil {
				continue
			}
			if !usable(c, k, p) {
				return nil, fmt.Errorf("%w: key %v is not a valid encryption key", ErrDecryption, k.KeyID())
			}
			fileKey, err := rc.Unwrap(k)
			if errors.Is(err, cert.ErrKeyLocked) {
				return nil, fmt.Errorf("key %v: %w", k.KeyID(), err)
			}
			if err != nil {
				return nil, err
			}
			return fileKey, nil
		}
	}
	return nil, ErrNoMatchingKey
}
