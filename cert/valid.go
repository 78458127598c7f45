// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cert

import (
	"errors"
	"fmt"
	"time"

	"github.com/palform/palcrypt/policy"
)

// PolicyError is returned when a certificate is not valid under a policy.
type PolicyError struct {
	Fingerprint Fingerprint
	Err         error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("certificate %v rejected by policy: %v", e.Fingerprint, e.Err)
}

func (e *PolicyError) Unwrap() error { return e.Err }

var (
	// ErrNoStorageEncryptionKey is returned when a certificate has no valid
	// key flagged for storage encryption.
	ErrNoStorageEncryptionKey = errors.New("certificate has no storage encryption key")

	// ErrNonExpiringEncryptionKey is returned when the storage encryption key
	// of a certificate does not expire.
	ErrNonExpiringEncryptionKey = errors.New("storage encryption key has no expiration")
)

// ValidCert is a certificate as seen through a policy at a point in time.
type ValidCert struct {
	cert    *Cert
	policy  *policy.Policy
	keys    []*Key
	userIDs []string
}

// WithPolicy evaluates c under p. It fails if the primary key is not
// acceptable, its self-signature does not verify, or it is not alive at
// p.Now(). Subkeys and user IDs that fail their own checks are left out of
// the result instead.
func (c *Cert) WithPolicy(p *policy.Policy) (*ValidCert, error) {
	primary := c.keys[0]
	reject := func(err error) (*ValidCert, error) {
		return nil, &PolicyError{Fingerprint: primary.Fingerprint(), Err: err}
	}

	if err := p.CheckKey(policy.RoleCertification, primary.algo, primary.public); err != nil {
		return reject(err)
	}
	if err := primary.sig.verify(sigDirectKey, primary, nil); err != nil {
		return reject(fmt.Errorf("primary key: %w", err))
	}
	if err := p.CheckTime(primary.sig.created, 0); err != nil {
		return reject(fmt.Errorf("primary key signature: %w", err))
	}
	if err := p.CheckTime(primary.created, primary.Lifetime()); err != nil {
		return reject(fmt.Errorf("primary key: %w", err))
	}

	v := &ValidCert{cert: c, policy: p, keys: []*Key{primary}}
	for _, u := range c.userIDs {
		if u.sig.verify(sigUserIDCert, primary, []byte(u.label)) != nil {
			continue
		}
		if p.CheckTime(u.sig.created, 0) != nil {
			continue
		}
		v.userIDs = append(v.userIDs, u.label)
	}
	for _, k := range c.keys[1:] {
		if k.sig.verify(sigSubkeyBinding, primary, k.publicBody()) != nil {
			continue
		}
		if p.CheckTime(k.sig.created, 0) != nil {
			continue
		}
		role := policy.RoleCertification
		if k.Flags()&(FlagEncryptCommunications|FlagEncryptStorage) != 0 {
			role = policy.RoleEncryption
		}
		if p.CheckKey(role, k.algo, k.public) != nil {
			continue
		}
		v.keys = append(v.keys, k)
	}
	return v, nil
}

// Cert returns the evaluated certificate.
func (v *ValidCert) Cert() *Cert { return v.cert }

// Time returns the evaluation time.
func (v *ValidCert) Time() time.Time { return v.policy.Now() }

// Keys returns the valid keys, primary first, including expired subkeys.
func (v *ValidCert) Keys() []*Key { return append([]*Key(nil), v.keys...) }

// UserIDs returns the labels of the valid user IDs.
func (v *ValidCert) UserIDs() []string { return append([]string(nil), v.userIDs...) }

// StorageEncryptionKeys returns the valid keys flagged for storage
// encryption that are alive at the evaluation time.
func (v *ValidCert) StorageEncryptionKeys() []*Key {
	var keys []*Key
	for _, k := range v.keys {
		if k.ForStorageEncryption() && k.Alive(v.policy.Now()) {
			keys = append(keys, k)
		}
	}
	return keys
}

// firstStorageEncryptionKey returns the first valid key flagged for storage
// encryption, alive or not.
func (v *ValidCert) firstStorageEncryptionKey() *Key {
	for _, k := range v.keys {
		if k.ForStorageEncryption() {
			return k
		}
	}
	return nil
}

// Validate checks that c is valid under the standard policy now, and that
// its first storage encryption key has an expiration.
func Validate(c Certificate) error {
	return ValidateWithPolicy(c, policy.Standard())
}

// ValidateWithPolicy is like Validate, but evaluates under p.
func ValidateWithPolicy(c Certificate, p *policy.Policy) error {
	v, err := c.WithPolicy(p)
	if err != nil {
		return err
	}
	k := v.firstStorageEncryptionKey()
	if k == nil {
		return ErrNoStorageEncryptionKey
	}
	if _, ok := k.Expiry(); !ok {
		return ErrNonExpiringEncryptionKey
	}
	return nil
}
