// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cert

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/palform/palcrypt/policy"
)

// KeyFlags are the capabilities a signature grants to a key, with the
// OpenPGP values.
type KeyFlags uint8

const (
	FlagCertify               KeyFlags = 0x01
	FlagSign                  KeyFlags = 0x02
	FlagEncryptCommunications KeyFlags = 0x04
	FlagEncryptStorage        KeyFlags = 0x08
)

// Has reports whether all of want are set in f.
func (f KeyFlags) Has(want KeyFlags) bool { return f&want == want }

func (f KeyFlags) String() string {
	var names []string
	for _, n := range []struct {
		f    KeyFlags
		name string
	}{
		{FlagCertify, "certify"},
		{FlagSign, "sign"},
		{FlagEncryptCommunications, "encrypt-communications"},
		{FlagEncryptStorage, "encrypt-storage"},
	} {
		if f.Has(n.f) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// Fingerprint identifies a key, and through its primary key a certificate.
type Fingerprint [sha256.Size]byte

// String returns the canonical encoding, 64 uppercase hex characters.
func (f Fingerprint) String() string {
	return strings.ToUpper(hex.EncodeToString(f[:]))
}

// KeyID returns the short identifier derived from f.
func (f Fingerprint) KeyID() KeyID {
	var id KeyID
	copy(id[:], f[:])
	return id
}

// ParseFingerprint parses a hex fingerprint, in either case.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(f) {
		return f, fmt.Errorf("malformed fingerprint %q", s)
	}
	copy(f[:], b)
	return f, nil
}

// KeyID is the first eight bytes of a key fingerprint. Sealed messages name
// their recipient keys by KeyID.
type KeyID [8]byte

func (id KeyID) String() string {
	return strings.ToUpper(hex.EncodeToString(id[:]))
}

// ParseKeyID parses a hex key ID, in either case.
func ParseKeyID(s string) (KeyID, error) {
	var id KeyID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return id, fmt.Errorf("malformed key ID %q", s)
	}
	copy(id[:], b)
	return id, nil
}

type secretMaterial struct {
	// plain is set for unprotected material.
	plain []byte

	// logN, salt and sealed are set for passphrase protected material.
	logN   uint8
	salt   []byte
	sealed []byte
}

// A Key is a primary key or a subkey of a certificate. Key values obtained
// from a Cert never expose secret material.
type Key struct {
	primary bool
	algo    policy.Algorithm
	created time.Time
	public  []byte
	secret  *secretMaterial

	// sig is the direct-key signature of a primary key, or the binding
	// signature of a subkey. It carries flags and lifetime.
	sig *signature
}

func (k *Key) Primary() bool { return k.primary }

func (k *Key) Algorithm() policy.Algorithm { return k.algo }

func (k *Key) Created() time.Time { return k.created }

// PublicMaterial returns a copy of the raw public key.
func (k *Key) PublicMaterial() []byte { return bytes.Clone(k.public) }

// Flags returns the capabilities granted by the key's self-signature, or zero
// if it has none.
func (k *Key) Flags() KeyFlags {
	if k.sig == nil {
		return 0
	}
	return k.sig.flags
}

// Lifetime returns how long after creation the key expires, or zero if it
// never does.
func (k *Key) Lifetime() time.Duration {
	if k.sig == nil {
		return 0
	}
	return time.Duration(k.sig.lifetime) * time.Second
}

// Expiry returns the expiration time of the key. ok is false if the key does
// not expire.
func (k *Key) Expiry() (t time.Time, ok bool) {
	if l := k.Lifetime(); l != 0 {
		return k.created.Add(l), true
	}
	return time.Time{}, false
}

// Alive reports whether t is within the validity period of the key.
func (k *Key) Alive(t time.Time) bool {
	if k.created.After(t.Add(policy.ClockSkew)) {
		return false
	}
	exp, ok := k.Expiry()
	return !ok || t.Before(exp)
}

// ForStorageEncryption reports whether the key may encrypt data at rest.
func (k *Key) ForStorageEncryption() bool {
	return k.Flags().Has(FlagEncryptStorage) && k.algo.CanEncrypt()
}

// Fingerprint is the SHA-256 of the public key packet body, with a prefix
// committing to its length.
func (k *Key) Fingerprint() Fingerprint {
	body := k.publicBody()
	h := sha256.New()
	h.Write([]byte{0x9b})
	binary.Write(h, binary.BigEndian, uint32(len(body)))
	h.Write(body)
	var f Fingerprint
	h.Sum(f[:0])
	return f
}

func (k *Key) KeyID() KeyID { return k.Fingerprint().KeyID() }

// HasSecret reports whether secret material, protected or not, was present
// when the key was parsed.
func (k *Key) HasSecret() bool { return k.secret != nil }

// HasUnencryptedSecret reports whether the key holds secret material that can
// be used without a passphrase.
func (k *Key) HasUnencryptedSecret() bool {
	return k.secret != nil && k.secret.sealed == nil
}

// withoutSecret returns a shallow copy of k with no secret material.
func (k *Key) withoutSecret() *Key {
	kk := *k
	kk.secret = nil
	return &kk
}

func (k *Key) String() string {
	role := "subkey"
	if k.primary {
		role = "primary"
	}
	return fmt.Sprintf("%s %v %v [%v]", role, k.algo, k.KeyID(), k.Flags())
}
