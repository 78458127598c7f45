// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cert

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cloudflare/circl/kem/hybrid"
	"github.com/palform/palcrypt/policy"
	"golang.org/x/crypto/curve25519"
)

// MaxValidity is the longest representable key lifetime. Generate uses it
// when asked for a zero validity.
const MaxValidity = time.Duration(math.MaxUint32) * time.Second

// NewKeypair is a freshly generated certificate. All fields are derived from
// the same certificate.
type NewKeypair struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
	KeyID      string `json:"key_id"`
}

// Label returns the user ID label of a Palform key.
func Label(orgID, userID string) string {
	return fmt.Sprintf("palform_%s_%s", orgID, userID)
}

// Generate creates a certificate for a Palform user with the standard
// policy. The certificate has a certification-only primary key, the user ID
// Label(orgID, userID), and one storage encryption subkey. Both keys expire
// validity after creation, or MaxValidity after creation if validity is zero.
func Generate(orgID, userID string, validity time.Duration) (*NewKeypair, error) {
	return GenerateWithPolicy(policy.Standard(), orgID, userID, validity)
}

// GenerateWithPolicy is like Generate, but uses the cipher suite and
// creation time of p.
func GenerateWithPolicy(p *policy.Policy, orgID, userID string, validity time.Duration) (*NewKeypair, error) {
	sc, err := NewSecretCert(p, Label(orgID, userID), validity)
	if err != nil {
		return nil, err
	}
	return &NewKeypair{
		PrivateKey: sc.ArmorSecret(),
		PublicKey:  sc.Armor(),
		KeyID:      sc.Fingerprint().String(),
	}, nil
}

func lifetimeSeconds(validity time.Duration) (uint32, error) {
	switch {
	case validity < 0:
		return 0, errors.New("negative key validity")
	case validity == 0:
		return math.MaxUint32, nil
	case validity > MaxValidity:
		return 0, fmt.Errorf("key validity %v exceeds the maximum of %v", validity, MaxValidity)
	}
	secs := (validity + time.Second - 1) / time.Second
	return uint32(secs), nil
}

// NewSecretCert generates a certificate with a single user ID and a storage
// encryption subkey, using the cipher suite of p.
func NewSecretCert(p *policy.Policy, label string, validity time.Duration) (*SecretCert, error) {
	if label == "" {
		return nil, errors.New("empty user ID")
	}
	lifetime, err := lifetimeSeconds(validity)
	if err != nil {
		return nil, err
	}
	created := p.Now().Truncate(time.Second).UTC()
	suite := p.CipherSuite()

	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("internal error: %v", err)
	}
	signer := ed25519.NewKeyFromSeed(seed)
	primary := &Key{
		primary: true,
		algo:    suite.PrimaryAlgorithm(),
		created: created,
		public:  signer.Public().(ed25519.PublicKey),
		secret:  &secretMaterial{plain: seed},
	}
	primary.sig = newSignature(sigDirectKey, signer, primary, nil, created, FlagCertify, lifetime)

	uid := &UserID{label: label}
	uid.sig = newSignature(sigUserIDCert, signer, primary, []byte(label), created, FlagCertify, lifetime)

	sub, err := newEncryptionKey(suite.EncryptionAlgorithm(), created)
	if err != nil {
		return nil, err
	}
	sub.sig = newSignature(sigSubkeyBinding, signer, primary, sub.publicBody(), created, FlagEncryptStorage, lifetime)

	return &SecretCert{Cert{
		keys:    []*Key{primary, sub},
		userIDs: []*UserID{uid},
	}}, nil
}

func newEncryptionKey(algo policy.Algorithm, created time.Time) (*Key, error) {
	secret := make([]byte, algo.SecretKeySize())
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("internal error: %v", err)
	}
	var public []byte
	switch algo {
	case policy.X25519:
		pub, err := curve25519.X25519(secret, curve25519.Basepoint)
		if err != nil {
			return nil, err
		}
		public = pub
	case policy.X25519MLKEM768:
		pk, _ := hybrid.X25519MLKEM768().DeriveKeyPair(secret)
		pub, err := pk.MarshalBinary()
		if err != nil {
			return nil, err
		}
		public = pub
	default:
		return nil, fmt.Errorf("%v is not an encryption algorithm", algo)
	}
	return &Key{
		algo:    algo,
		created: created,
		public:  public,
		secret:  &secretMaterial{plain: secret},
	}, nil
}
