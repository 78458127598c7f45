// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package policy decides which algorithms and keys are acceptable, and when.
//
// A Policy is a small immutable value. The standard policy evaluates
// certificates as of the moment it was created and generates new keys with
// the Curve25519 cipher suite.
package policy

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"filippo.io/edwards25519"
	"github.com/cloudflare/circl/kem/hybrid"
	"golang.org/x/crypto/curve25519"
)

// Algorithm identifies a public key algorithm. The numeric values are part of
// the certificate wire format.
type Algorithm uint8

const (
	Ed25519        Algorithm = 27
	X25519         Algorithm = 25
	X25519MLKEM768 Algorithm = 105
)

func (a Algorithm) String() string {
	switch a {
	case Ed25519:
		return "Ed25519"
	case X25519:
		return "X25519"
	case X25519MLKEM768:
		return "X25519MLKEM768"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(a))
	}
}

// CanSign reports whether keys of this algorithm can issue signatures.
func (a Algorithm) CanSign() bool { return a == Ed25519 }

// CanEncrypt reports whether keys of this algorithm can receive file keys.
func (a Algorithm) CanEncrypt() bool { return a == X25519 || a == X25519MLKEM768 }

// PublicKeySize returns the length of the public key material, or 0 for
// unknown algorithms.
func (a Algorithm) PublicKeySize() int {
	switch a {
	case Ed25519:
		return ed25519.PublicKeySize
	case X25519:
		return curve25519.PointSize
	case X25519MLKEM768:
		return hybrid.X25519MLKEM768().PublicKeySize()
	}
	return 0
}

// SecretKeySize returns the length of the stored secret material. For
// Ed25519 and X25519MLKEM768 that is a seed.
func (a Algorithm) SecretKeySize() int {
	switch a {
	case Ed25519:
		return ed25519.SeedSize
	case X25519:
		return curve25519.ScalarSize
	case X25519MLKEM768:
		return hybrid.X25519MLKEM768().SeedSize()
	}
	return 0
}

// CipherSuite names the algorithms used for a newly generated certificate.
type CipherSuite int

const (
	// Cv25519 is an Ed25519 primary key with an X25519 encryption subkey.
	Cv25519 CipherSuite = iota
	// Cv25519MLKEM768 is an Ed25519 primary key with a hybrid X25519 and
	// ML-KEM-768 encryption subkey.
	Cv25519MLKEM768
)

func (s CipherSuite) String() string {
	switch s {
	case Cv25519:
		return "Cv25519"
	case Cv25519MLKEM768:
		return "Cv25519MLKEM768"
	default:
		return fmt.Sprintf("CipherSuite(%d)", int(s))
	}
}

// ParseCipherSuite is the inverse of CipherSuite.String, case sensitive.
func ParseCipherSuite(s string) (CipherSuite, error) {
	switch s {
	case "Cv25519", "":
		return Cv25519, nil
	case "Cv25519MLKEM768":
		return Cv25519MLKEM768, nil
	}
	return 0, fmt.Errorf("unknown cipher suite %q", s)
}

// PrimaryAlgorithm is the certification key algorithm of the suite.
func (s CipherSuite) PrimaryAlgorithm() Algorithm { return Ed25519 }

// EncryptionAlgorithm is the storage-encryption subkey algorithm of the suite.
func (s CipherSuite) EncryptionAlgorithm() Algorithm {
	if s == Cv25519MLKEM768 {
		return X25519MLKEM768
	}
	return X25519
}

// ClockSkew is how far in the future a creation time may be before the
// object is considered not yet valid.
const ClockSkew = time.Minute

// Role is the purpose a key is evaluated for.
type Role int

const (
	RoleCertification Role = iota
	RoleEncryption
)

// Policy is an immutable validity policy. The zero value is not usable, use
// Standard.
type Policy struct {
	now   time.Time
	suite CipherSuite
}

// Standard returns the standard policy, evaluating as of now.
func Standard() *Policy {
	return &Policy{now: time.Now(), suite: Cv25519}
}

// At returns a copy of p that evaluates as of t.
func (p *Policy) At(t time.Time) *Policy {
	pp := *p
	pp.now = t
	return &pp
}

// WithCipherSuite returns a copy of p that generates keys with suite s.
func (p *Policy) WithCipherSuite(s CipherSuite) *Policy {
	pp := *p
	pp.suite = s
	return &pp
}

// Now returns the evaluation time of the policy.
func (p *Policy) Now() time.Time { return p.now }

// CipherSuite returns the suite used for new certificates.
func (p *Policy) CipherSuite() CipherSuite { return p.suite }

// ErrRejected is wrapped by all errors returned by CheckKey and CheckTime.
var ErrRejected = errors.New("rejected by policy")

func rejectf(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, a...))
}

// CheckKey rejects keys whose algorithm is not acceptable for role, or whose
// public material is malformed.
func (p *Policy) CheckKey(role Role, algo Algorithm, public []byte) error {
	switch role {
	case RoleCertification:
		if !algo.CanSign() {
			return rejectf("algorithm %v cannot certify", algo)
		}
	case RoleEncryption:
		if !algo.CanEncrypt() {
			return rejectf("algorithm %v cannot encrypt", algo)
		}
	default:
		return rejectf("unknown key role %d", role)
	}
	if len(public) != algo.PublicKeySize() {
		return rejectf("invalid %v public key size %d", algo, len(public))
	}
	switch algo {
	case Ed25519:
		return checkEd25519Point(public)
	case X25519:
		return checkX25519Point(public)
	case X25519MLKEM768:
		if _, err := hybrid.X25519MLKEM768().UnmarshalBinaryPublicKey(public); err != nil {
			return rejectf("invalid %v public key: %v", algo, err)
		}
	}
	return nil
}

func checkEd25519Point(public []byte) error {
	pt, err := new(edwards25519.Point).SetBytes(public)
	if err != nil {
		return rejectf("invalid Ed25519 public key: %v", err)
	}
	if new(edwards25519.Point).MultByCofactor(pt).Equal(edwards25519.NewIdentityPoint()) == 1 {
		return rejectf("Ed25519 public key is of small order")
	}
	return nil
}

func checkX25519Point(public []byte) error {
	// A low-order point produces an all-zero shared secret, which X25519
	// reports as an error.
	var scalar [curve25519.ScalarSize]byte
	scalar[0] = 8
	if _, err := curve25519.X25519(scalar[:], public); err != nil {
		return rejectf("X25519 public key is of low order")
	}
	return nil
}

// CheckTime rejects objects created after the evaluation time, allowing for
// ClockSkew, and objects that expired at or before it. A zero lifetime means
// the object does not expire.
func (p *Policy) CheckTime(created time.Time, lifetime time.Duration) error {
	if created.After(p.now.Add(ClockSkew)) {
		return rejectf("created in the future (%v)", created.UTC().Format(time.RFC3339))
	}
	if lifetime != 0 && !p.now.Before(created.Add(lifetime)) {
		return rejectf("expired at %v", created.Add(lifetime).UTC().Format(time.RFC3339))
	}
	return nil
}
