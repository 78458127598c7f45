// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cert

import (
	"crypto/ed25519"
	"errors"
	"time"

	"golang.org/x/crypto/cryptobyte"
)

const signatureContext = "palcrypt.palform.app/v1/signature"

// A signature is a self-signature made by the primary key over one
// component of its own certificate.
type signature struct {
	typ      sigType
	created  time.Time
	flags    KeyFlags
	lifetime uint32 // seconds after key creation, 0 for no expiry
	issuer   Fingerprint
	sig      []byte
}

// signedMessage is the byte string covered by s. target is the user ID label
// for certifications, the subkey public body for bindings, and empty for
// direct-key signatures.
func (s *signature) signedMessage(primary *Key, target []byte) []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddBytes([]byte(signatureContext))
	b.AddUint8(uint8(s.typ))
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(primary.publicBody())
	})
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(target)
	})
	b.AddUint32(uint32(s.created.Unix()))
	b.AddUint8(uint8(s.flags))
	b.AddUint32(s.lifetime)
	b.AddBytes(s.issuer[:])
	return b.BytesOrPanic()
}

func newSignature(typ sigType, signer ed25519.PrivateKey, primary *Key, target []byte,
	created time.Time, flags KeyFlags, lifetime uint32) *signature {
	s := &signature{
		typ:      typ,
		created:  created,
		flags:    flags,
		lifetime: lifetime,
		issuer:   primary.Fingerprint(),
	}
	s.sig = ed25519.Sign(signer, s.signedMessage(primary, target))
	return s
}

var errBadSignature = errors.New("signature verification failed")

func (s *signature) verify(want sigType, primary *Key, target []byte) error {
	if s == nil {
		return errors.New("missing self-signature")
	}
	if s.typ != want {
		return errors.New("unexpected signature type")
	}
	if s.issuer != primary.Fingerprint() {
		return errors.New("signature issued by a different key")
	}
	if len(primary.public) != ed25519.PublicKeySize {
		return errBadSignature
	}
	if !ed25519.Verify(primary.public, s.signedMessage(primary, target), s.sig) {
		return errBadSignature
	}
	return nil
}
