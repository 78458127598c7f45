// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package palcrypt

import (
	"errors"

	"github.com/cloudflare/circl/kem/hybrid"
	"github.com/palform/palcrypt/cert"
	"github.com/palform/palcrypt/internal/format"
)

const hybridLabel = "palcrypt.palform.app/v1/X25519MLKEM768"

var hybridScheme = hybrid.X25519MLKEM768()

// The stanza body is the KEM ciphertext followed by the wrapped file key.
func wrapHybrid(k *cert.Key, fileKey []byte) (*format.Stanza, error) {
	pub := k.PublicMaterial()
	pk, err := hybridScheme.UnmarshalBinaryPublicKey(pub)
	if err != nil {
		return nil, err
	}
	ct, sharedSecret, err := hybridScheme.Encapsulate(pk)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, 0, len(ct)+len(pub))
	salt = append(salt, ct...)
	salt = append(salt, pub...)
	wrappingKey, err := deriveKey(sharedSecret, salt, hybridLabel)
	if err != nil {
		return nil, err
	}
	wrappedKey, err := aeadEncrypt(wrappingKey, fileKey)
	if err != nil {
		return nil, err
	}

	body := make([]byte, 0, len(ct)+len(wrappedKey))
	body = append(body, ct...)
	body = append(body, wrappedKey...)
	return &format.Stanza{
		Type:  format.TypeX25519MLKEM768,
		KeyID: format.KeyID(k.KeyID()),
		Body:  body,
	}, nil
}

func parseHybridStanza(s *format.Stanza) error {
	if len(s.Body) != hybridScheme.CiphertextSize()+wrappedKeySize {
		return errors.New("invalid X25519MLKEM768 recipient stanza")
	}
	return nil
}

func unwrapHybrid(s *format.Stanza, seed []byte) ([]byte, error) {
	if len(seed) != hybridScheme.SeedSize() {
		return nil, ErrDecryption
	}
	pk, sk := hybridScheme.DeriveKeyPair(seed)
	pub, err := pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	ct := s.Body[:hybridScheme.CiphertextSize()]
	sharedSecret, err := hybridScheme.Decapsulate(sk, ct)
	if err != nil {
		return nil, ErrDecryption
	}

	salt := make([]byte, 0, len(ct)+len(pub))
	salt = append(salt, ct...)
	salt = append(salt, pub...)
	wrappingKey, err := deriveKey(sharedSecret, salt, hybridLabel)
	if err != nil {
		return nil, err
	}
	fileKey, err := aeadDecrypt(wrappingKey, fileKeySize, s.Body[len(ct):])
	if err != nil {
		return nil, ErrDecryption
	}
	return fileKey, nil
}
