// Copyright 2019 Google LLC
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file or at
// https://developers.google.com/open-source/licenses/bsd

package palcrypt

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/palform/palcrypt/cert"
	"github.com/palform/palcrypt/internal/format"
	"golang.org/x/crypto/curve25519"
)

const x25519Label = "palcrypt.palform.app/v1/X25519"

func wrapX25519(k *cert.Key, fileKey []byte) (*format.Stanza, error) {
	theirPublicKey := k.PublicMaterial()
	ephemeral := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(ephemeral); err != nil {
		return nil, err
	}
	ourPublicKey, err := curve25519.X25519(ephemeral, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	sharedSecret, err := curve25519.X25519(ephemeral, theirPublicKey)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, 0, len(ourPublicKey)+len(theirPublicKey))
	salt = append(salt, ourPublicKey...)
	salt = append(salt, theirPublicKey...)
	wrappingKey, err := deriveKey(sharedSecret, salt, x25519Label)
	if err != nil {
		return nil, err
	}
	wrappedKey, err := aeadEncrypt(wrappingKey, fileKey)
	if err != nil {
		return nil, err
	}

	return &format.Stanza{
		Type:  format.TypeX25519,
		KeyID: format.KeyID(k.KeyID()),
		Args:  []string{format.EncodeToString(ourPublicKey)},
		Body:  wrappedKey,
	}, nil
}

// parseX25519Stanza checks the share and body sizes. The codec has already
// checked the argument count.
func parseX25519Stanza(s *format.Stanza) error {
	share, err := format.DecodeString(s.Args[0])
	if err != nil {
		return fmt.Errorf("invalid X25519 recipient stanza: %v", err)
	}
	if len(share) != curve25519.PointSize {
		return errors.New("invalid X25519 recipient stanza: wrong share size")
	}
	if len(s.Body) != wrappedKeySize {
		return errors.New("invalid X25519 recipient stanza: wrong body size")
	}
	return nil
}

func unwrapX25519(s *format.Stanza, secretKey []byte) ([]byte, error) {
	publicKey, err := format.DecodeString(s.Args[0])
	if err != nil {
		return nil, ErrDecryption
	}
	ourPublicKey, err := curve25519.X25519(secretKey, curve25519.Basepoint)
	if err != nil {
		return nil, ErrDecryption
	}
	sharedSecret, err := curve25519.X25519(secretKey, publicKey)
	if err != nil {
		return nil, ErrDecryption
	}

	salt := make([]byte, 0, len(publicKey)+len(ourPublicKey))
	salt = append(salt, publicKey...)
	salt = append(salt, ourPublicKey...)
	wrappingKey, err := deriveKey(sharedSecret, salt, x25519Label)
	if err != nil {
		return nil, err
	}
	fileKey, err := aeadDecrypt(wrappingKey, fileKeySize, s.Body)
	if err != nil {
		return nil, ErrDecryption
	}
	return fileKey, nil
}
