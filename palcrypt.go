// Copyright 2019 The age Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package palcrypt seals form submissions to the storage encryption keys of
// Palform certificates, and opens them again with the matching secret keys.
//
// A sealed message is an armored PALFORM SEALED MESSAGE block. Its header
// carries one recipient stanza per storage encryption key, each wrapping a
// random file key. The payload is encrypted in chunks under a key derived
// from the file key, and the header is authenticated by an HMAC.
//
// Secret keys are never passed to Decrypt directly. Instead a KeyResolver is
// shown the recipients of the message and unwraps the file key with whatever
// secret key it holds. NewCertResolver builds one from in-memory
// certificates, and the keystore package provides one backed by the OS
// keyring.
//
// Decryption failures are deliberately undifferentiated: a wrong key, a
// tampered header or payload, and an expired key all return ErrDecryption.
package palcrypt

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/palform/palcrypt/armor"
	"github.com/palform/palcrypt/cert"
	"github.com/palform/palcrypt/internal/format"
	"github.com/palform/palcrypt/internal/stream"
	"github.com/palform/palcrypt/policy"
)

const fileKeySize = 16

var (
	// ErrDecryption is returned for every cryptographic failure while
	// opening a message.
	ErrDecryption = errors.New("decryption failed")

	// ErrNoMatchingKey is wrapped by errors from a KeyResolver that holds
	// none of the keys a message is sealed to.
	ErrNoMatchingKey = errors.New("no matching key")
)

// NoMatchingKeyError is returned by Decrypt when the resolver holds none of
// the recipient keys of the message.
type NoMatchingKeyError struct {
	// KeyIDs lists the recipient keys of the message.
	KeyIDs []cert.KeyID
}

func (e *NoMatchingKeyError) Error() string {
	return fmt.Sprintf("no matching key for any of the %d recipients", len(e.KeyIDs))
}

func (e *NoMatchingKeyError) Unwrap() error { return ErrNoMatchingKey }

// ResolverError is returned by Decrypt when the resolver fails for a reason
// other than a missing key or a cryptographic failure.
type ResolverError struct {
	Err error
}

func (e *ResolverError) Error() string {
	return fmt.Sprintf("key resolver failed: %v", e.Err)
}

func (e *ResolverError) Unwrap() error { return e.Err }

// MalformedError is returned for input that is not a sealed message. It
// wraps the underlying *armor.Error or header parsing error.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed sealed message: %v", e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Encrypt seals plaintext to the storage encryption keys of recipients.
// Every recipient must be a valid certificate under the standard policy, and
// each one can open the result on its own.
func Encrypt(plaintext []byte, recipients ...*cert.Cert) ([]byte, error) {
	buf := &bytes.Buffer{}
	w, err := NewEncryptWriter(buf, recipients...)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncryptPEM is like Encrypt, but parses the recipients from armored public
// certificates.
func EncryptPEM(plaintext []byte, publicPEMs ...string) ([]byte, error) {
	var recipients []*cert.Cert
	for _, pem := range publicPEMs {
		c, err := cert.ParsePublic(pem)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, c)
	}
	return Encrypt(plaintext, recipients...)
}

// recipientKeys returns the keys a message to c is sealed to.
func recipientKeys(c *cert.Cert, p *policy.Policy) ([]*cert.Key, error) {
	if err := cert.ValidateWithPolicy(c, p); err != nil {
		return nil, err
	}
	v, err := c.WithPolicy(p)
	if err != nil {
		return nil, err
	}
	keys := v.StorageEncryptionKeys()
	if len(keys) == 0 {
		return nil, fmt.Errorf("certificate %v: %w", c.Fingerprint(), cert.ErrNoStorageEncryptionKey)
	}
	return keys, nil
}

func wrap(k *cert.Key, fileKey []byte) (*format.Stanza, error) {
	switch k.Algorithm() {
	case policy.X25519:
		return wrapX25519(k, fileKey)
	case policy.X25519MLKEM768:
		return wrapHybrid(k, fileKey)
	}
	return nil, fmt.Errorf("cannot encrypt to %v key %v", k.Algorithm(), k.KeyID())
}

// NewEncryptWriter seals a message to recipients as it is written.
//
// Writes to the returned WriteCloser are encrypted and written to dst as an
// armored sealed message. The caller must call Close on the WriteCloser when
// done for the last chunk to be encrypted and the armor to be terminated.
func NewEncryptWriter(dst io.Writer, recipients ...*cert.Cert) (io.WriteCloser, error) {
	if len(recipients) == 0 {
		return nil, errors.New("no recipients specified")
	}

	fileKey := make([]byte, fileKeySize)
	if _, err := rand.Read(fileKey); err != nil {
		return nil, err
	}

	p := policy.Standard()
	hdr := &format.Header{}
	for i, c := range recipients {
		keys, err := recipientKeys(c, p)
		if err != nil {
			return nil, fmt.Errorf("recipient #%d: %w", i, err)
		}
		for _, k := range keys {
			s, err := wrap(k, fileKey)
			if err != nil {
				return nil, fmt.Errorf("failed to wrap key for recipient #%d: %v", i, err)
			}
			hdr.Stanzas = append(hdr.Stanzas, s)
		}
	}
	if len(hdr.Stanzas) > format.MaxStanzas {
		return nil, fmt.Errorf("too many recipient keys (%d)", len(hdr.Stanzas))
	}
	if mac, err := headerMAC(fileKey, hdr); err != nil {
		return nil, fmt.Errorf("failed to compute header MAC: %v", err)
	} else {
		hdr.MAC = mac
	}

	a := armor.NewWriter(dst, armor.MessageBlock)
	if err := hdr.Marshal(a); err != nil {
		return nil, fmt.Errorf("failed to write header: %v", err)
	}
	w, err := stream.NewWriter(fileKey, a)
	if err != nil {
		return nil, err
	}
	return &sealWriter{Writer: w, armor: a}, nil
}

type sealWriter struct {
	*stream.Writer
	armor io.WriteCloser
}

func (w *sealWriter) Close() error {
	if err := w.Writer.Close(); err != nil {
		return err
	}
	return w.armor.Close()
}

// Decrypt opens a sealed message, armored or binary, and returns the whole
// plaintext. The resolver is called once with the recipients of the message.
//
// If the resolver has no matching key, Decrypt returns a *NoMatchingKeyError.
// Any cryptographic failure, including one reported by the resolver, is
// returned as ErrDecryption.
func Decrypt(sealed []byte, resolver KeyResolver) ([]byte, error) {
	if resolver == nil {
		return nil, errors.New("no key resolver specified")
	}
	_, body, err := armor.Decode(sealed, armor.MessageBlock)
	if err != nil {
		return nil, &MalformedError{Err: err}
	}
	hdr, payload, err := format.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &MalformedError{Err: err}
	}

	recipients, err := parseRecipients(hdr)
	if err != nil {
		return nil, &MalformedError{Err: err}
	}
	fileKey, err := resolver.Resolve(recipients)
	switch {
	case errors.Is(err, ErrNoMatchingKey):
		e := &NoMatchingKeyError{}
		for _, r := range recipients {
			e.KeyIDs = append(e.KeyIDs, r.KeyID())
		}
		return nil, e
	case errors.Is(err, ErrDecryption):
		return nil, ErrDecryption
	case err != nil:
		return nil, &ResolverError{Err: err}
	case len(fileKey) != fileKeySize:
		return nil, ErrDecryption
	}

	if mac, err := headerMAC(fileKey, hdr); err != nil {
		return nil, fmt.Errorf("failed to compute header MAC: %v", err)
	} else if !hmac.Equal(mac, hdr.MAC) {
		return nil, ErrDecryption
	}

	r, err := stream.NewReader(fileKey, payload)
	if err != nil {
		return nil, ErrDecryption
	}
	plaintext, err := io.ReadAll(r)
	if errors.Is(err, stream.ErrAuthentication) {
		return nil, ErrDecryption
	} else if err != nil {
		return nil, err
	}
	return plaintext, nil
}
