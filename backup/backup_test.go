// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backup_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/palform/palcrypt/backup"
	"github.com/palform/palcrypt/cert"
)

// fast keeps scrypt cheap in tests.
var fast = &backup.Options{LogN: 10}

func generate(t *testing.T) *cert.NewKeypair {
	t.Helper()
	kp, err := cert.Generate("org", "user", 30*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func secretMaterial(t *testing.T, pem string) map[cert.Fingerprint][]byte {
	t.Helper()
	sc, err := cert.ParseSecret(pem)
	if err != nil {
		t.Fatal(err)
	}
	m := make(map[cert.Fingerprint][]byte)
	for _, k := range sc.SecretKeys() {
		b, err := k.Material()
		if err != nil {
			t.Fatalf("key %v: %v", k.KeyID(), err)
		}
		m[k.Fingerprint()] = b
	}
	return m
}

func TestRoundTrip(t *testing.T) {
	kp := generate(t)

	protected, err := fast.EncryptForBackup(kp.PrivateKey, "correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := backup.IsProtected(protected); err != nil || !ok {
		t.Fatalf("IsProtected = %v, %v", ok, err)
	}
	sc, err := cert.ParseSecret(protected)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range sc.SecretKeys() {
		if !k.Encrypted() {
			t.Errorf("key %v is not protected", k.KeyID())
		}
		if _, err := k.Material(); !errors.Is(err, cert.ErrKeyLocked) {
			t.Errorf("Material of protected key = %v, want ErrKeyLocked", err)
		}
	}
	if len(sc.SecretKeys()) != 2 {
		t.Errorf("got %d secret keys, want 2", len(sc.SecretKeys()))
	}
	if sc.Armor() != kp.PublicKey {
		t.Errorf("protection changed the public certificate")
	}
	if got := sc.Fingerprint().String(); got != kp.KeyID {
		t.Errorf("protected fingerprint %s, want %s", got, kp.KeyID)
	}

	restored, err := fast.DecryptBackedUpKey(protected, "correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if restored.Fingerprint != kp.KeyID {
		t.Errorf("restored fingerprint %s, want %s", restored.Fingerprint, kp.KeyID)
	}
	if diff := cmp.Diff(secretMaterial(t, kp.PrivateKey), secretMaterial(t, restored.DecryptedPrivatePEM)); diff != "" {
		t.Errorf("restored material mismatch (-want +got):\n%s", diff)
	}
	if err := cert.Validate(mustParse(t, restored.DecryptedPrivatePEM)); err != nil {
		t.Errorf("restored key does not validate: %v", err)
	}
}

func mustParse(t *testing.T, pem string) *cert.SecretCert {
	t.Helper()
	sc, err := cert.ParseSecret(pem)
	if err != nil {
		t.Fatal(err)
	}
	return sc
}

func TestDefaultWorkFactor(t *testing.T) {
	if testing.Short() {
		t.Skip("slow scrypt")
	}
	kp := generate(t)
	protected, err := backup.EncryptForBackup(kp.PrivateKey, "pass")
	if err != nil {
		t.Fatal(err)
	}
	restored, err := backup.DecryptBackedUpKey(protected, "pass")
	if err != nil {
		t.Fatal(err)
	}
	if restored.Fingerprint != kp.KeyID {
		t.Errorf("restored fingerprint %s, want %s", restored.Fingerprint, kp.KeyID)
	}
}

func TestWrongPassphrase(t *testing.T) {
	kp := generate(t)
	protected, err := fast.EncryptForBackup(kp.PrivateKey, "correct")
	if err != nil {
		t.Fatal(err)
	}
	restored, err := fast.DecryptBackedUpKey(protected, "wrong")
	if !errors.Is(err, backup.ErrIncorrectPassphrase) {
		t.Errorf("DecryptBackedUpKey = %v, want ErrIncorrectPassphrase", err)
	}
	if restored != nil {
		t.Errorf("wrong passphrase returned output: %+v", restored)
	}
}

func TestEmptyPassphrase(t *testing.T) {
	kp := generate(t)
	if _, err := fast.EncryptForBackup(kp.PrivateKey, ""); !errors.Is(err, backup.ErrEmptyPassphrase) {
		t.Errorf("EncryptForBackup = %v, want ErrEmptyPassphrase", err)
	}
	if _, err := fast.DecryptBackedUpKey(kp.PrivateKey, ""); !errors.Is(err, backup.ErrEmptyPassphrase) {
		t.Errorf("DecryptBackedUpKey = %v, want ErrEmptyPassphrase", err)
	}
}

func TestInvalidOptions(t *testing.T) {
	kp := generate(t)
	for _, logN := range []int{-1, cert.MaxLogN + 1, 64} {
		o := &backup.Options{LogN: logN}
		if _, err := o.EncryptForBackup(kp.PrivateKey, "pass"); err == nil {
			t.Errorf("LogN %d accepted", logN)
		}
	}
}

func TestIdempotent(t *testing.T) {
	kp := generate(t)
	once, err := fast.EncryptForBackup(kp.PrivateKey, "first")
	if err != nil {
		t.Fatal(err)
	}
	twice, err := fast.EncryptForBackup(once, "second")
	if err != nil {
		t.Fatal(err)
	}
	if once != twice {
		t.Errorf("protecting a protected key changed it")
	}
	if _, err := fast.DecryptBackedUpKey(twice, "second"); !errors.Is(err, backup.ErrIncorrectPassphrase) {
		t.Errorf("second passphrase = %v, want ErrIncorrectPassphrase", err)
	}

	// Restoring an unprotected key returns it as is.
	restored, err := fast.DecryptBackedUpKey(kp.PrivateKey, "any")
	if err != nil {
		t.Fatal(err)
	}
	if restored.DecryptedPrivatePEM != kp.PrivateKey {
		t.Errorf("restoring an unprotected key changed it")
	}
}

func TestRejectsPublicKey(t *testing.T) {
	kp := generate(t)
	if _, err := fast.EncryptForBackup(kp.PublicKey, "pass"); !errors.Is(err, cert.ErrNoSecretMaterial) {
		t.Errorf("EncryptForBackup(public) = %v, want ErrNoSecretMaterial", err)
	}
	var pe *cert.ParseError
	if _, err := fast.DecryptBackedUpKey("garbage", "pass"); !errors.As(err, &pe) {
		t.Errorf("DecryptBackedUpKey(garbage) = %v, want *cert.ParseError", err)
	}
}
