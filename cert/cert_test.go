// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cert_test

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/palform/palcrypt/armor"
	"github.com/palform/palcrypt/cert"
	"github.com/palform/palcrypt/policy"
)

func generate(t *testing.T, validity time.Duration) *cert.NewKeypair {
	t.Helper()
	kp, err := cert.Generate("org1", "user1", validity)
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

var fingerprintRe = regexp.MustCompile(`^[0-9A-F]{64}$`)

func TestGenerate(t *testing.T) {
	kp := generate(t, 365*24*time.Hour)

	if !strings.HasPrefix(kp.PrivateKey, "-----BEGIN "+armor.PrivateKeyBlock+"-----\n") {
		t.Errorf("private key has unexpected armor: %q", kp.PrivateKey[:40])
	}
	if !strings.HasPrefix(kp.PublicKey, "-----BEGIN "+armor.PublicKeyBlock+"-----\n") {
		t.Errorf("public key has unexpected armor: %q", kp.PublicKey[:40])
	}
	if !fingerprintRe.MatchString(kp.KeyID) {
		t.Errorf("key ID %q is not a canonical fingerprint", kp.KeyID)
	}

	sc, err := cert.ParseSecret(kp.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	pc, err := cert.ParsePublic(kp.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	if got := sc.Fingerprint().String(); got != kp.KeyID {
		t.Errorf("private fingerprint %s, key ID %s", got, kp.KeyID)
	}
	if got := pc.Fingerprint().String(); got != kp.KeyID {
		t.Errorf("public fingerprint %s, key ID %s", got, kp.KeyID)
	}

	if diff := cmp.Diff([]string{"palform_org1_user1"}, pc.UserIDs()); diff != "" {
		t.Errorf("user IDs mismatch (-want +got):\n%s", diff)
	}

	keys := pc.Keys()
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
	if !keys[0].Primary() || keys[0].Flags() != cert.FlagCertify || keys[0].Algorithm() != policy.Ed25519 {
		t.Errorf("unexpected primary key %v", keys[0])
	}
	if keys[1].Primary() || keys[1].Flags() != cert.FlagEncryptStorage || keys[1].Algorithm() != policy.X25519 {
		t.Errorf("unexpected subkey %v", keys[1])
	}
	for _, k := range keys {
		if k.HasSecret() {
			t.Errorf("public certificate key %v has secret material", k)
		}
		exp, ok := k.Expiry()
		if !ok {
			t.Errorf("key %v does not expire", k)
		}
		if want := k.Created().Add(365 * 24 * time.Hour); !exp.Equal(want) {
			t.Errorf("key %v expires at %v, want %v", k, exp, want)
		}
	}
	for _, k := range sc.SecretKeys() {
		if k.Encrypted() {
			t.Errorf("generated key %v is encrypted", k)
		}
	}
	if n := len(sc.SecretKeys()); n != 2 {
		t.Errorf("got %d secret keys, want 2", n)
	}

	if err := cert.Validate(sc); err != nil {
		t.Errorf("Validate(private) = %v", err)
	}
	if err := cert.Validate(pc); err != nil {
		t.Errorf("Validate(public) = %v", err)
	}
}

func TestFingerprintStable(t *testing.T) {
	kp := generate(t, 0)
	c1, err := cert.ParsePublic(kp.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := cert.ParsePublic(c1.Armor())
	if err != nil {
		t.Fatal(err)
	}
	sc, err := cert.ParseSecret(kp.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	sc2, err := cert.ParseSecret(sc.ArmorSecret())
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []cert.Certificate{c1, c2, sc, sc2} {
		if got := c.Fingerprint().String(); got != kp.KeyID {
			t.Errorf("fingerprint %s, want %s", got, kp.KeyID)
		}
	}
	if c1.Armor() != kp.PublicKey {
		t.Errorf("public certificate does not re-encode identically")
	}
	if sc.ArmorSecret() != kp.PrivateKey {
		t.Errorf("secret certificate does not re-encode identically")
	}
}

func TestZeroValidity(t *testing.T) {
	kp := generate(t, 0)
	c, err := cert.ParsePublic(kp.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range c.Keys() {
		exp, ok := k.Expiry()
		if !ok {
			t.Fatalf("key %v does not expire", k)
		}
		if got := exp.Sub(k.Created()); got != cert.MaxValidity {
			t.Errorf("key %v lifetime is %v, want %v", k, got, cert.MaxValidity)
		}
	}
	future := policy.Standard().At(time.Now().AddDate(50, 0, 0))
	if err := cert.ValidateWithPolicy(c, future); err != nil {
		t.Errorf("key is not valid in 50 years: %v", err)
	}
}

func TestExpiry(t *testing.T) {
	kp := generate(t, 24*time.Hour)
	c, err := cert.ParsePublic(kp.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	later := policy.Standard().At(time.Now().Add(48 * time.Hour))
	err = cert.ValidateWithPolicy(c, later)
	var pe *cert.PolicyError
	if !errors.As(err, &pe) {
		t.Fatalf("expired certificate error = %v, want *PolicyError", err)
	}
	if !errors.Is(err, policy.ErrRejected) {
		t.Errorf("error %v does not wrap policy.ErrRejected", err)
	}

	earlier := policy.Standard().At(time.Now().Add(-time.Hour))
	if _, err := c.WithPolicy(earlier); err == nil {
		t.Errorf("certificate valid before its creation")
	}
}

func TestGenerateValidityRange(t *testing.T) {
	if _, err := cert.Generate("o", "u", -time.Second); err == nil {
		t.Error("negative validity accepted")
	}
	if _, err := cert.Generate("o", "u", cert.MaxValidity+time.Second); err == nil {
		t.Error("validity above the maximum accepted")
	}
	if _, err := cert.Generate("o", "u", cert.MaxValidity); err != nil {
		t.Errorf("maximum validity rejected: %v", err)
	}
}

func TestHybridSuite(t *testing.T) {
	p := policy.Standard().WithCipherSuite(policy.Cv25519MLKEM768)
	kp, err := cert.GenerateWithPolicy(p, "org", "user", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	md, err := cert.GetMetadata(kp.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	if md.Algo != "X25519MLKEM768" {
		t.Errorf("algorithm %q", md.Algo)
	}
	sc, err := cert.ParseSecret(kp.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	if err := cert.Validate(sc); err != nil {
		t.Errorf("hybrid certificate invalid: %v", err)
	}
}

func TestParse(t *testing.T) {
	kp := generate(t, time.Hour)

	pub, err := cert.ParsePublic(kp.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range pub.Keys() {
		if k.HasSecret() {
			t.Errorf("ParsePublic kept secret material for %v", k)
		}
	}
	if pub.Armor() != kp.PublicKey {
		t.Errorf("ParsePublic(private).Armor() differs from the public key")
	}

	if _, err := cert.ParseSecret(kp.PublicKey); !errors.Is(err, cert.ErrNoSecretMaterial) {
		t.Errorf("ParseSecret(public) = %v, want ErrNoSecretMaterial", err)
	}

	c, err := cert.ParseSecretOrPublic(kp.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*cert.SecretCert); !ok {
		t.Errorf("ParseSecretOrPublic(private) returned %T", c)
	}
	c, err = cert.ParseSecretOrPublic(kp.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*cert.Cert); !ok {
		t.Errorf("ParseSecretOrPublic(public) returned %T", c)
	}

	_, body, err := armor.Decode([]byte(kp.PublicKey))
	if err != nil {
		t.Fatal(err)
	}
	bin, err := cert.ParsePublic(string(body))
	if err != nil {
		t.Fatalf("binary certificate: %v", err)
	}
	if bin.Fingerprint().String() != kp.KeyID {
		t.Errorf("binary certificate has a different fingerprint")
	}

	for name, input := range map[string]string{
		"Empty":     "",
		"Garbage":   "not a key",
		"Message":   armor.Encode(armor.MessageBlock, body),
		"Truncated": string(body[:len(body)-3]),
		"BadArmor":  strings.Replace(kp.PublicKey, "-----END", "-----BAD", 1),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := cert.ParseSecretOrPublic(input)
			var pe *cert.ParseError
			if !errors.As(err, &pe) {
				t.Errorf("error = %v, want *ParseError", err)
			}
		})
	}
}

func TestStripSecret(t *testing.T) {
	kp := generate(t, time.Hour)
	pub, err := cert.StripSecret(kp.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	if pub != kp.PublicKey {
		t.Errorf("stripped certificate differs from the generated public key")
	}
	if _, err := cert.StripSecret(pub); !errors.Is(err, cert.ErrNoSecretMaterial) {
		t.Errorf("StripSecret(public) = %v, want ErrNoSecretMaterial", err)
	}
	if _, err := cert.StripSecret("garbage"); err == nil {
		t.Errorf("StripSecret(garbage) succeeded")
	}
}

func TestGetMetadata(t *testing.T) {
	kp := generate(t, time.Hour)

	got, err := cert.GetMetadata(kp.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	want := &cert.KeyMetadata{Fingerprint: kp.KeyID, Algo: "X25519", HasSecret: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("private metadata mismatch (-want +got):\n%s", diff)
	}

	got, err = cert.GetMetadata(kp.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	want.HasSecret = false
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("public metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestGetMetadataWithPolicy(t *testing.T) {
	created := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	kp, err := cert.GenerateWithPolicy(policy.Standard().At(created), "org1", "user1", 30*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	var pe *cert.PolicyError
	if _, err := cert.GetMetadata(kp.PublicKey); !errors.As(err, &pe) {
		t.Errorf("GetMetadata of an expired key = %v, want *PolicyError", err)
	}

	got, err := cert.GetMetadataWithPolicy(kp.PublicKey, policy.Standard().At(created.Add(24*time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	want := &cert.KeyMetadata{Fingerprint: kp.KeyID, Algo: "X25519"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestProtect(t *testing.T) {
	kp := generate(t, time.Hour)
	sc, err := cert.ParseSecret(kp.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	pass := []byte("correct horse battery staple")

	var locked []*cert.SecretKey
	for _, k := range sc.SecretKeys() {
		lk, err := k.Protect(pass, 10)
		if err != nil {
			t.Fatal(err)
		}
		if !lk.Encrypted() || k.Encrypted() {
			t.Fatalf("Protect did not return a new protected key")
		}
		if _, err := lk.Material(); !errors.Is(err, cert.ErrKeyLocked) {
			t.Errorf("Material() on a locked key = %v", err)
		}
		if _, err := lk.Protect(pass, 10); !errors.Is(err, cert.ErrKeyLocked) {
			t.Errorf("Protect() on a locked key = %v", err)
		}
		locked = append(locked, lk)
	}
	lsc, err := sc.InsertKeys(locked...)
	if err != nil {
		t.Fatal(err)
	}

	reparsed, err := cert.ParseSecret(lsc.ArmorSecret())
	if err != nil {
		t.Fatal(err)
	}
	if reparsed.Fingerprint() != sc.Fingerprint() {
		t.Errorf("protection changed the fingerprint")
	}
	if err := cert.Validate(reparsed); err != nil {
		t.Errorf("protected certificate invalid: %v", err)
	}
	md, err := cert.GetMetadata(lsc.ArmorSecret())
	if err != nil {
		t.Fatal(err)
	}
	if md.HasSecret {
		t.Errorf("protected key reported as having usable secret material")
	}

	for i, k := range reparsed.SecretKeys() {
		if k.Primary() != (i == 0) {
			t.Errorf("key %d changed role", i)
		}
		if _, err := k.Unprotect([]byte("wrong")); !errors.Is(err, cert.ErrIncorrectPassphrase) {
			t.Errorf("Unprotect(wrong) = %v", err)
		}
		uk, err := k.Unprotect(pass)
		if err != nil {
			t.Fatal(err)
		}
		orig := sc.SecretKeyByID(k.KeyID())
		om, _ := orig.Material()
		um, err := uk.Material()
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(om, um); diff != "" {
			t.Errorf("unprotected material mismatch (-want +got):\n%s", diff)
		}
	}

	if _, err := sc.SecretKeys()[0].Protect(nil, 10); err == nil {
		t.Error("empty passphrase accepted")
	}
	if _, err := sc.SecretKeys()[0].Protect(pass, cert.MaxLogN+1); err == nil {
		t.Error("excessive work factor accepted")
	}
}

func TestInsertKeysForeign(t *testing.T) {
	a, err := cert.ParseSecret(generate(t, time.Hour).PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	b, err := cert.ParseSecret(generate(t, time.Hour).PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.InsertKeys(b.SecretKeys()[1]); err == nil {
		t.Error("InsertKeys accepted a key from another certificate")
	}
}

func TestKeyIDRoundTrip(t *testing.T) {
	kp := generate(t, time.Hour)
	fp, err := cert.ParseFingerprint(strings.ToLower(kp.KeyID))
	if err != nil {
		t.Fatal(err)
	}
	if fp.String() != kp.KeyID {
		t.Errorf("fingerprint round trip: %s", fp)
	}
	id, err := cert.ParseKeyID(fp.KeyID().String())
	if err != nil {
		t.Fatal(err)
	}
	if id != fp.KeyID() || id.String() != kp.KeyID[:16] {
		t.Errorf("key ID round trip: %s", id)
	}
	if _, err := cert.ParseKeyID("XYZ"); err == nil {
		t.Error("malformed key ID accepted")
	}
}
