// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package inspect

import (
	"fmt"
	"testing"
	"time"

	"github.com/palform/palcrypt"
	"github.com/palform/palcrypt/armor"
	"github.com/palform/palcrypt/cert"
	"github.com/palform/palcrypt/internal/stream"
	"github.com/palform/palcrypt/policy"
)

func TestStreamOverhead(t *testing.T) {
	tests := []struct {
		payloadSize int64
		want        int64
		wantErr     bool
	}{
		{payloadSize: 0, wantErr: true},
		{payloadSize: 15, wantErr: true},
		{payloadSize: 16, wantErr: true},
		{payloadSize: 16 + 15, wantErr: true},
		{payloadSize: 16 + 16, want: 16 + 16}, // empty plaintext
		{payloadSize: 16 + 1 + 16, want: 16 + 16},
		{payloadSize: 16 + stream.ChunkSize + 16, want: 16 + 16},
		{payloadSize: 16 + stream.ChunkSize + 16 + 1, wantErr: true},
		{payloadSize: 16 + stream.ChunkSize + 16 + 15, wantErr: true},
		{payloadSize: 16 + stream.ChunkSize + 16 + 16, wantErr: true}, // empty final chunk
		{payloadSize: 16 + stream.ChunkSize + 16 + 1 + 16, want: 16 + 16 + 16},
	}
	for _, tt := range tests {
		name := "payloadSize=" + fmt.Sprint(tt.payloadSize)
		t.Run(name, func(t *testing.T) {
			got, gotErr := streamOverhead(tt.payloadSize)
			if gotErr != nil {
				if !tt.wantErr {
					t.Errorf("streamOverhead() failed: %v", gotErr)
				}
				return
			}
			if tt.wantErr {
				t.Fatal("streamOverhead() succeeded unexpectedly")
			}
			if got != tt.want {
				t.Errorf("streamOverhead() = %v, want %v", got, tt.want)
			}
		})
	}
}

func generate(t *testing.T, suite policy.CipherSuite) *cert.Cert {
	t.Helper()
	p := policy.Standard().WithCipherSuite(suite)
	kp, err := cert.GenerateWithPolicy(p, "org", "user", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	c, err := cert.ParsePublic(kp.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestInspect(t *testing.T) {
	classic := generate(t, policy.Cv25519)
	hybrid := generate(t, policy.Cv25519MLKEM768)
	plaintext := make([]byte, 1000)

	tests := []struct {
		name        string
		recipients  []*cert.Cert
		postquantum string
	}{
		{"X25519", []*cert.Cert{classic}, "no"},
		{"Hybrid", []*cert.Cert{hybrid}, "yes"},
		{"Mixed", []*cert.Cert{hybrid, classic}, "no"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := palcrypt.Encrypt(plaintext, tt.recipients...)
			if err != nil {
				t.Fatal(err)
			}
			if !IsMessage(sealed) {
				t.Error("IsMessage = false")
			}
			md, err := Inspect(sealed)
			if err != nil {
				t.Fatal(err)
			}
			if !md.Armor {
				t.Error("message not reported as armored")
			}
			if md.Postquantum != tt.postquantum {
				t.Errorf("Postquantum = %q, want %q", md.Postquantum, tt.postquantum)
			}
			if len(md.Recipients) != len(tt.recipients) {
				t.Fatalf("got %d recipients, want %d", len(md.Recipients), len(tt.recipients))
			}
			for i, r := range md.Recipients {
				want := tt.recipients[i].Keys()[1].KeyID().String()
				if r.KeyID != want {
					t.Errorf("recipient %d key ID %s, want %s", i, r.KeyID, want)
				}
			}
			if md.Sizes.Payload != int64(len(plaintext)) {
				t.Errorf("Payload = %d, want %d", md.Sizes.Payload, len(plaintext))
			}
			total := md.Sizes.Header + md.Sizes.Armor + md.Sizes.Overhead + md.Sizes.Payload
			if total != int64(len(sealed)) {
				t.Errorf("sizes add up to %d, want %d", total, len(sealed))
			}
		})
	}
}

func TestIsMessage(t *testing.T) {
	kp, err := cert.Generate("org", "user", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if IsMessage([]byte(kp.PublicKey)) || IsMessage([]byte(kp.PrivateKey)) {
		t.Error("key reported as a message")
	}
	if !IsMessage([]byte("palcrypt.palform.app/v1\n-> X25519 A B\n")) {
		t.Error("binary header not reported as a message")
	}
	if _, err := Inspect([]byte(armor.Encode(armor.MessageBlock, []byte("garbage")))); err == nil {
		t.Error("Inspect accepted a garbage body")
	}
}
