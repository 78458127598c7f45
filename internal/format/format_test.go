// Copyright 2021 The age Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/palform/palcrypt/internal/format"
)

var (
	keyID = format.KeyID{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef}
	mac   = strings.Repeat("A", 43) // 32 zero bytes
	share = "c2hhcmU"
)

func TestStanzaMarshal(t *testing.T) {
	s := &format.Stanza{
		Type:  "test",
		KeyID: keyID,
		Args:  []string{"1", "2"},
	}
	buf := &bytes.Buffer{}
	s.Marshal(buf)
	if exp := "-> test 0123456789ABCDEF 1 2\n"; buf.String() != exp {
		t.Errorf("wrong empty stanza encoding: expected %q, got %q", exp, buf.String())
	}

	buf.Reset()
	s.Body = []byte("AAA")
	s.Marshal(buf)
	if exp := "-> test 0123456789ABCDEF 1 2\nQUFB\n"; buf.String() != exp {
		t.Errorf("wrong normal stanza encoding: expected %q, got %q", exp, buf.String())
	}

	// A body of whole lines has no terminating empty line.
	buf.Reset()
	s.Body = bytes.Repeat([]byte("A"), 48)
	s.Marshal(buf)
	if exp := "-> test 0123456789ABCDEF 1 2\nQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFB\n"; buf.String() != exp {
		t.Errorf("wrong 64 columns stanza encoding: expected %q, got %q", exp, buf.String())
	}
}

func TestKeyID(t *testing.T) {
	if got := keyID.String(); got != "0123456789ABCDEF" {
		t.Errorf("KeyID.String() = %q", got)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := &format.Header{
		Stanzas: []*format.Stanza{
			{Type: format.TypeX25519, KeyID: keyID, Args: []string{share}, Body: bytes.Repeat([]byte{7}, 32)},
			{Type: format.TypeX25519MLKEM768, KeyID: format.KeyID{0xfe, 0xdc}, Body: bytes.Repeat([]byte{9}, 1152)},
			{Type: "future", KeyID: keyID},
		},
		MAC: bytes.Repeat([]byte{1}, format.MACSize),
	}
	buf := &bytes.Buffer{}
	if err := h.Marshal(buf); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), format.Version+"\n") {
		t.Errorf("header does not start with version line: %q", buf.String()[:40])
	}
	buf.WriteString("payload")

	got, payload, err := format.Parse(buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	rest, err := io.ReadAll(payload)
	if err != nil {
		t.Fatal(err)
	}
	if string(rest) != "payload" {
		t.Errorf("payload = %q", rest)
	}
}

func TestParseErrors(t *testing.T) {
	v := format.Version + "\n"
	x25519 := "-> X25519 0123456789ABCDEF " + share + "\n"
	tests := map[string]string{
		"WrongVersion":  "age-encryption.org/v1\n--- " + mac + "\n",
		"NoFooter":      v + x25519 + "QUFB\n",
		"EmptyArg":      v + "-> X25519  0123456789ABCDEF " + share + "\nQUFB\n--- " + mac + "\n",
		"MissingKeyID":  v + "-> future\n--- " + mac + "\n",
		"LowerKeyID":    v + "-> X25519 0123456789abcdef " + share + "\nQUFB\n--- " + mac + "\n",
		"ShortKeyID":    v + "-> X25519 01234567 " + share + "\nQUFB\n--- " + mac + "\n",
		"ExtraArg":      v + "-> X25519 0123456789ABCDEF " + share + " x\nQUFB\n--- " + mac + "\n",
		"MissingArg":    v + "-> X25519 0123456789ABCDEF\nQUFB\n--- " + mac + "\n",
		"HybridArg":     v + "-> X25519MLKEM768 0123456789ABCDEF x\nQUFB\n--- " + mac + "\n",
		"EmptyBody":     v + x25519 + "--- " + mac + "\n",
		"EmptyLine":     v + x25519 + "\n--- " + mac + "\n",
		"BadBody":       v + x25519 + "!!!\n--- " + mac + "\n",
		"ShortInner":    v + x25519 + "QUFB\nQUFB\n--- " + mac + "\n",
		"LongLine":      v + x25519 + strings.Repeat("A", 65) + "\n--- " + mac + "\n",
		"CRLF":          v + x25519 + "QUFB\r\n--- " + mac + "\n",
		"Stray":         v + "hello\n--- " + mac + "\n",
		"BadMAC":        v + "--- AA AA\n",
		"ShortMAC":      v + "--- AAAA\n",
		"NoMACArgument": v + "---\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			h, payload, err := format.Parse(strings.NewReader(input))
			if err == nil {
				t.Fatal("expected error")
			}
			var pe format.ParseError
			if !errors.As(err, &pe) {
				t.Errorf("error type is %T", err)
			}
			if h != nil || payload != nil {
				t.Error("non-nil results on error")
			}
		})
	}
}

func TestUnknownStanza(t *testing.T) {
	input := format.Version + "\n-> future 0123456789ABCDEF a b c\n--- " + mac + "\n"
	h, _, err := format.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	want := &format.Stanza{Type: "future", KeyID: keyID, Args: []string{"a", "b", "c"}}
	if diff := cmp.Diff([]*format.Stanza{want}, h.Stanzas); diff != "" {
		t.Errorf("stanzas mismatch (-want +got):\n%s", diff)
	}
}

func TestTooManyStanzas(t *testing.T) {
	b := &strings.Builder{}
	b.WriteString(format.Version + "\n")
	for i := 0; i <= format.MaxStanzas; i++ {
		b.WriteString("-> X 0123456789ABCDEF\n")
	}
	b.WriteString("--- " + mac + "\n")
	if _, _, err := format.Parse(strings.NewReader(b.String())); err == nil {
		t.Error("expected error")
	}
}

func FuzzMalleability(f *testing.F) {
	f.Add([]byte(format.Version + "\n-> X25519 0123456789ABCDEF " + share + "\nQUFB\n--- " + mac + "\npayload"))
	f.Add([]byte(format.Version + "\n-> X 0123456789ABCDEF\n--- " + mac + "\n"))
	f.Fuzz(func(t *testing.T, data []byte) {
		h, payload, err := format.Parse(bytes.NewReader(data))
		if err != nil {
			if h != nil {
				t.Error("h != nil on error")
			}
			if payload != nil {
				t.Error("payload != nil on error")
			}
			t.Skip()
		}
		w := &bytes.Buffer{}
		if err := h.Marshal(w); err != nil {
			t.Fatal(err)
		}
		if _, err := io.Copy(w, payload); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(w.Bytes(), data) {
			t.Error("Marshal output different from input")
		}
	})
}
