// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package format implements the header of sealed Palform messages.
//
// A header is a version line, one stanza per recipient key, and a closing
// line carrying the header MAC:
//
//	palcrypt.palform.app/v1
//	-> X25519 0123456789ABCDEF <base64 ephemeral share>
//	<base64 body, 64 columns per line>
//	-> X25519MLKEM768 FEDCBA9876543210
//	<base64 body, 64 columns per line>
//	--- <base64 MAC>
//
// Every stanza names its recipient by key ID, in uppercase hex. A body runs
// until the next stanza or the closing line, and only its last line may be
// shorter than 64 columns, so every header has exactly one encoding. The
// binary payload follows the closing line.
package format

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Version is the first line of every header.
const Version = "palcrypt.palform.app/v1"

// Stanza types written by this version.
const (
	TypeX25519         = "X25519"
	TypeX25519MLKEM768 = "X25519MLKEM768"
)

// argCounts is the number of arguments following the key ID for each known
// stanza type. Stanzas of other types may carry any number of arguments and
// an empty body.
var argCounts = map[string]int{
	TypeX25519:         1,
	TypeX25519MLKEM768: 0,
}

const (
	// MaxStanzas bounds the number of recipient stanzas in a header.
	MaxStanzas = 1024

	// MACSize is the size of the header MAC, an HMAC-SHA-256.
	MACSize = 32

	columnsPerLine = 64
)

const (
	intro        = Version + "\n"
	stanzaPrefix = "->"
	footerPrefix = "---"
)

var b64 = base64.RawStdEncoding.Strict()

// EncodeToString encodes b as unpadded base64, the encoding of every binary
// value in a header.
func EncodeToString(b []byte) string { return b64.EncodeToString(b) }

// DecodeString decodes unpadded base64. Unlike base64.Encoding it rejects
// CR and LF characters, so a value has a single encoding.
func DecodeString(s string) ([]byte, error) {
	if strings.ContainsAny(s, "\n\r") {
		return nil, fmt.Errorf("unexpected newline character")
	}
	return b64.DecodeString(s)
}

// KeyID is the recipient key ID of a stanza. It converts to and from
// cert.KeyID.
type KeyID [8]byte

func (id KeyID) String() string {
	return strings.ToUpper(hex.EncodeToString(id[:]))
}

func parseKeyID(s string) (KeyID, error) {
	var id KeyID
	if len(s) != hex.EncodedLen(len(id)) || strings.ToUpper(s) != s {
		return id, fmt.Errorf("malformed key ID %q", s)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("malformed key ID %q", s)
	}
	return id, nil
}

type Header struct {
	Stanzas []*Stanza
	MAC     []byte
}

// Stanza wraps the file key to a single recipient key.
type Stanza struct {
	Type  string
	KeyID KeyID
	Args  []string
	Body  []byte
}

func (s *Stanza) Marshal(w io.Writer) error {
	fields := append([]string{stanzaPrefix, s.Type, s.KeyID.String()}, s.Args...)
	if _, err := io.WriteString(w, strings.Join(fields, " ")+"\n"); err != nil {
		return err
	}
	body := b64.EncodeToString(s.Body)
	for len(body) > 0 {
		n := min(len(body), columnsPerLine)
		if _, err := io.WriteString(w, body[:n]+"\n"); err != nil {
			return err
		}
		body = body[n:]
	}
	return nil
}

// MarshalWithoutMAC writes the header up to and including the "---" of the
// closing line. This is the input of the header MAC.
func (h *Header) MarshalWithoutMAC(w io.Writer) error {
	if _, err := io.WriteString(w, intro); err != nil {
		return err
	}
	for _, s := range h.Stanzas {
		if err := s.Marshal(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, footerPrefix)
	return err
}

func (h *Header) Marshal(w io.Writer) error {
	if err := h.MarshalWithoutMAC(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, " "+b64.EncodeToString(h.MAC)+"\n")
	return err
}

type ParseError string

func (e ParseError) Error() string {
	return "parsing message header: " + string(e)
}

func errorf(format string, a ...any) error {
	return ParseError(fmt.Sprintf(format, a...))
}

// Parse returns the header and a Reader that begins at the start of the
// payload.
func Parse(input io.Reader) (*Header, io.Reader, error) {
	rr := bufio.NewReader(input)

	line, err := rr.ReadString('\n')
	if err != nil {
		return nil, nil, errorf("failed to read intro: %v", err)
	}
	if line != intro {
		return nil, nil, errorf("unexpected intro: %q", line)
	}

	h := &Header{}
	var (
		current *Stanza
		body    []string
	)
	for h.MAC == nil {
		line, err := rr.ReadString('\n')
		if err != nil {
			return nil, nil, errorf("failed to read header: %v", err)
		}
		line = strings.TrimSuffix(line, "\n")

		switch {
		case strings.HasPrefix(line, stanzaPrefix), strings.HasPrefix(line, footerPrefix):
			if current != nil {
				if err := current.setBody(body); err != nil {
					return nil, nil, err
				}
				current, body = nil, nil
			}
			if strings.HasPrefix(line, footerPrefix) {
				if h.MAC, err = parseFooter(line); err != nil {
					return nil, nil, err
				}
				break
			}
			if len(h.Stanzas) >= MaxStanzas {
				return nil, nil, errorf("too many recipient stanzas")
			}
			if current, err = parseStanzaLine(line); err != nil {
				return nil, nil, err
			}
			h.Stanzas = append(h.Stanzas, current)

		case current != nil:
			body = append(body, line)

		default:
			return nil, nil, errorf("unexpected line: %q", line)
		}
	}

	// bufio.NewReader returns input itself if it is already a large enough
	// bufio.Reader, and then there is no overread to unwind.
	if rr == input {
		return h, rr, nil
	}
	buf, err := rr.Peek(rr.Buffered())
	if err != nil {
		return nil, nil, errorf("internal error: %v", err)
	}
	return h, io.MultiReader(bytes.NewReader(buf), input), nil
}

func parseStanzaLine(line string) (*Stanza, error) {
	fields := strings.Split(line, " ")
	if fields[0] != stanzaPrefix || len(fields) < 3 {
		return nil, errorf("malformed stanza: %q", line)
	}
	for _, f := range fields[1:] {
		if !isValidString(f) {
			return nil, errorf("malformed stanza: %q", line)
		}
	}
	s := &Stanza{Type: fields[1]}
	if len(fields) > 3 {
		s.Args = fields[3:]
	}
	id, err := parseKeyID(fields[2])
	if err != nil {
		return nil, errorf("%s stanza: %v", s.Type, err)
	}
	s.KeyID = id
	if n, ok := argCounts[s.Type]; ok && len(s.Args) != n {
		return nil, errorf("%s stanza has %d arguments, want %d", s.Type, len(s.Args), n)
	}
	return s, nil
}

// setBody decodes the body lines of s. All lines but the last must be full.
func (s *Stanza) setBody(lines []string) error {
	for i, l := range lines {
		last := i == len(lines)-1
		if len(l) == 0 || len(l) > columnsPerLine || (!last && len(l) != columnsPerLine) {
			return errorf("%s stanza: malformed body line %q", s.Type, l)
		}
	}
	b, err := DecodeString(strings.Join(lines, ""))
	if err != nil {
		return errorf("%s stanza: malformed body: %v", s.Type, err)
	}
	if _, known := argCounts[s.Type]; known && len(b) == 0 {
		return errorf("%s stanza has an empty body", s.Type)
	}
	if len(b) > 0 {
		s.Body = b
	}
	return nil
}

func parseFooter(line string) ([]byte, error) {
	fields := strings.Split(line, " ")
	if fields[0] != footerPrefix || len(fields) != 2 {
		return nil, errorf("malformed closing line: %q", line)
	}
	mac, err := DecodeString(fields[1])
	if err != nil || len(mac) != MACSize {
		return nil, errorf("malformed closing line: %q", line)
	}
	return mac, nil
}

func isValidString(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if c < 33 || c > 126 {
			return false
		}
	}
	return true
}
