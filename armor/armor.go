// Copyright 2019 The age Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package armor implements the ASCII armor used for Palform keys and sealed
// messages.
//
// Armor is PEM-like: a BEGIN banner naming the block type, base64 data, and
// a matching END banner. The writer is strict and emits 64 character
// columns with no headers. The reader is lenient, because armored keys are
// pasted by hand, and accepts CRLF line endings, surrounding whitespace, any
// line length, "Key: Value" headers and an OpenPGP-style CRC-24 checksum line.
package armor

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Block types.
const (
	PublicKeyBlock  = "PALFORM PUBLIC KEY BLOCK"
	PrivateKeyBlock = "PALFORM PRIVATE KEY BLOCK"
	MessageBlock    = "PALFORM SEALED MESSAGE"
)

const (
	beginPrefix = "-----BEGIN "
	endPrefix   = "-----END "
	dashes      = "-----"
)

func header(blockType string) string { return beginPrefix + blockType + dashes }
func footer(blockType string) string { return endPrefix + blockType + dashes }

type armoredWriter struct {
	started, closed bool
	blockType       string
	written         int
	encoder         io.WriteCloser
	dst             io.Writer
}

func (a *armoredWriter) start() error {
	if a.started {
		return nil
	}
	a.started = true
	_, err := io.WriteString(a.dst, header(a.blockType)+"\n")
	return err
}

func (a *armoredWriter) Write(p []byte) (int, error) {
	if a.closed {
		return 0, errors.New("armored writer already closed")
	}
	if err := a.start(); err != nil {
		return 0, err
	}
	a.written += len(p)
	return a.encoder.Write(p)
}

func (a *armoredWriter) Close() error {
	if a.closed {
		return errors.New("armored writer already closed")
	}
	a.closed = true
	if err := a.start(); err != nil {
		return err
	}
	if err := a.encoder.Close(); err != nil {
		return err
	}
	f := footer(a.blockType) + "\n"
	if a.written > 0 {
		f = "\n" + f
	}
	_, err := io.WriteString(a.dst, f)
	return err
}

const columns = 64

// lineWriter breaks its input into lines of columns characters, with no
// newline before the first line or after the last.
type lineWriter struct {
	dst    io.Writer
	column int
}

func (w *lineWriter) Write(p []byte) (int, error) {
	n := 0
	for len(p) > 0 {
		if w.column == columns {
			if _, err := io.WriteString(w.dst, "\n"); err != nil {
				return n, err
			}
			w.column = 0
		}
		nn, err := w.dst.Write(p[:min(len(p), columns-w.column)])
		n += nn
		w.column += nn
		p = p[nn:]
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// NewWriter returns a WriteCloser that armors everything written to it as a
// block of the given type. Close must be called to write the END banner.
func NewWriter(dst io.Writer, blockType string) io.WriteCloser {
	return &armoredWriter{
		dst:       dst,
		blockType: blockType,
		encoder:   base64.NewEncoder(base64.StdEncoding, &lineWriter{dst: dst}),
	}
}

// Encode armors body as a block of the given type.
func Encode(blockType string, body []byte) string {
	buf := &strings.Builder{}
	w := NewWriter(buf, blockType)
	w.Write(body)
	w.Close()
	return buf.String()
}

// IsArmored reports whether data starts, after any whitespace, with a BEGIN
// banner.
func IsArmored(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte(beginPrefix))
}

// Decode removes the armor from data and returns the block type and the
// decoded body. If accept is not empty the block type must be one of accept.
//
// Input that is not armored is returned unchanged with an empty block type,
// so callers can accept both binary and armored encodings.
func Decode(data []byte, accept ...string) (blockType string, body []byte, err error) {
	if !IsArmored(data) {
		return "", data, nil
	}

	lines := strings.Split(string(data), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}

	first := lines[0]
	if !strings.HasPrefix(first, beginPrefix) || !strings.HasSuffix(first, dashes) ||
		len(first) <= len(beginPrefix)+len(dashes) {
		return "", nil, errorf("invalid first line: %q", first)
	}
	blockType = first[len(beginPrefix) : len(first)-len(dashes)]
	if len(accept) > 0 && !slices.Contains(accept, blockType) {
		return "", nil, errorf("unexpected block type %q", blockType)
	}
	lines = lines[1:]

	var (
		b64      strings.Builder
		checksum string
		closed   bool
		inBody   bool
	)
	for i, line := range lines {
		switch {
		case line == footer(blockType):
			for _, l := range lines[i+1:] {
				if l != "" {
					return "", nil, errorf("trailing data after armored block")
				}
			}
			closed = true
		case strings.HasPrefix(line, endPrefix):
			return "", nil, errorf("invalid closing line: %q", line)
		case line == "":
			continue
		case !inBody && strings.Contains(line, ": "):
			// Armor header, ignored.
			continue
		case strings.HasPrefix(line, "=") && len(line) == 5:
			if checksum != "" {
				return "", nil, errorf("duplicate checksum line")
			}
			checksum = line[1:]
		default:
			if checksum != "" {
				return "", nil, errorf("data after checksum line")
			}
			inBody = true
			b64.WriteString(line)
		}
		if closed {
			break
		}
	}
	if !closed {
		return "", nil, errorf("missing closing line %q", footer(blockType))
	}

	body, err = base64.StdEncoding.DecodeString(b64.String())
	if err != nil {
		// Some encoders drop the padding.
		body, err = base64.RawStdEncoding.DecodeString(b64.String())
	}
	if err != nil {
		return "", nil, &Error{err}
	}
	if checksum != "" {
		want, err := base64.StdEncoding.DecodeString(checksum)
		if err != nil || len(want) != 3 {
			return "", nil, errorf("malformed checksum %q", checksum)
		}
		sum := crc24(body)
		if want[0] != byte(sum>>16) || want[1] != byte(sum>>8) || want[2] != byte(sum) {
			return "", nil, errorf("checksum mismatch")
		}
	}
	return blockType, body, nil
}

const (
	crc24Init = 0xb704ce
	crc24Poly = 0x1864cfb
)

func crc24(data []byte) uint32 {
	crc := uint32(crc24Init)
	for _, b := range data {
		crc ^= uint32(b) << 16
		for i := 0; i < 8; i++ {
			crc <<= 1
			if crc&0x1000000 != 0 {
				crc ^= crc24Poly
			}
		}
	}
	return crc & 0xffffff
}

type Error struct {
	err error
}

func (e *Error) Error() string {
	return "invalid armor: " + e.err.Error()
}

func (e *Error) Unwrap() error {
	return e.err
}

func errorf(format string, a ...any) error {
	return &Error{fmt.Errorf(format, a...)}
}
