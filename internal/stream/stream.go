// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stream implements the payload of sealed messages.
//
// A payload is a random NonceSize byte nonce followed by the plaintext in
// ChunkSize chunks, each sealed with ChaCha20-Poly1305 under a key derived
// from the file key and the nonce. Chunk nonces are a 64-bit big-endian
// counter and a final chunk flag, so dropped, reordered and appended chunks
// fail to authenticate.
package stream

import (
	"bufio"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	ChunkSize = 64 * 1024
	NonceSize = 16

	encChunkSize = ChunkSize + chacha20poly1305.Overhead
	payloadLabel = "payload"
)

// ErrAuthentication is returned when a chunk fails to authenticate, the
// payload is truncated, or data follows the final chunk.
var ErrAuthentication = errors.New("payload failed to authenticate")

// PlaintextSize returns the size of the plaintext of a payloadSize byte
// payload, nonce included, or an error if no plaintext seals to that size.
func PlaintextSize(payloadSize int64) (int64, error) {
	sealed := payloadSize - NonceSize
	if sealed < chacha20poly1305.Overhead {
		return 0, fmt.Errorf("payload too small: %d bytes", payloadSize)
	}
	chunks := (sealed + encChunkSize - 1) / encChunkSize
	plain := sealed - chunks*chacha20poly1305.Overhead
	// Only an empty plaintext has an empty chunk.
	if want := max(1, (plain+ChunkSize-1)/ChunkSize); want != chunks {
		return 0, fmt.Errorf("invalid payload size: %d bytes", payloadSize)
	}
	return plain, nil
}

type chunkNonce struct {
	counter uint64
	last    bool
}

func (n *chunkNonce) bytes() []byte {
	var b [chacha20poly1305.NonceSize]byte
	binary.BigEndian.PutUint64(b[3:11], n.counter)
	if n.last {
		b[11] = 1
	}
	return b[:]
}

func (n *chunkNonce) next() {
	if n.counter == math.MaxUint64 {
		panic("stream: chunk counter wrapped around")
	}
	n.counter++
}

func newAEAD(fileKey, nonce []byte) (cipher.AEAD, error) {
	h := hkdf.New(sha256.New, fileKey, nonce, []byte(payloadLabel))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}

type Reader struct {
	aead  cipher.AEAD
	src   *bufio.Reader
	nonce chunkNonce

	buf    [encChunkSize]byte
	unread []byte // opened but unread plaintext, backed by buf
	err    error
}

// NewReader reads the payload nonce from src and returns a Reader of the
// plaintext.
func NewReader(fileKey []byte, src io.Reader) (*Reader, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(src, nonce); err != nil {
		return nil, fmt.Errorf("%w: missing payload nonce", ErrAuthentication)
	}
	aead, err := newAEAD(fileKey, nonce)
	if err != nil {
		return nil, err
	}
	return &Reader{aead: aead, src: bufio.NewReader(src)}, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.unread) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		r.err = r.readChunk()
	}
	n := copy(p, r.unread)
	r.unread = r.unread[n:]
	return n, nil
}

// readChunk opens the next chunk into r.unread. It returns io.EOF once the
// final chunk is open.
func (r *Reader) readChunk() error {
	n, err := io.ReadFull(r.src, r.buf[:])
	switch err {
	case nil:
		// A full chunk is the final one only if nothing follows it.
		if _, err := r.src.Peek(1); err == io.EOF {
			r.nonce.last = true
		} else if err != nil {
			return err
		}
	case io.ErrUnexpectedEOF:
		r.nonce.last = true
	case io.EOF:
		return fmt.Errorf("%w: payload is truncated", ErrAuthentication)
	default:
		return err
	}
	if r.nonce.last && r.nonce.counter > 0 && n == chacha20poly1305.Overhead {
		return fmt.Errorf("%w: final chunk is empty", ErrAuthentication)
	}

	out, err := r.aead.Open(r.buf[:0], r.nonce.bytes(), r.buf[:n], nil)
	if err != nil {
		return ErrAuthentication
	}
	r.unread = out
	if r.nonce.last {
		return io.EOF
	}
	r.nonce.next()
	return nil
}

type Writer struct {
	aead  cipher.AEAD
	dst   io.Writer
	nonce chunkNonce
	buf   []byte // pending plaintext, with room for the tag
	err   error
}

// NewWriter writes a fresh payload nonce to dst and returns a Writer that
// seals its input to dst. Close must be called to seal the final chunk.
func NewWriter(fileKey []byte, dst io.Writer) (*Writer, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	aead, err := newAEAD(fileKey, nonce)
	if err != nil {
		return nil, err
	}
	if _, err := dst.Write(nonce); err != nil {
		return nil, fmt.Errorf("failed to write nonce: %w", err)
	}
	return &Writer{aead: aead, dst: dst, buf: make([]byte, 0, encChunkSize)}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	total := len(p)
	for len(p) > 0 {
		// A full chunk is flushed only once more data follows it, because
		// the final chunk may be full.
		if len(w.buf) == ChunkSize {
			if err := w.flush(); err != nil {
				w.err = err
				return total - len(p), err
			}
		}
		n := copy(w.buf[len(w.buf):ChunkSize], p)
		w.buf = w.buf[:len(w.buf)+n]
		p = p[n:]
	}
	return total, nil
}

// Close seals the final chunk. It does not close the underlying Writer.
func (w *Writer) Close() error {
	if w.err != nil {
		return w.err
	}
	w.nonce.last = true
	if err := w.flush(); err != nil {
		w.err = err
		return err
	}
	w.err = errors.New("stream.Writer is already closed")
	return nil
}

func (w *Writer) flush() error {
	ciphertext := w.aead.Seal(w.buf[:0], w.nonce.bytes(), w.buf, nil)
	_, err := w.dst.Write(ciphertext)
	w.buf = w.buf[:0]
	w.nonce.next()
	return err
}
