// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package inspect describes a sealed message without decrypting it.
package inspect

import (
	"bytes"
	"fmt"

	"github.com/palform/palcrypt/armor"
	"github.com/palform/palcrypt/internal/format"
	"github.com/palform/palcrypt/internal/stream"
)

type Recipient struct {
	Type  string `json:"type"`
	KeyID string `json:"key_id"`
}

type Metadata struct {
	Version     string      `json:"version"`
	Postquantum string      `json:"postquantum"` // "yes", "no" or "unknown"
	Armor       bool        `json:"armor"`
	Recipients  []Recipient `json:"recipients"`
	Sizes       struct {
		Header   int64 `json:"header"`
		Armor    int64 `json:"armor"`
		Overhead int64 `json:"overhead"`
		Payload  int64 `json:"payload"`
	} `json:"sizes"`
}

// IsMessage reports whether data looks like a sealed message, armored or
// binary, as opposed to a key.
func IsMessage(data []byte) bool {
	if armor.IsArmored(data) {
		blockType, _, err := armor.Decode(data)
		return err == nil && blockType == armor.MessageBlock
	}
	return bytes.HasPrefix(data, []byte(format.Version+"\n"))
}

// Inspect parses the header of a sealed message and computes its size
// breakdown, assuming the payload decrypts.
func Inspect(sealed []byte) (*Metadata, error) {
	data := &Metadata{
		Version:     format.Version,
		Postquantum: "unknown",
	}

	_, body, err := armor.Decode(sealed, armor.MessageBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to remove armor: %w", err)
	}
	if armor.IsArmored(sealed) {
		data.Armor = true
		data.Sizes.Armor = int64(len(sealed) - len(body))
	}

	hdr, _, err := format.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	buf := &bytes.Buffer{}
	if err := hdr.Marshal(buf); err != nil {
		return nil, fmt.Errorf("failed to re-serialize header: %w", err)
	}
	data.Sizes.Header = int64(buf.Len())

	for _, s := range hdr.Stanzas {
		data.Recipients = append(data.Recipients, Recipient{Type: s.Type, KeyID: s.KeyID.String()})
		switch s.Type {
		case format.TypeX25519:
			data.Postquantum = "no"
		case format.TypeX25519MLKEM768:
			if data.Postquantum != "no" {
				data.Postquantum = "yes"
			}
		}
	}

	payloadSize := int64(len(body)) - data.Sizes.Header
	data.Sizes.Overhead, err = streamOverhead(payloadSize)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stream overhead: %w", err)
	}
	data.Sizes.Payload = payloadSize - data.Sizes.Overhead
	return data, nil
}

func streamOverhead(payloadSize int64) (int64, error) {
	plaintextSize, err := stream.PlaintextSize(payloadSize)
	if err != nil {
		return 0, err
	}
	return payloadSize - plaintextSize, nil
}
