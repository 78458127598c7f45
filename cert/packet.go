// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cert

import (
	"time"

	"github.com/palform/palcrypt/policy"
	"golang.org/x/crypto/cryptobyte"
)

// Packet tags, numbered as in OpenPGP.
type packetTag uint8

const (
	tagSignature    packetTag = 2
	tagSecretKey    packetTag = 5
	tagPublicKey    packetTag = 6
	tagSecretSubkey packetTag = 7
	tagUserID       packetTag = 13
	tagPublicSubkey packetTag = 14
)

const packetVersion = 1

// maxPackets bounds the size of a certificate.
const maxPackets = 256

type packet struct {
	tag  packetTag
	body cryptobyte.String
}

func readPackets(data []byte) ([]packet, error) {
	var packets []packet
	s := cryptobyte.String(data)
	for !s.Empty() {
		var tag uint8
		var body cryptobyte.String
		if !s.ReadUint8(&tag) || !s.ReadUint24LengthPrefixed(&body) {
			return nil, errorf("truncated packet")
		}
		if len(packets) == maxPackets {
			return nil, errorf("too many packets")
		}
		packets = append(packets, packet{tag: packetTag(tag), body: body})
	}
	if len(packets) == 0 {
		return nil, errorf("no packets")
	}
	return packets, nil
}

func addPacket(b *cryptobyte.Builder, tag packetTag, body cryptobyte.BuilderContinuation) {
	b.AddUint8(uint8(tag))
	b.AddUint24LengthPrefixed(body)
}

// Secret material usage, following the public fields of a secret key packet.
const (
	secretPlain  = 0
	secretScrypt = 1
)

const saltSize = 16

func (k *Key) addPublicFields(b *cryptobyte.Builder) {
	b.AddUint8(packetVersion)
	b.AddUint32(uint32(k.created.Unix()))
	b.AddUint8(uint8(k.algo))
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(k.public)
	})
}

func (k *Key) addSecretFields(b *cryptobyte.Builder) {
	s := k.secret
	if s.sealed == nil {
		b.AddUint8(secretPlain)
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(s.plain)
		})
		return
	}
	b.AddUint8(secretScrypt)
	b.AddUint8(s.logN)
	b.AddBytes(s.salt)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(s.sealed)
	})
}

// publicBody is the body of the public key packet, which is also the input
// to the fingerprint and the associated data of protected secret material.
func (k *Key) publicBody() []byte {
	b := cryptobyte.NewBuilder(nil)
	k.addPublicFields(b)
	return b.BytesOrPanic()
}

// parseKey parses a key packet. If keepSecret is false, the secret fields of
// a secret key packet are skipped without being checked.
func parseKey(p packet, primary, keepSecret bool) (*Key, error) {
	s := p.body
	var version, algo uint8
	var created uint32
	var public cryptobyte.String
	if !s.ReadUint8(&version) || !s.ReadUint32(&created) || !s.ReadUint8(&algo) ||
		!s.ReadUint16LengthPrefixed(&public) {
		return nil, errorf("truncated key packet")
	}
	if version != packetVersion {
		return nil, errorf("unsupported key packet version %d", version)
	}
	k := &Key{
		primary: primary,
		algo:    policy.Algorithm(algo),
		created: time.Unix(int64(created), 0).UTC(),
		public:  append([]byte(nil), public...),
	}

	if p.tag == tagSecretKey || p.tag == tagSecretSubkey {
		if !keepSecret {
			return k, nil
		}
		var usage uint8
		if !s.ReadUint8(&usage) {
			return nil, errorf("truncated secret key packet")
		}
		sm := &secretMaterial{}
		switch usage {
		case secretPlain:
			var plain cryptobyte.String
			if !s.ReadUint16LengthPrefixed(&plain) {
				return nil, errorf("truncated secret key packet")
			}
			if len(plain) != k.algo.SecretKeySize() {
				return nil, errorf("invalid %v secret key size %d", k.algo, len(plain))
			}
			sm.plain = append([]byte(nil), plain...)
		case secretScrypt:
			var salt, sealed cryptobyte.String
			if !s.ReadUint8(&sm.logN) || !s.ReadBytes((*[]byte)(&salt), saltSize) ||
				!s.ReadUint16LengthPrefixed(&sealed) {
				return nil, errorf("truncated secret key packet")
			}
			if len(sealed) == 0 {
				return nil, errorf("empty protected secret key")
			}
			sm.salt = append([]byte(nil), salt...)
			sm.sealed = append([]byte(nil), sealed...)
		default:
			return nil, errorf("unknown secret key usage %d", usage)
		}
		k.secret = sm
	}

	if !s.Empty() {
		return nil, errorf("trailing data in key packet")
	}
	return k, nil
}

// Signature types, numbered as in OpenPGP.
type sigType uint8

const (
	sigUserIDCert    sigType = 0x13
	sigSubkeyBinding sigType = 0x18
	sigDirectKey     sigType = 0x1f
)

func (s *signature) add(b *cryptobyte.Builder) {
	b.AddUint8(packetVersion)
	b.AddUint8(uint8(s.typ))
	b.AddUint32(uint32(s.created.Unix()))
	b.AddUint8(uint8(s.flags))
	b.AddUint32(s.lifetime)
	b.AddBytes(s.issuer[:])
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(s.sig)
	})
}

func parseSignature(p packet) (*signature, error) {
	s := p.body
	sig := &signature{}
	var version, typ, flags uint8
	var created uint32
	var issuer, value cryptobyte.String
	if !s.ReadUint8(&version) || !s.ReadUint8(&typ) || !s.ReadUint32(&created) ||
		!s.ReadUint8(&flags) || !s.ReadUint32(&sig.lifetime) ||
		!s.ReadBytes((*[]byte)(&issuer), len(sig.issuer)) ||
		!s.ReadUint16LengthPrefixed(&value) || !s.Empty() {
		return nil, errorf("malformed signature packet")
	}
	if version != packetVersion {
		return nil, errorf("unsupported signature packet version %d", version)
	}
	sig.typ = sigType(typ)
	sig.created = time.Unix(int64(created), 0).UTC()
	sig.flags = KeyFlags(flags)
	copy(sig.issuer[:], issuer)
	sig.sig = append([]byte(nil), value...)
	return sig, nil
}

// marshal serializes c. Secret material is only included if withSecrets is
// set, in which case keys that hold it are written as secret key packets.
func (c *Cert) marshal(withSecrets bool) []byte {
	b := cryptobyte.NewBuilder(nil)
	for i, k := range c.keys {
		tag := tagPublicSubkey
		if i == 0 {
			tag = tagPublicKey
		}
		secret := withSecrets && k.secret != nil
		if secret {
			tag = tagSecretSubkey
			if i == 0 {
				tag = tagSecretKey
			}
		}
		addPacket(b, tag, func(b *cryptobyte.Builder) {
			k.addPublicFields(b)
			if secret {
				k.addSecretFields(b)
			}
		})
		if k.sig != nil {
			addPacket(b, tagSignature, k.sig.add)
		}
		if i == 0 {
			for _, u := range c.userIDs {
				addPacket(b, tagUserID, func(b *cryptobyte.Builder) {
					b.AddBytes([]byte(u.label))
				})
				if u.sig != nil {
					addPacket(b, tagSignature, u.sig.add)
				}
			}
		}
	}
	return b.BytesOrPanic()
}

// parseCert builds a certificate from a packet sequence, keeping any secret
// material found if keepSecrets is set.
func parseCert(data []byte, keepSecrets bool) (*Cert, error) {
	packets, err := readPackets(data)
	if err != nil {
		return nil, err
	}
	if t := packets[0].tag; t != tagPublicKey && t != tagSecretKey {
		return nil, errorf("certificate does not start with a primary key")
	}

	c := &Cert{}
	// attach receives the signature following a component.
	var attach func(*signature) error
	sigOnce := func(dst **signature) func(*signature) error {
		return func(s *signature) error {
			if *dst != nil {
				return errorf("unexpected second signature")
			}
			*dst = s
			return nil
		}
	}
	for i, p := range packets {
		switch p.tag {
		case tagPublicKey, tagSecretKey:
			if i != 0 {
				return nil, errorf("unexpected primary key packet")
			}
			k, err := parseKey(p, true, keepSecrets)
			if err != nil {
				return nil, err
			}
			c.keys = append(c.keys, k)
			attach = sigOnce(&k.sig)
		case tagPublicSubkey, tagSecretSubkey:
			k, err := parseKey(p, false, keepSecrets)
			if err != nil {
				return nil, err
			}
			c.keys = append(c.keys, k)
			attach = sigOnce(&k.sig)
		case tagUserID:
			if len(c.keys) != 1 {
				return nil, errorf("user ID after subkey")
			}
			if len(p.body) == 0 {
				return nil, errorf("empty user ID")
			}
			u := &UserID{label: string(p.body)}
			c.userIDs = append(c.userIDs, u)
			attach = sigOnce(&u.sig)
		case tagSignature:
			sig, err := parseSignature(p)
			if err != nil {
				return nil, err
			}
			if err := attach(sig); err != nil {
				return nil, err
			}
		default:
			return nil, errorf("unknown packet tag %d", p.tag)
		}
	}
	return c, nil
}
