// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/palform/palcrypt/cert"
	"github.com/palform/palcrypt/internal/config"
	"github.com/palform/palcrypt/internal/logger"
	"github.com/palform/palcrypt/internal/term"
	"github.com/palform/palcrypt/keystore"
)

type keyringCmd struct {
	Import keyringImportCmd `cmd:"" help:"Store a private key in the keyring."`
	List   keyringListCmd   `cmd:"" help:"List the stored keys."`
	Remove keyringRemoveCmd `cmd:"" help:"Delete a stored key."`
}

func openKeystore(cfg *config.Config) (*keystore.Keystore, error) {
	prompt := func(p string) (string, error) {
		b, err := term.ReadSecret(p + ":")
		return string(b), err
	}
	s, err := keystore.Open(cfg.Keyring(prompt))
	if err != nil {
		return nil, err
	}
	s.Passphrase = func(fpr cert.Fingerprint) (string, error) {
		if cfg.Passphrase == "" {
			logger.Global.Printf("key %s is backup-protected", fpr)
		}
		return passphrase(cfg, false)
	}
	return s, nil
}

type keyringImportCmd struct {
	File string `arg:"" optional:"" help:"The private key. Defaults to standard input."`
}

func (cmd *keyringImportCmd) Run(cfg *config.Config) error {
	in, err := readString(cmd.File)
	if err != nil {
		return err
	}
	s, err := openKeystore(cfg)
	if err != nil {
		return err
	}
	e, err := s.Import(in)
	if err != nil {
		return err
	}
	logger.Global.Printf("imported key %s", e.Fingerprint)
	return nil
}

type keyringListCmd struct{}

func (keyringListCmd) Run(cfg *config.Config) error {
	s, err := openKeystore(cfg)
	if err != nil {
		return err
	}
	entries, err := s.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		flags := ""
		if e.Protected {
			flags = " (protected)"
		}
		fmt.Printf("%s %s expires %s%s\n", e.Fingerprint, strings.Join(e.UserIDs, ","),
			e.Expires.UTC().Format(time.DateOnly), flags)
	}
	return nil
}

type keyringRemoveCmd struct {
	Fingerprint string `arg:"" help:"The fingerprint of the key to delete."`
}

func (cmd *keyringRemoveCmd) Run(cfg *config.Config) error {
	fpr, err := cert.ParseFingerprint(cmd.Fingerprint)
	if err != nil {
		return err
	}
	s, err := openKeystore(cfg)
	if err != nil {
		return err
	}
	return s.Remove(fpr)
}
