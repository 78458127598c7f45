// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/palform/palcrypt/backup"
	"github.com/palform/palcrypt/internal/config"
	"github.com/palform/palcrypt/internal/logger"
	"github.com/palform/palcrypt/internal/term"
)

// passphrase returns the backup passphrase from the environment, or asks for
// it on the terminal.
func passphrase(cfg *config.Config, confirm bool) (string, error) {
	if cfg.Passphrase != "" {
		return cfg.Passphrase, nil
	}
	p, err := term.ReadPassphrase("Enter backup passphrase:", confirm)
	if err != nil {
		return "", err
	}
	return string(p), nil
}

type backupCmd struct {
	File               string `arg:"" optional:"" help:"The private key. Defaults to standard input."`
	Output             string `short:"o" type:"path" help:"Write the protected key to this file instead of standard output."`
	GeneratePassphrase bool   `help:"Protect the key with a generated passphrase, printed to standard error."`
}

func (cmd *backupCmd) Run(cfg *config.Config) error {
	in, err := readString(cmd.File)
	if err != nil {
		return err
	}
	var pass string
	if cmd.GeneratePassphrase {
		pass, err = backup.GeneratePassphrase()
		if err != nil {
			return err
		}
		logger.Global.Printf("using passphrase %q", pass)
	} else {
		pass, err = passphrase(cfg, true)
		if err != nil {
			return err
		}
	}
	o := &backup.Options{LogN: cfg.ScryptLogN}
	out, err := o.EncryptForBackup(in, pass)
	if err != nil {
		return err
	}
	return writeOutput(cmd.Output, []byte(out), true)
}

type restoreCmd struct {
	File   string `arg:"" optional:"" help:"The protected private key. Defaults to standard input."`
	Output string `short:"o" type:"path" help:"Write the restored key to this file instead of standard output."`
}

func (cmd *restoreCmd) Run(cfg *config.Config) error {
	in, err := readString(cmd.File)
	if err != nil {
		return err
	}
	pass, err := passphrase(cfg, false)
	if err != nil {
		return err
	}
	r, err := backup.DecryptBackedUpKey(in, pass)
	if err != nil {
		return err
	}
	logger.Global.Printf("restored key %s", r.Fingerprint)
	return writeOutput(cmd.Output, []byte(r.DecryptedPrivatePEM), true)
}

type passphraseCmd struct{}

func (passphraseCmd) Run() error {
	p, err := backup.GeneratePassphrase()
	if err != nil {
		return err
	}
	fmt.Println(p)
	return nil
}
