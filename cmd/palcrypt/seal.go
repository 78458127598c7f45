// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"errors"

	"github.com/palform/palcrypt"
	"github.com/palform/palcrypt/internal/config"
)

type encryptCmd struct {
	Recipients []string `short:"r" name:"recipient" required:"" type:"existingfile" help:"A public key file to seal to. Can be repeated."`
	Output     string   `short:"o" type:"path" help:"Write the sealed payload to this file instead of standard output."`
	File       string   `arg:"" optional:"" help:"The payload. Defaults to standard input."`
}

func (cmd *encryptCmd) Run(_ *config.Config) error {
	var pems []string
	for _, path := range cmd.Recipients {
		pem, err := readString(path)
		if err != nil {
			return err
		}
		pems = append(pems, pem)
	}
	in, err := readInput(cmd.File)
	if err != nil {
		return err
	}
	sealed, err := palcrypt.EncryptPEM(in, pems...)
	if err != nil {
		return err
	}
	return writeOutput(cmd.Output, sealed, false)
}

type decryptCmd struct {
	Keys       []string `short:"k" name:"key" type:"existingfile" xor:"source" help:"A private key file to try. Can be repeated."`
	Keyring    bool     `xor:"source" help:"Use the keys stored in the OS keyring."`
	Submission bool     `help:"Decode the payload as a form submission and print it as JSON."`
	Output     string   `short:"o" type:"path" help:"Write the payload to this file instead of standard output."`
	File       string   `arg:"" optional:"" help:"The sealed payload. Defaults to standard input."`
}

func (cmd *decryptCmd) resolver(cfg *config.Config) (palcrypt.KeyResolver, error) {
	if cmd.Keyring {
		return openKeystore(cfg)
	}
	if len(cmd.Keys) == 0 {
		return nil, errors.New("missing private key, use --key or --keyring")
	}
	var pems []string
	for _, path := range cmd.Keys {
		pem, err := readString(path)
		if err != nil {
			return nil, err
		}
		pems = append(pems, pem)
	}
	return palcrypt.ResolverFromPEM(pems...)
}

func (cmd *decryptCmd) Run(cfg *config.Config) error {
	resolver, err := cmd.resolver(cfg)
	if err != nil {
		return err
	}
	in, err := readInput(cmd.File)
	if err != nil {
		return err
	}
	if !cmd.Submission {
		out, err := palcrypt.DecryptBytes(in, resolver)
		if err != nil {
			return err
		}
		return writeOutput(cmd.Output, out, false)
	}
	s, err := palcrypt.DecryptSubmission(in, resolver)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return writeOutput(cmd.Output, append(out, '\n'), false)
}
