// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command palcrypt manages Palform keys and seals and opens submissions.
package main

import (
	"fmt"
	"runtime/debug"

	"github.com/alecthomas/kong"
	"github.com/palform/palcrypt"
	"github.com/palform/palcrypt/armor"
	"github.com/palform/palcrypt/cert"
	"github.com/palform/palcrypt/internal/config"
	"github.com/palform/palcrypt/internal/logger"
	"github.com/palform/palcrypt/policy"
)

// Version can be set at link time to override debug.BuildInfo.Main.Version,
// which is "(devel)" when building from within the module.
var Version string

type cli struct {
	Env   string `help:"Read settings from this environment file instead of .env." type:"path" placeholder:"FILE"`
	Quiet bool   `short:"q" help:"Do not print informational messages."`

	Keygen     keygenCmd     `cmd:"" help:"Generate a new keypair for a Palform user."`
	Inspect    inspectCmd    `cmd:"" help:"Describe a public or private key."`
	Strip      stripCmd      `cmd:"" help:"Print the public key of a private key."`
	Encrypt    encryptCmd    `cmd:"" help:"Seal a payload to one or more public keys."`
	Decrypt    decryptCmd    `cmd:"" help:"Open a sealed payload."`
	Backup     backupCmd     `cmd:"" help:"Protect a private key with a passphrase."`
	Restore    restoreCmd    `cmd:"" help:"Remove the passphrase protection of a private key."`
	Passphrase passphraseCmd `cmd:"" help:"Generate a random backup passphrase."`
	Keyring    keyringCmd    `cmd:"" help:"Manage private keys stored in the OS keyring."`
	Version    versionCmd    `cmd:"" help:"Print the version."`
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("palcrypt"),
		kong.Description("End-to-end encryption for Palform form submissions."),
		kong.UsageOnError(),
		kong.Exit(logger.Global.Exit),
	)
	logger.Global.Quiet = c.Quiet
	logger.Global.AddHint(hints...)

	var files []string
	if c.Env != "" {
		files = append(files, c.Env)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		logger.Global.Errorf("%v", err)
	}

	if err := ctx.Run(cfg); err != nil {
		logger.Global.Fatal(err)
	}
}

var hints = []logger.Hint{
	logger.As(func(e *palcrypt.NoMatchingKeyError) []string {
		text := []string{"the payload is sealed to key IDs:"}
		for _, id := range e.KeyIDs {
			text = append(text, "    "+id.String())
		}
		return text
	}),
	logger.Is(palcrypt.ErrDecryption,
		"the payload may be corrupted, or the key may have expired"),
	logger.Is(cert.ErrIncorrectPassphrase),
	logger.Is(cert.ErrNonExpiringEncryptionKey,
		"Palform keys must expire, generate a new key with --validity"),
	logger.Is(cert.ErrKeyLocked,
		"run \"palcrypt restore\" first, or set "+config.EnvPassphrase),
	logger.Is(policy.ErrRejected,
		"run \"palcrypt inspect\" to see why the key is not valid"),
	logger.As(func(*cert.PolicyError) []string {
		return []string{"run \"palcrypt inspect\" to see why the key is not valid"}
	}),
	logger.As(func(*armor.Error) []string {
		return []string{"the input does not look like a palcrypt file"}
	}),
	logger.As(func(*palcrypt.SubmissionError) []string {
		return []string{"the payload decrypted, use decrypt without --submission to see it"}
	}),
}

type versionCmd struct{}

func (versionCmd) Run() error {
	if Version != "" {
		fmt.Println(Version)
		return nil
	}
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		fmt.Println(buildInfo.Main.Version)
		return nil
	}
	fmt.Println("(unknown)")
	return nil
}
