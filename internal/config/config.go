// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the settings of the palcrypt command from the
// environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/99designs/keyring"
	"github.com/joho/godotenv"
	"github.com/palform/palcrypt/cert"
)

// Environment variables read by Load.
const (
	EnvKeyringBackend  = "PALCRYPT_KEYRING_BACKEND"
	EnvKeyringDir      = "PALCRYPT_KEYRING_DIR"
	EnvKeyringPassword = "PALCRYPT_KEYRING_PASSWORD"
	EnvScryptLogN      = "PALCRYPT_SCRYPT_LOGN"
	EnvPassphrase      = "PALCRYPT_PASSPHRASE"
)

// ServiceName is the keyring service that stores palcrypt keys.
const ServiceName = "palcrypt"

type Config struct {
	// KeyringBackend restricts the keyring to one backend, such as "file"
	// or "secret-service". Empty means any available backend.
	KeyringBackend string
	// KeyringDir is the directory of the file backend.
	KeyringDir string
	// KeyringPassword unlocks the file backend without prompting.
	KeyringPassword string
	// ScryptLogN is the work factor for backups. Zero means the default.
	ScryptLogN int
	// Passphrase is used for backup and restore without prompting.
	Passphrase string
}

// Load reads files, or .env in the working directory if none are given,
// into the environment and then builds a Config from it. Variables that are
// already set take precedence over the files. A missing default .env file
// is not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		if len(files) != 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading environment file: %w", err)
		}
	}

	c := &Config{
		KeyringBackend:  os.Getenv(EnvKeyringBackend),
		KeyringDir:      os.Getenv(EnvKeyringDir),
		KeyringPassword: os.Getenv(EnvKeyringPassword),
		Passphrase:      os.Getenv(EnvPassphrase),
	}
	if v := os.Getenv(EnvScryptLogN); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > cert.MaxLogN {
			return nil, fmt.Errorf("%s must be an integer between 1 and %d, got %q", EnvScryptLogN, cert.MaxLogN, v)
		}
		c.ScryptLogN = n
	}
	return c, nil
}

// Keyring returns the keyring configuration. prompt is used to ask for the
// file backend password when KeyringPassword is not set.
func (c *Config) Keyring(prompt keyring.PromptFunc) keyring.Config {
	kc := keyring.Config{
		ServiceName:              ServiceName,
		FileDir:                  c.KeyringDir,
		FilePasswordFunc:         prompt,
		KeychainTrustApplication: true,
		LibSecretCollectionName:  ServiceName,
		KWalletAppID:             ServiceName,
		KWalletFolder:            ServiceName,
		PassPrefix:               ServiceName,
		WinCredPrefix:            ServiceName,
	}
	if kc.FileDir == "" {
		kc.FileDir = "~/.palcrypt/keyring"
	}
	if c.KeyringPassword != "" {
		kc.FilePasswordFunc = keyring.FixedStringPrompt(c.KeyringPassword)
	}
	if c.KeyringBackend != "" {
		kc.AllowedBackends = []keyring.BackendType{keyring.BackendType(c.KeyringBackend)}
	}
	return kc
}
