// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"path/filepath"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
)

func TestMain(m *testing.M) {
	testscript.Main(m, map[string]func(){
		"palcrypt": main,
	})
}

func TestScript(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: "testdata",
		Setup: func(e *testscript.Env) error {
			e.Setenv("PALCRYPT_SCRYPT_LOGN", "10")
			e.Setenv("PALCRYPT_KEYRING_BACKEND", "file")
			e.Setenv("PALCRYPT_KEYRING_DIR", filepath.Join(e.WorkDir, "keyring"))
			e.Setenv("PALCRYPT_KEYRING_PASSWORD", "keyring password")
			return nil
		},
	})
}
