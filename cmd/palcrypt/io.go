// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// readInput reads the file at path, or standard input if path is empty or "-".
func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func readString(path string) (string, error) {
	b, err := readInput(path)
	return string(b), err
}

// writeOutput writes data to the file at path, or to standard output if path
// is empty or "-". Private keys are written with 0600 permissions and never
// overwrite an existing file.
func writeOutput(path string, data []byte, private bool) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	flags, perm := os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fs.FileMode(0644)
	if private {
		flags, perm = os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600
	}
	f, err := os.OpenFile(path, flags, perm)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("refusing to overwrite existing file %q", path)
	} else if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
