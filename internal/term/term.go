// Copyright 2021 The age Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package term reads passphrases from the controlling terminal.
package term

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/term"
)

// enableVirtualTerminalProcessing is set on Windows, where escape codes need
// to be enabled on the console before clearLine can use them.
var enableVirtualTerminalProcessing func(out *os.File) error

// clearLine clears the current line on the terminal, or opens a new line if
// terminal escape codes don't work.
func clearLine(out io.Writer) {
	const (
		CUI = "\033["   // Control Sequence Introducer
		CPL = CUI + "F" // Cursor Previous Line
		EL  = CUI + "K" // Erase in Line
	)

	// First, open a new line, which is guaranteed to work everywhere. Then, try
	// to erase the line above with escape codes.
	//
	// (We use CRLF instead of LF to work around an apparent bug in WSL2's
	// handling of CONOUT$.)
	fmt.Fprintf(out, "\r\n"+CPL+EL)
}

// WithTerminal runs f with the terminal input and output files, if available.
func WithTerminal(f func(in, out *os.File) error) error {
	if runtime.GOOS == "windows" {
		in, err := os.OpenFile("CONIN$", os.O_RDWR, 0)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile("CONOUT$", os.O_WRONLY, 0)
		if err != nil {
			return err
		}
		defer out.Close()
		if enableVirtualTerminalProcessing != nil {
			// Best effort, clearLine degrades to a newline.
			_ = enableVirtualTerminalProcessing(out)
		}
		return f(in, out)
	} else if tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0); err == nil {
		defer tty.Close()
		return f(tty, tty)
	} else if IsTerminal(os.Stdin) {
		return f(os.Stdin, os.Stdin)
	} else {
		return fmt.Errorf("standard input is not a terminal, and /dev/tty is not available: %v", err)
	}
}

// ReadSecret reads a value from the terminal with no echo. The prompt is ephemeral.
func ReadSecret(prompt string) (s []byte, err error) {
	err = WithTerminal(func(in, out *os.File) error {
		fmt.Fprintf(out, "%s ", prompt)
		defer clearLine(out)
		s, err = term.ReadPassword(int(in.Fd()))
		return err
	})
	return
}

// ErrPassphraseMismatch is returned by ReadPassphrase when the confirmation
// does not match.
var ErrPassphraseMismatch = errors.New("passphrases didn't match")

// ReadPassphrase reads a non-empty passphrase from the terminal. If confirm
// is true, the passphrase is read a second time and must match.
func ReadPassphrase(prompt string, confirm bool) ([]byte, error) {
	pass, err := ReadSecret(prompt)
	if err != nil {
		return nil, fmt.Errorf("could not read passphrase: %v", err)
	}
	if len(pass) == 0 {
		return nil, errors.New("empty passphrase")
	}
	if !confirm {
		return pass, nil
	}
	again, err := ReadSecret("Confirm passphrase:")
	if err != nil {
		return nil, fmt.Errorf("could not read passphrase: %v", err)
	}
	if !bytes.Equal(pass, again) {
		return nil, ErrPassphraseMismatch
	}
	return pass, nil
}

func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
