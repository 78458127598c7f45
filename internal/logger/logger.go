// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logger prints the diagnostics of the palcrypt command to standard
// error. Library packages never log.
//
// Fatal errors are matched against registered hints, so the command can
// explain the common failure modes without each subcommand knowing them.
package logger

import (
	"errors"
	"io"
	"log"
	"os"
)

// A Hint explains a class of errors. Match reports whether err belongs to
// the class, and Text returns the lines printed after the error.
type Hint struct {
	Match func(err error) bool
	Text  func(err error) []string
}

// Is returns a Hint matching errors that wrap target.
func Is(target error, text ...string) Hint {
	return Hint{
		Match: func(err error) bool { return errors.Is(err, target) },
		Text:  func(error) []string { return text },
	}
}

// As returns a Hint matching errors that wrap an E, whose text is computed
// from the wrapped value.
func As[E error](text func(E) []string) Hint {
	return Hint{
		Match: func(err error) bool {
			var e E
			return errors.As(err, &e)
		},
		Text: func(err error) []string {
			var e E
			errors.As(err, &e)
			return text(e)
		},
	}
}

type Logger struct {
	ll    *log.Logger
	hints []Hint

	// Quiet suppresses Printf output. Warnings and errors are always printed.
	Quiet bool

	// If TestOnlyPanicInsteadOfExit is true, exit will set testOnlyDidExit and
	// panic instead of calling os.Exit. This way, the wrapper in TestMain can
	// recover the panic and return the exit code only if it was originated in exit.
	TestOnlyPanicInsteadOfExit bool
	TestOnlyDidExit            bool
}

var Global = New(os.Stderr, "palcrypt")

// New returns a Logger writing lines prefixed with "name: " to w.
func New(w io.Writer, name string) *Logger {
	return &Logger{ll: log.New(w, name+": ", log.Lmsgprefix)}
}

// AddHint registers hints for Fatal. Earlier hints take precedence.
func (l *Logger) AddHint(hints ...Hint) {
	l.hints = append(l.hints, hints...)
}

func (l *Logger) Exit(code int) {
	if l.TestOnlyPanicInsteadOfExit {
		l.TestOnlyDidExit = true
		panic(code)
	}
	os.Exit(code)
}

func (l *Logger) Printf(format string, v ...any) {
	if l.Quiet {
		return
	}
	l.ll.Printf(format, v...)
}

func (l *Logger) Warningf(format string, v ...any) {
	l.ll.Printf("warning: "+format, v...)
}

func (l *Logger) Errorf(format string, v ...any) {
	l.ll.Printf("error: "+format, v...)
	l.Exit(1)
}

func (l *Logger) ErrorWithHint(error string, hints ...string) {
	l.ll.Printf("error: %s", error)
	for _, hint := range hints {
		l.ll.Printf("hint: %s", hint)
	}
	l.Exit(1)
}

// Fatal prints err with the text of the first matching hint, and exits.
func (l *Logger) Fatal(err error) {
	for _, h := range l.hints {
		if h.Match(err) {
			l.ErrorWithHint(err.Error(), h.Text(err)...)
			return
		}
	}
	l.Errorf("%v", err)
}
