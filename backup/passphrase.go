// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backup

import (
	"crypto/rand"
	_ "embed"
	mathrand "math/rand/v2"
	"slices"
	"strings"
	"sync"
)

// PassphraseWords is the number of words in a generated passphrase.
const PassphraseWords = 16

//go:embed words.txt
var wordsFile string

var wordList = sync.OnceValue(func() []string {
	return strings.Fields(wordsFile)
})

// Words returns a copy of the word list passphrases are drawn from.
func Words() []string { return slices.Clone(wordList()) }

// GeneratePassphrase returns PassphraseWords words chosen uniformly at
// random, with replacement, from Words, separated by single spaces.
func GeneratePassphrase() (string, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return "", err
	}
	rng := mathrand.New(mathrand.NewChaCha8(seed))
	words := wordList()
	out := make([]string, PassphraseWords)
	for i := range out {
		out[i] = words[rng.IntN(len(words))]
	}
	return strings.Join(out, " "), nil
}
