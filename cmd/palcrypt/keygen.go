// Copyright 2025 The palcrypt Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/palform/palcrypt/cert"
	"github.com/palform/palcrypt/internal/config"
	"github.com/palform/palcrypt/internal/inspect"
	"github.com/palform/palcrypt/internal/logger"
	"github.com/palform/palcrypt/policy"
)

type keygenCmd struct {
	Org       string        `required:"" help:"The organisation ID."`
	User      string        `required:"" help:"The user ID."`
	Validity  time.Duration `default:"8760h" help:"How long the key is valid for. Zero means the longest possible validity."`
	Suite     string        `default:"Cv25519" enum:"Cv25519,Cv25519MLKEM768" help:"The cipher suite (${enum})."`
	Created   time.Time     `help:"Backdate the key to this creation time (RFC 3339)."`
	Output    string        `short:"o" type:"path" help:"Write the private key to this file instead of standard output."`
	PublicOut string        `type:"path" help:"Also write the public key to this file."`
	JSON      bool          `name:"json" help:"Print the keypair as a JSON object."`
}

func (cmd *keygenCmd) Run(_ *config.Config) error {
	suite, err := policy.ParseCipherSuite(cmd.Suite)
	if err != nil {
		return err
	}
	p := policy.Standard().WithCipherSuite(suite)
	if !cmd.Created.IsZero() {
		p = p.At(cmd.Created)
	}
	kp, err := cert.GenerateWithPolicy(p, cmd.Org, cmd.User, cmd.Validity)
	if err != nil {
		return err
	}
	if cmd.Validity == 0 {
		logger.Global.Warningf("the key is valid for %v", cert.MaxValidity.Round(24*time.Hour))
	}

	if cmd.JSON {
		out, err := json.MarshalIndent(kp, "", "  ")
		if err != nil {
			return err
		}
		return writeOutput(cmd.Output, append(out, '\n'), true)
	}

	if err := writeOutput(cmd.Output, []byte(kp.PrivateKey), true); err != nil {
		return err
	}
	if cmd.PublicOut != "" {
		if err := writeOutput(cmd.PublicOut, []byte(kp.PublicKey), false); err != nil {
			return err
		}
	}
	if cmd.Output != "" && cmd.Output != "-" {
		fmt.Fprintf(os.Stderr, "Fingerprint: %s\n", kp.KeyID)
	}
	return nil
}

type inspectCmd struct {
	File string    `arg:"" optional:"" help:"The key or sealed message to inspect. Defaults to standard input."`
	At   time.Time `help:"Evaluate the key at this time (RFC 3339) instead of now."`
	JSON bool      `name:"json" help:"Print the metadata as a JSON object."`
}

func (cmd *inspectCmd) Run(_ *config.Config) error {
	data, err := readInput(cmd.File)
	if err != nil {
		return err
	}
	if inspect.IsMessage(data) {
		return cmd.message(data)
	}
	in := string(data)
	p := policy.Standard()
	if !cmd.At.IsZero() {
		p = p.At(cmd.At)
	}
	md, mdErr := cert.GetMetadataWithPolicy(in, p)
	if cmd.JSON {
		if mdErr != nil {
			return mdErr
		}
		out, err := json.MarshalIndent(md, "", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", out)
		return nil
	}

	c, err := cert.ParseSecretOrPublic(in)
	if err != nil {
		return err
	}

	// A key that is not valid at p still gets described, and the reason
	// is reported on the Valid line.
	fmt.Printf("Fingerprint: %s\n", c.Fingerprint())
	fmt.Printf("User IDs:    %s\n", strings.Join(c.UserIDs(), ", "))
	_, private := c.(*cert.SecretCert)
	fmt.Printf("Private:     %v\n", private)
	if mdErr == nil {
		fmt.Printf("Algorithm:   %s\n", md.Algo)
		fmt.Printf("Usable:      %v\n", md.HasSecret)
	}
	for _, k := range c.Keys() {
		exp := "never"
		if t, ok := k.Expiry(); ok {
			exp = t.UTC().Format(time.RFC3339)
		}
		fmt.Printf("Key:         %s %s [%s] expires %s\n", k.KeyID(), k.Algorithm(), k.Flags(), exp)
	}
	if err := cert.ValidateWithPolicy(c, p); err != nil {
		fmt.Printf("Valid:       no (%v)\n", err)
	} else {
		fmt.Printf("Valid:       yes\n")
	}
	return nil
}

type stripCmd struct {
	File   string `arg:"" optional:"" help:"The private key. Defaults to standard input."`
	Output string `short:"o" type:"path" help:"Write the public key to this file instead of standard output."`
}

func (cmd *stripCmd) Run(_ *config.Config) error {
	in, err := readString(cmd.File)
	if err != nil {
		return err
	}
	pub, err := cert.StripSecret(in)
	if err != nil {
		return err
	}
	return writeOutput(cmd.Output, []byte(pub), false)
}

func (cmd *inspectCmd) message(sealed []byte) error {
	data, err := inspect.Inspect(sealed)
	if err != nil {
		return fmt.Errorf("inspection failed: %w", err)
	}
	if cmd.JSON {
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", out)
		return nil
	}

	name := cmd.File
	if name == "" || name == "-" {
		name = "<stdin>"
	}
	fmt.Printf("%s is a sealed message, version %q.\n", name, data.Version)
	fmt.Printf("\n")
	if data.Armor {
		fmt.Printf("This message is ASCII-armored.\n")
		fmt.Printf("\n")
	}
	fmt.Printf("This message is sealed to the following keys:\n")
	for _, r := range data.Recipients {
		fmt.Printf("  - %s %s\n", r.Type, r.KeyID)
	}
	fmt.Printf("\n")
	switch data.Postquantum {
	case "yes":
		fmt.Printf("This message uses post-quantum encryption.\n")
		fmt.Printf("\n")
	case "no":
		fmt.Printf("This message does NOT use post-quantum encryption.\n")
		fmt.Printf("\n")
	}
	fmt.Printf("Size breakdown (assuming it decrypts successfully):\n")
	fmt.Printf("\n")
	fmt.Printf("    Header              % 12d bytes\n", data.Sizes.Header)
	if data.Armor {
		fmt.Printf("    Armor overhead      % 12d bytes\n", data.Sizes.Armor)
	}
	fmt.Printf("    Encryption overhead % 12d bytes\n", data.Sizes.Overhead)
	fmt.Printf("    Payload             % 12d bytes\n", data.Sizes.Payload)
	fmt.Printf("                        -------------------\n")
	total := data.Sizes.Header + data.Sizes.Overhead + data.Sizes.Payload + data.Sizes.Armor
	fmt.Printf("    Total               % 12d bytes\n", total)
	return nil
}
