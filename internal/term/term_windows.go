// Copyright 2022 The age Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package term

import (
	"os"

	"golang.org/x/sys/windows"
)

func init() {
	// Consoles such as cmd.exe start without escape sequence support, which
	// clearLine needs.
	enableVirtualTerminalProcessing = func(out *os.File) error {
		h := windows.Handle(out.Fd())
		var mode uint32
		if err := windows.GetConsoleMode(h, &mode); err != nil {
			return err
		}
		mode |= windows.ENABLE_PROCESSED_OUTPUT | windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING
		return windows.SetConsoleMode(h, mode)
	}
}
