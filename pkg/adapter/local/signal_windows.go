// SPDX-License-Identifier: MPL-2.0

//go:build windows

package local

import (
	"os"
	"os/exec"
)

// signalName is always empty on Windows: there is no POSIX signal concept,
// processes are terminated outright.
func signalName(*exec.ExitError) string {
	return ""
}

// terminateSignalName names what sendTerminate does on this platform: there
// is no POSIX-style graceful signal on Windows, so it kills immediately.
const terminateSignalName = "KILL"

// sendTerminate has no graceful equivalent on Windows; it kills directly.
func sendTerminate(p *os.Process) error {
	return p.Kill()
}
