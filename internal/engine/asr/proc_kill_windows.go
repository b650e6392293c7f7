//go:build windows
// +build windows

package asr

import (
	"os"
	"syscall"
)

// killProcessGroup has no process-group concept on Windows; it kills the
// single tracked process directly. configureSysProcAttr is a no-op on this
// platform (sysproc_windows.go), so there is no group to target anyway.
func killProcessGroup(p *os.Process, sig syscall.Signal) error {
	return p.Kill()
}
