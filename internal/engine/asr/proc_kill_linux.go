//go:build linux
// +build linux

package asr

import (
	"os"
	"syscall"
)

// killProcessGroup sends sig to the entire process group on Linux.
func killProcessGroup(p *os.Process, sig syscall.Signal) error {
	return syscall.Kill(-p.Pid, sig)
}
