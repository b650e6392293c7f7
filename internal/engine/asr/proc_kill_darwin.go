//go:build darwin
// +build darwin

package asr

import (
	"os"
	"syscall"
)

func killProcessGroup(p *os.Process, sig syscall.Signal) error {
	return syscall.Kill(-p.Pid, sig)
}
