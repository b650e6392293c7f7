//go:build windows
// +build windows

package asr

import "os/exec"

// configureSysProcAttr is a no-op on Windows; group kill falls back to
// killing the single process in proc_kill_windows.go.
func configureSysProcAttr(cmd *exec.Cmd) {}
