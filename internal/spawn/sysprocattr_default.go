//go:build !windows

package spawn

import "syscall"

// buildSysProcAttr detaches the owner subprocess into its own session so it
// outlives the foreground client that spawned it and ignores the
// controlling terminal's SIGINT/SIGHUP.
func buildSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid: true,
	}
}
