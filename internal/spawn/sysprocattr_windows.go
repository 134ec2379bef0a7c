//go:build windows

package spawn

import "syscall"

// buildSysProcAttr detaches the owner subprocess from the console so closing
// the foreground terminal does not signal it.
func buildSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | 0x00000008, // DETACHED_PROCESS
	}
}
