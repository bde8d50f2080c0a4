//go:build !linux && !windows

package relay

import "syscall"

// sysProcAttr puts the relay in its own process group.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}
