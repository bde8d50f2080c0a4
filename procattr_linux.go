package relay

import "syscall"

// sysProcAttr puts the relay in its own process group. Pdeathsig makes the
// kernel send SIGTERM to the relay when the thread that forked it exits, so
// the fork must happen on a thread the runtime keeps alive (see startUnlocked).
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
