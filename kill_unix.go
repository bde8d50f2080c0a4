//go:build !windows

package relay

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

var errSignalUnsupported = errors.New("signal not supported")

func signalCooperative(p *os.Process) error {
	return p.Signal(unix.SIGTERM)
}

// killByID sends SIGKILL to the relay's process group and then to the pid
// itself, so helpers the relay spawned die with it.
func killByID(pid int) error {
	if pid <= 0 {
		return errors.New("no process id")
	}
	groupErr := unix.Kill(-pid, unix.SIGKILL)
	err := unix.Kill(pid, unix.SIGKILL)
	if err == unix.ESRCH && groupErr == nil {
		return nil
	}
	return err
}

// processExists reports whether pid is still present (zombies included).
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
