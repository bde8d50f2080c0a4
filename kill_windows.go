package relay

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

var errSignalUnsupported = errors.New("signal not supported")

// Windows has no cooperative termination signal for console-less children.
func signalCooperative(_ *os.Process) error {
	return errSignalUnsupported
}

func killByID(pid int) error {
	if pid <= 0 {
		return errors.New("no process id")
	}
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE|windows.SYNCHRONIZE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return windows.TerminateProcess(h, 1)
}

func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.SYNCHRONIZE, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)
	ev, err := windows.WaitForSingleObject(h, 0)
	return err == nil && ev == uint32(windows.WAIT_TIMEOUT)
}
