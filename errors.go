package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrExecutableNotFound is returned when no Node.js interpreter can be located.
	ErrExecutableNotFound = errors.New("node.js runtime not found; please install it (https://nodejs.org) and ensure it is reachable on PATH")
	// ErrStartupTimeout is returned when the relay never reports that it is listening.
	ErrStartupTimeout = errors.New("relay did not confirm startup in time")
	// ErrExitedBeforeReady is returned when the relay process exits before confirming startup.
	ErrExitedBeforeReady = errors.New("relay exited before confirming startup")
	// ErrNotRunning is returned by BaseURL when no relay is confirmed live.
	ErrNotRunning = errors.New("relay is not running")
	// ErrInvalidPort is returned for ports outside 1..65535.
	ErrInvalidPort = errors.New("invalid relay port")
)

// StartupFailureError carries the message the relay printed alongside its fatal marker.
type StartupFailureError struct {
	Message string
}

func (e *StartupFailureError) Error() string {
	if e.Message == "" {
		return "relay reported a fatal startup error"
	}
	return fmt.Sprintf("relay reported a fatal startup error: %s", e.Message)
}
