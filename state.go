package relay

import (
	"sync"
	"sync/atomic"
	"time"
)

type liveness int32

const (
	stateLive liveness = iota
	stateExiting
	stateGone
)

func (l liveness) String() string {
	switch l {
	case stateLive:
		return "live"
	case stateExiting:
		return "exiting"
	default:
		return "gone"
	}
}

// Handle is a confirmed relay instance. Only its liveness changes after creation.
type Handle struct {
	PID       int
	Port      int
	Dir       string
	StartedAt time.Time

	state atomic.Int32
	proc  *Process
}

func newHandle(p *Process, port int, dir string) *Handle {
	return &Handle{
		PID:       p.PID(),
		Port:      port,
		Dir:       dir,
		StartedAt: p.StartedAt(),
		proc:      p,
	}
}

// Live reports whether the relay is confirmed and not being torn down.
func (h *Handle) Live() bool { return liveness(h.state.Load()) == stateLive }

func (h *Handle) liveness() liveness { return liveness(h.state.Load()) }

// beginExit moves live -> exiting. It returns false if the handle was not live.
func (h *Handle) beginExit() bool {
	return h.state.CompareAndSwap(int32(stateLive), int32(stateExiting))
}

// exitUnexpectedly moves live -> gone, returning false if a stop was already
// in progress.
func (h *Handle) exitUnexpectedly() bool {
	return h.state.CompareAndSwap(int32(stateLive), int32(stateGone))
}

// markGone returns true if this call performed the transition.
func (h *Handle) markGone() bool {
	for {
		cur := h.state.Load()
		if liveness(cur) == stateGone {
			return false
		}
		if h.state.CompareAndSwap(cur, int32(stateGone)) {
			return true
		}
	}
}

// State records the single relay a Manager may have running.
type State struct {
	mu     sync.Mutex
	handle *Handle
}

// Current returns the recorded handle, or nil.
func (s *State) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Set records h as the running relay.
func (s *State) Set(h *Handle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
	runningGauge.Set(1)
}

// Clear forgets the running relay.
func (s *State) Clear() {
	s.mu.Lock()
	s.handle = nil
	s.mu.Unlock()
	runningGauge.Set(0)
}

// ClearIf forgets h only if it is still the recorded handle.
func (s *State) ClearIf(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != h {
		return false
	}
	s.handle = nil
	runningGauge.Set(0)
	return true
}
