// Package relay launches and supervises a local HTTP relay process that
// forwards browser-restricted LLM API calls to a fixed upstream host.
//
// A Manager owns at most one relay at a time. StartRelay writes the relay
// program into a private working directory, runs it on the host's Node.js
// runtime and returns once the child reports it is listening; StopRelay tears
// it down through an escalating signal ladder.
package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultPort is used when StartRelay is called with port 0.
const DefaultPort = 51889

const uptimeInterval = 5 * time.Second

// ExecutableLocator resolves the interpreter the relay runs on.
type ExecutableLocator interface {
	Locate() (string, error)
}

// ScriptWriter persists the relay program and returns its path.
type ScriptWriter func(dir string, port int, secret string) (string, error)

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	Logger         *slog.Logger
	Locator        ExecutableLocator
	WriteScript    ScriptWriter
	Coordinator    *Coordinator
	StartupTimeout time.Duration
	WorkDirHint    string
	// OnUnexpectedExit is called from a background goroutine when a confirmed
	// relay exits without StopRelay having been called.
	OnUnexpectedExit func(Status)
}

// Status is a snapshot of the relay state.
type Status struct {
	Running   bool          `json:"running"`
	State     string        `json:"state"`
	PID       int           `json:"pid,omitempty"`
	Port      int           `json:"port,omitempty"`
	Dir       string        `json:"dir,omitempty"`
	StartedAt time.Time     `json:"startedAt,omitzero"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	ExitError string        `json:"exitError,omitempty"`
}

// Manager is the process-wide owner of the relay. Start and stop calls on one
// Manager are serialized.
type Manager struct {
	lifecycle sync.Mutex
	state     State

	hintMu sync.Mutex
	hint   string

	logger      *slog.Logger
	locator     ExecutableLocator
	writeScript ScriptWriter
	supervisor  *Supervisor
	stopper     *Coordinator
	onExit      func(Status)
}

// NewManager builds a Manager from opts.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stopper := opts.Coordinator
	if stopper == nil {
		stopper = NewCoordinator(logger)
	}
	locator := opts.Locator
	if locator == nil {
		locator = NewLocator(logger)
	}
	writeScript := opts.WriteScript
	if writeScript == nil {
		writeScript = WriteScript
	}
	sup := NewSupervisor(logger, stopper)
	if opts.StartupTimeout > 0 {
		sup.StartupTimeout = opts.StartupTimeout
	}
	return &Manager{
		hint:        opts.WorkDirHint,
		logger:      logger,
		locator:     locator,
		writeScript: writeScript,
		supervisor:  sup,
		stopper:     stopper,
		onExit:      opts.OnUnexpectedExit,
	}
}

// SetWorkingDirectoryHint biases where the relay script is written.
func (m *Manager) SetWorkingDirectoryHint(path string) {
	m.hintMu.Lock()
	m.hint = path
	m.hintMu.Unlock()
}

func (m *Manager) workingDirectoryHint() string {
	m.hintMu.Lock()
	defer m.hintMu.Unlock()
	return m.hint
}

// SetStartupTimeout changes the confirmation bound used by later starts.
func (m *Manager) SetStartupTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	m.lifecycle.Lock()
	m.supervisor.StartupTimeout = d
	m.lifecycle.Unlock()
}

// StartRelay launches a relay on port (DefaultPort when 0) and returns the
// bound port once the relay has confirmed it is listening. A live relay on
// the same port is reused; one on another port is stopped first.
func (m *Manager) StartRelay(secret string, port int) (int, error) {
	if port == 0 {
		port = DefaultPort
	}
	if port < 1 || port > 65535 {
		startCounter.WithLabelValues(resultError).Inc()
		return 0, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if h := m.state.Current(); h != nil {
		if h.Live() && h.Port == port {
			startCounter.WithLabelValues(resultReused).Inc()
			m.logger.Debug("Relay already running", slog.Int("port", port), slog.Int("pid", h.PID))
			return port, nil
		}
		m.logger.Info("Replacing running relay", slog.Int("from_port", h.Port), slog.Int("to_port", port))
		m.stopLocked(h)
	}

	dir := EnsureDir(m.logger, m.workingDirectoryHint())
	script, err := m.writeScript(dir, port, secret)
	if err != nil {
		startCounter.WithLabelValues(resultError).Inc()
		return 0, fmt.Errorf("prepare relay script: %w", err)
	}
	interpreter, err := m.locator.Locate()
	if err != nil {
		startCounter.WithLabelValues(resultNotFound).Inc()
		m.logger.Error("Relay runtime not found", slog.String("err", err.Error()))
		return 0, err
	}

	proc, err := m.supervisor.Start(script, interpreter, secret)
	if err != nil {
		startCounter.WithLabelValues(startResult(err)).Inc()
		return 0, err
	}
	h := newHandle(proc, port, dir)
	m.state.Set(h)
	startCounter.WithLabelValues(resultStarted).Inc()
	m.logger.Info("Relay started", slog.Int("port", port), slog.Int("pid", h.PID), slog.String("dir", dir))
	go m.watch(h)
	return port, nil
}

// StopRelay terminates the running relay, if any. It never fails and always
// leaves the Manager with no running relay.
func (m *Manager) StopRelay() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	h := m.state.Current()
	if h == nil {
		return
	}
	outcome := m.stopLocked(h)
	m.logger.Info("Relay stopped", slog.Int("port", h.Port), slog.String("outcome", outcome.String()))
}

func (m *Manager) stopLocked(h *Handle) Outcome {
	defer func() {
		h.markGone()
		m.state.ClearIf(h)
		uptimeGauge.Set(0)
	}()
	h.beginExit()
	return m.stopper.Stop(h.proc)
}

// BaseURL returns the relay's address, or ErrNotRunning while no relay is
// confirmed live.
func (m *Manager) BaseURL() (string, error) {
	h := m.state.Current()
	if h == nil || !h.Live() {
		return "", ErrNotRunning
	}
	return fmt.Sprintf("http://127.0.0.1:%d", h.Port), nil
}

// Status returns a snapshot of the current relay.
func (m *Manager) Status() Status {
	h := m.state.Current()
	if h == nil {
		return Status{State: stateGone.String()}
	}
	return statusOf(h)
}

func statusOf(h *Handle) Status {
	st := Status{
		Running:   h.Live(),
		State:     h.liveness().String(),
		PID:       h.PID,
		Port:      h.Port,
		Dir:       h.Dir,
		StartedAt: h.StartedAt,
		Uptime:    time.Since(h.StartedAt).Round(time.Second),
	}
	if err := h.proc.ExitErr(); err != nil {
		st.ExitError = err.Error()
	}
	return st
}

// watch keeps the uptime gauge current and clears the state when the relay
// exits on its own.
func (m *Manager) watch(h *Handle) {
	ticker := time.NewTicker(uptimeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if h.Live() {
				uptimeGauge.Set(time.Since(h.StartedAt).Seconds())
			}
		case <-h.proc.Done():
			if !h.exitUnexpectedly() {
				return
			}
			m.state.ClearIf(h)
			uptimeGauge.Set(0)
			unexpectedExitCounter.Inc()
			st := statusOf(h)
			m.logger.Warn("Relay exited unexpectedly",
				slog.Int("pid", h.PID), slog.Int("port", h.Port),
				slog.String("exit", describeExit(h.proc.ExitErr())))
			if m.onExit != nil {
				m.onExit(st)
			}
			return
		}
	}
}

func startResult(err error) string {
	var fatal *StartupFailureError
	switch {
	case errors.Is(err, ErrStartupTimeout):
		return resultTimeout
	case errors.Is(err, ErrExitedBeforeReady):
		return resultExited
	case errors.As(err, &fatal):
		return resultFatal
	default:
		return resultError
	}
}
