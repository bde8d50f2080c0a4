package relay

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultStartupTimeout = 5 * time.Second
	pipeDrainDelay        = 500 * time.Millisecond
	maxLineBytes          = 64 * 1024
	redacted              = "[REDACTED]"
)

// Process is a launched relay child.
type Process struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	done      chan struct{}
	exitErr   error
}

// PID returns the operating-system process id.
func (p *Process) PID() int { return p.pid }

// StartedAt returns the spawn time.
func (p *Process) StartedAt() time.Time { return p.startedAt }

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitErr returns the result of Wait. Only meaningful after Done is closed.
func (p *Process) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

// Exited reports whether the process has been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Process) wait() {
	p.exitErr = p.cmd.Wait()
	close(p.done)
}

// waitDone waits up to d for the exit event.
func (p *Process) waitDone(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.done:
		return true
	case <-t.C:
		return false
	}
}

func describeExit(err error) string {
	if err == nil {
		return "exit status 0"
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Error()
	}
	return err.Error()
}

type eventKind int

const (
	eventListening eventKind = iota + 1
	eventFatal
)

type startEvent struct {
	kind eventKind
	msg  string
}

// Supervisor launches relay programs and confirms they came up.
type Supervisor struct {
	StartupTimeout time.Duration

	logger  *slog.Logger
	stopper *Coordinator
}

// NewSupervisor returns a Supervisor that uses stopper to reclaim
// half-started processes.
func NewSupervisor(logger *slog.Logger, stopper *Coordinator) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if stopper == nil {
		stopper = NewCoordinator(logger)
	}
	return &Supervisor{
		StartupTimeout: defaultStartupTimeout,
		logger:         logger,
		stopper:        stopper,
	}
}

// Start spawns interpreterPath with scriptPath as its only argument and blocks
// until the relay prints ListeningMarker, prints FatalMarker, exits, or the
// startup timeout elapses. secret is only used to redact the child's output.
func (s *Supervisor) Start(scriptPath, interpreterPath, secret string) (*Process, error) {
	timeout := s.StartupTimeout
	if timeout <= 0 {
		timeout = defaultStartupTimeout
	}
	redact := redactor(secret)
	events := make(chan startEvent, 1)
	emit := func(ev startEvent) {
		select {
		case events <- ev:
		default:
		}
	}
	onLine := func(stream, line string) {
		s.logger.Debug("relay output", slog.String("stream", stream), slog.String("line", redact(line)))
		if strings.Contains(line, ListeningMarker) {
			emit(startEvent{kind: eventListening})
		} else if i := strings.Index(line, FatalMarker); i >= 0 {
			emit(startEvent{kind: eventFatal, msg: redact(strings.TrimSpace(line[i+len(FatalMarker):]))})
		}
	}

	cmd := exec.Command(interpreterPath, scriptPath)
	cmd.Dir = filepath.Dir(scriptPath)
	cmd.Stdout = &lineWriter{stream: "stdout", onLine: onLine}
	cmd.Stderr = &lineWriter{stream: "stderr", onLine: onLine}
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = pipeDrainDelay
	if err := startUnlocked(cmd); err != nil {
		return nil, fmt.Errorf("spawn relay: %w", err)
	}
	p := &Process{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go p.wait()
	log := s.logger.With(slog.Int("pid", p.pid))
	log.Info("Relay process spawned", slog.String("interpreter", interpreterPath), slog.String("script", scriptPath))

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-events:
		if ev.kind == eventListening {
			log.Info("Relay confirmed listening", slog.Duration("after", time.Since(p.startedAt)))
			return p, nil
		}
		log.Error("Relay reported fatal startup error", slog.String("msg", ev.msg))
		s.stopper.Stop(p)
		return nil, &StartupFailureError{Message: ev.msg}
	case <-p.Done():
		// Output is fully drained before Done closes, so a fatal marker printed
		// right before exiting is already queued.
		select {
		case ev := <-events:
			if ev.kind == eventFatal {
				log.Error("Relay reported fatal startup error", slog.String("msg", ev.msg))
				return nil, &StartupFailureError{Message: ev.msg}
			}
		default:
		}
		desc := describeExit(p.ExitErr())
		log.Error("Relay exited before confirming startup", slog.String("exit", desc))
		return nil, fmt.Errorf("%w: %s", ErrExitedBeforeReady, desc)
	case <-timer.C:
		log.Error("Relay startup timed out; stopping it", slog.Duration("timeout", timeout))
		s.stopper.Stop(p)
		return nil, fmt.Errorf("%w (%s)", ErrStartupTimeout, timeout)
	}
}

// startUnlocked forks from a fresh goroutine. A caller locked to an OS
// thread may let that thread exit later, and the parent-death signal is tied
// to the forking thread, not the process.
func startUnlocked(cmd *exec.Cmd) error {
	errc := make(chan error, 1)
	go func() { errc <- cmd.Start() }()
	return <-errc
}

func redactor(secret string) func(string) string {
	if secret == "" {
		return func(s string) string { return s }
	}
	return func(s string) string { return strings.ReplaceAll(s, secret, redacted) }
}

// lineWriter splits a child's output stream into lines.
type lineWriter struct {
	mu     sync.Mutex
	buf    []byte
	stream string
	onLine func(stream, line string)
}

func (w *lineWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf[:i]), "\r")
		w.buf = w.buf[i+1:]
		w.onLine(w.stream, line)
	}
	if len(w.buf) > maxLineBytes {
		w.onLine(w.stream, string(w.buf))
		w.buf = nil
	}
	return len(b), nil
}
