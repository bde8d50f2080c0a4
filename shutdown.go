package relay

import (
	"errors"
	"log/slog"
	"os"
	"time"
)

const (
	defaultCooperativeWait = 1500 * time.Millisecond
	defaultForcedWait      = 500 * time.Millisecond
	defaultOSKillWait      = 500 * time.Millisecond
)

// Outcome reports how a Stop call ended.
type Outcome int

const (
	OutcomeNotRunning Outcome = iota
	OutcomeClean
	OutcomeForced
	OutcomeKilledByOS
	OutcomeUnconfirmed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotRunning:
		return "not_running"
	case OutcomeClean:
		return "clean"
	case OutcomeForced:
		return "forced"
	case OutcomeKilledByOS:
		return "os_kill"
	case OutcomeUnconfirmed:
		return "unconfirmed"
	default:
		return "unknown"
	}
}

// Coordinator terminates relay processes through an escalating ladder:
// cooperative signal, forced signal, then a kill by process id.
type Coordinator struct {
	CooperativeWait time.Duration
	ForcedWait      time.Duration
	OSKillWait      time.Duration

	// Signal hooks for each tier. Tests replace them to simulate processes
	// that ignore a tier.
	Interrupt func(p *os.Process) error
	Kill      func(p *os.Process) error
	KillByID  func(pid int) error
	Exists    func(pid int) bool

	logger *slog.Logger
}

// NewCoordinator returns a Coordinator with the default wait budgets.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		CooperativeWait: defaultCooperativeWait,
		ForcedWait:      defaultForcedWait,
		OSKillWait:      defaultOSKillWait,
		Interrupt:       signalCooperative,
		Kill:            (*os.Process).Kill,
		KillByID:        killByID,
		Exists:          processExists,
		logger:          logger,
	}
}

// Stop returns once p is confirmed gone or every tier has been tried.
// It never fails; an unconfirmed termination is logged and reported.
func (c *Coordinator) Stop(p *Process) Outcome {
	if p == nil || p.Exited() {
		return OutcomeNotRunning
	}
	log := c.logger.With(slog.Int("pid", p.PID()))
	outcome := c.escalate(p, log)
	shutdownCounter.WithLabelValues(outcome.String()).Inc()
	switch outcome {
	case OutcomeClean:
		log.Info("Relay terminated cleanly")
	case OutcomeForced, OutcomeKilledByOS:
		log.Warn("Relay terminated by force", slog.String("outcome", outcome.String()))
	case OutcomeUnconfirmed:
		log.Error("Relay termination unconfirmed; process may still be running")
	}
	return outcome
}

func (c *Coordinator) escalate(p *Process, log *slog.Logger) Outcome {
	proc := p.cmd.Process
	err := c.interrupt(proc)
	switch {
	case err == nil:
		if p.waitDone(c.CooperativeWait) {
			return OutcomeClean
		}
		log.Warn("Relay ignored cooperative signal; sending forced signal", slog.Duration("waited", c.CooperativeWait))
	case errors.Is(err, os.ErrProcessDone):
		p.waitDone(c.CooperativeWait)
		return OutcomeClean
	case errors.Is(err, errSignalUnsupported):
		log.Debug("Cooperative signal unsupported on this platform")
	default:
		log.Warn("Cooperative signal failed", slog.String("err", err.Error()))
	}

	if err := c.kill(proc); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Warn("Forced signal failed", slog.String("err", err.Error()))
	}
	if p.waitDone(c.ForcedWait) {
		return OutcomeForced
	}

	log.Warn("Relay still alive after forced signal; killing by process id")
	if err := c.killByID(p.PID()); err != nil {
		log.Warn("Kill by process id failed", slog.String("err", err.Error()))
	}
	if p.waitDone(c.OSKillWait) || !c.exists(p.PID()) {
		return OutcomeKilledByOS
	}
	return OutcomeUnconfirmed
}

func (c *Coordinator) interrupt(p *os.Process) error {
	if c.Interrupt == nil {
		return signalCooperative(p)
	}
	return c.Interrupt(p)
}

func (c *Coordinator) kill(p *os.Process) error {
	if c.Kill == nil {
		return p.Kill()
	}
	return c.Kill(p)
}

func (c *Coordinator) killByID(pid int) error {
	if c.KillByID == nil {
		return killByID(pid)
	}
	return c.KillByID(pid)
}

func (c *Coordinator) exists(pid int) bool {
	if c.Exists == nil {
		return processExists(pid)
	}
	return c.Exists(pid)
}
