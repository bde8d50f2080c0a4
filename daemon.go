package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const (
	crashLoopThreshold    = 5
	crashLoopWindow       = 1 * time.Minute
	defaultRestartBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second

	// A relay that stayed up this long restarts without inherited backoff.
	stableRunThreshold = 1 * time.Minute

	reasonExit   = "exit"
	reasonConfig = "config"
	reasonSIGHUP = "sighup"
)

// ErrDaemonStopped is returned by Start once the daemon is shutting down.
var ErrDaemonStopped = errors.New("daemon is shutting down")

// Daemon keeps a relay running for relayctl: it serves the control
// endpoints, reloads on config changes and SIGHUP, and relaunches the relay
// after unexpected exits with backoff.
type Daemon struct {
	// Override is applied to every configuration reloaded from disk, so
	// command-line flags keep precedence over the file.
	Override func(*Config)

	mgr        *Manager
	configPath string
	logger     *slog.Logger

	// runLock orders relay starts against the final stop.
	runLock sync.Mutex

	cfgLock sync.Mutex
	cfg     *Config

	restartEvent   chan string
	done           chan struct{}
	closeOnce      sync.Once
	backoff        time.Duration
	crashTimes     []time.Time
	crashTimesLock sync.Mutex
	lastUptime     atomic.Int64
}

// NewDaemon creates a Daemon. configPath may be empty, in which case cfg is
// never reloaded.
func NewDaemon(configPath string, cfg *Config, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	d := &Daemon{
		configPath:   configPath,
		cfg:          cfg,
		logger:       logger,
		restartEvent: make(chan string, 1),
		done:         make(chan struct{}),
		backoff:      defaultRestartBackoff,
	}
	d.mgr = NewManager(Options{
		Logger:           logger,
		StartupTimeout:   time.Duration(cfg.StartupTimeout),
		WorkDirHint:      cfg.WorkDir,
		OnUnexpectedExit: d.onUnexpectedExit,
	})
	return d
}

// Manager exposes the underlying relay manager.
func (d *Daemon) Manager() *Manager { return d.mgr }

func (d *Daemon) config() *Config {
	d.cfgLock.Lock()
	defer d.cfgLock.Unlock()
	return d.cfg
}

// Start launches the relay with the current configuration.
func (d *Daemon) Start() error {
	d.runLock.Lock()
	defer d.runLock.Unlock()
	return d.startLocked()
}

func (d *Daemon) startLocked() error {
	select {
	case <-d.done:
		return ErrDaemonStopped
	default:
	}
	cfg := d.config()
	cfg.LoadEnvFiles(d.logger)
	secret, err := cfg.Secret()
	if err != nil {
		return err
	}
	d.mgr.SetWorkingDirectoryHint(cfg.WorkDir)
	port, err := d.mgr.StartRelay(secret, cfg.Port)
	if err != nil {
		return fmt.Errorf("start relay: %w", err)
	}
	d.logger.Info("Relay available", slog.String("url", fmt.Sprintf("http://127.0.0.1:%d", port)))
	return nil
}

// Stop terminates the relay.
func (d *Daemon) Stop() {
	d.runLock.Lock()
	defer d.runLock.Unlock()
	d.mgr.StopRelay()
}

// Restart reloads the configuration file, if any, and relaunches the relay.
func (d *Daemon) Restart(reason string) error {
	d.logger.Info("Restarting relay", slog.String("reason", reason))
	restartCounter.WithLabelValues(reason).Inc()
	if d.configPath != "" {
		if cfg, err := LoadConfig(d.configPath); err != nil {
			d.logger.Error("Config reload failed; keeping previous config", slog.String("err", err.Error()))
		} else {
			if d.Override != nil {
				d.Override(cfg)
			}
			d.cfgLock.Lock()
			prev := d.cfg
			d.cfg = cfg
			d.cfgLock.Unlock()
			d.warnStaticChanges(prev, cfg)
			d.mgr.SetStartupTimeout(time.Duration(cfg.StartupTimeout))
		}
	}
	d.runLock.Lock()
	defer d.runLock.Unlock()
	d.mgr.StopRelay()
	return d.startLocked()
}

// warnStaticChanges logs settings that only take effect when relayctl is
// restarted.
func (d *Daemon) warnStaticChanges(prev, next *Config) {
	changed := func(key, from, to string) {
		if from != to {
			d.logger.Warn("Config change requires relayctl restart; keeping current value",
				slog.String("key", key), slog.String("current", from), slog.String("new", to))
		}
	}
	changed("controlAddr", prev.ControlAddr, next.ControlAddr)
	changed("logFile", prev.LogFile, next.LogFile)
	changed("logLevel", prev.LogLevel, next.LogLevel)
}

// Status reports the relay state.
func (d *Daemon) Status() Status {
	return d.mgr.Status()
}

// Shutdown makes Run return after stopping the relay.
func (d *Daemon) Shutdown() {
	d.closeOnce.Do(func() { close(d.done) })
}

// Run starts the relay and blocks until SIGINT/SIGTERM or Shutdown.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}
	cfg := d.config()
	go ServeControl(cfg.ControlAddr, d, d.done, d.logger)
	if d.configPath != "" {
		go func() {
			if err := WatchConfig(d.configPath, d.done, d.logger, func() { d.queueRestart(reasonConfig) }); err != nil {
				d.logger.Error("Config watcher stopped", slog.String("err", err.Error()))
			}
		}()
	}
	supervised := make(chan struct{})
	go func() {
		defer close(supervised)
		d.superviseRestarts()
	}()
	stop := func() {
		d.Shutdown()
		<-supervised
		d.Stop()
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigC)
	for {
		select {
		case sig := <-sigC:
			switch sig {
			case syscall.SIGHUP:
				d.logger.Info("SIGHUP received, scheduling reload")
				d.queueRestart(reasonSIGHUP)
			default:
				d.logger.Info("Shutdown signal received, stopping relay and exiting")
				stop()
				return nil
			}
		case <-d.done:
			stop()
			return nil
		}
	}
}

func (d *Daemon) onUnexpectedExit(st Status) {
	d.lastUptime.Store(int64(time.Since(st.StartedAt)))
	if !d.config().RestartEnabled() {
		d.logger.Info("Restart disabled; relay stays down", slog.Int("port", st.Port))
		return
	}
	d.queueRestart(reasonExit)
}

func (d *Daemon) queueRestart(reason string) {
	select {
	case <-d.done:
		return
	case d.restartEvent <- reason:
	default:
	}
}

func (d *Daemon) superviseRestarts() {
	for {
		select {
		case reason := <-d.restartEvent:
			if d.stopping() {
				return
			}
			if reason == reasonExit {
				if !d.recordCrashAndCheckLoop() {
					d.logger.Error("Too many relay crashes in short window; not restarting until asked")
					continue
				}
				d.noteCrash(time.Duration(d.lastUptime.Load()))
				if !d.backoffAndSleep() || d.stopping() {
					return
				}
			} else {
				d.resetBackoff()
			}
			if err := d.Restart(reason); err != nil {
				d.logger.Error("Relay restart failed", slog.String("reason", reason), slog.String("err", err.Error()))
			}
		case <-d.done:
			return
		}
	}
}

func (d *Daemon) stopping() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// noteCrash forgets accumulated backoff when the crashed relay had been
// stable for a while.
func (d *Daemon) noteCrash(uptime time.Duration) {
	if uptime >= stableRunThreshold {
		d.resetBackoff()
	}
}

func (d *Daemon) resetBackoff() {
	d.backoff = defaultRestartBackoff
}

func (d *Daemon) backoffAndSleep() bool {
	delay := d.backoff
	if d.backoff < defaultMaxBackoff {
		d.backoff *= 2
	}
	d.logger.Info("Backing off before restart", slog.Duration("duration", delay))
	select {
	case <-time.After(delay):
		return true
	case <-d.done:
		return false
	}
}

func (d *Daemon) recordCrashAndCheckLoop() bool {
	d.crashTimesLock.Lock()
	defer d.crashTimesLock.Unlock()
	now := time.Now()
	windowStart := now.Add(-crashLoopWindow)
	newList := d.crashTimes[:0]
	for _, t := range d.crashTimes {
		if t.After(windowStart) {
			newList = append(newList, t)
		}
	}
	d.crashTimes = append(newList, now)
	return len(d.crashTimes) <= crashLoopThreshold
}
