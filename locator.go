package relay

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	defaultRuntime     = "node"
	shellLookupTimeout = 3 * time.Second
)

// Locator finds an interpreter binary installed on the host.
// The lookup hooks are fields so tests can replace them.
type Locator struct {
	Name       string
	Candidates []string

	LookPath    func(file string) (string, error)
	ShellLookup func(ctx context.Context, name string) (string, error)
	Stat        func(name string) (os.FileInfo, error)

	logger *slog.Logger
}

// NewLocator returns a Locator for the Node.js runtime with the
// conventional install paths of the current OS.
func NewLocator(logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{
		Name:        defaultRuntime,
		Candidates:  defaultCandidates(runtime.GOOS, os.Getenv("HOME"), os.Getenv("ProgramFiles"), os.Getenv("APPDATA")),
		LookPath:    exec.LookPath,
		ShellLookup: shellLookup,
		Stat:        os.Stat,
		logger:      logger,
	}
}

// Locate returns the path of the first usable interpreter: PATH lookup,
// then a login-shell lookup, then the fixed candidate list.
func (l *Locator) Locate() (string, error) {
	if l.LookPath != nil {
		if p, err := l.LookPath(l.Name); err == nil && l.usable(p) {
			l.logger.Debug("runtime found on PATH", slog.String("path", p))
			return p, nil
		}
	}
	if l.ShellLookup != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shellLookupTimeout)
		p, err := l.ShellLookup(ctx, l.Name)
		cancel()
		if err == nil && l.usable(p) {
			l.logger.Debug("runtime found via shell lookup", slog.String("path", p))
			return p, nil
		}
		if err != nil {
			l.logger.Debug("shell lookup failed", slog.String("err", err.Error()))
		}
	}
	for _, c := range l.Candidates {
		if l.usable(c) {
			l.logger.Debug("runtime found in well-known location", slog.String("path", c))
			return c, nil
		}
	}
	return "", ErrExecutableNotFound
}

func (l *Locator) usable(p string) bool {
	if p == "" {
		return false
	}
	stat := l.Stat
	if stat == nil {
		stat = os.Stat
	}
	fi, err := stat(p)
	return err == nil && !fi.IsDir()
}

// shellLookup asks the user's login shell (or where.exe) for the binary, which
// sees PATH entries added by shell profiles that GUI hosts usually miss.
func shellLookup(ctx context.Context, name string) (string, error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "where", name)
	} else {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
		cmd = exec.CommandContext(ctx, shell, "-lc", "command -v "+name)
	}
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	// where.exe may print several matches; the first one wins.
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line), nil
}

func defaultCandidates(goos, home, programFiles, appData string) []string {
	switch goos {
	case "windows":
		if programFiles == "" {
			programFiles = `C:\Program Files`
		}
		list := []string{
			filepath.Join(programFiles, "nodejs", "node.exe"),
			`C:\Program Files (x86)\nodejs\node.exe`,
		}
		if appData != "" {
			list = append(list, filepath.Join(appData, "nvm", "current", "node.exe"))
		}
		return list
	case "darwin":
		list := []string{
			"/opt/homebrew/bin/node",
			"/usr/local/bin/node",
			"/usr/bin/node",
		}
		if home != "" {
			list = append(list,
				filepath.Join(home, ".volta", "bin", "node"),
				filepath.Join(home, ".nvm", "current", "bin", "node"),
				filepath.Join(home, ".local", "bin", "node"),
			)
		}
		return list
	default:
		list := []string{
			"/usr/bin/node",
			"/usr/local/bin/node",
			"/snap/bin/node",
			"/usr/bin/nodejs",
		}
		if home != "" {
			list = append(list,
				filepath.Join(home, ".volta", "bin", "node"),
				filepath.Join(home, ".nvm", "current", "bin", "node"),
				filepath.Join(home, ".local", "bin", "node"),
			)
		}
		return list
	}
}
