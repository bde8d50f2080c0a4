package relay

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("relies on /bin/sh")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

// writeShell writes body as a shell script and returns its path.
func writeShell(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.sh")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func listeningBody(extra string) string {
	return fmt.Sprintf("echo '%s 1'\n%s\n", ListeningMarker, extra)
}

func fastCoordinator() *Coordinator {
	c := NewCoordinator(testLogger())
	c.CooperativeWait = 500 * time.Millisecond
	c.ForcedWait = time.Second
	c.OSKillWait = 500 * time.Millisecond
	return c
}

type shLocator struct{}

func (shLocator) Locate() (string, error) { return "/bin/sh", nil }

type missingLocator struct{}

func (missingLocator) Locate() (string, error) { return "", ErrExecutableNotFound }

// shWriter returns a ScriptWriter producing a shell relay. body is a format
// string receiving the port; calls counts invocations.
func shWriter(body string, calls *atomic.Int32) ScriptWriter {
	return func(dir string, port int, _ string) (string, error) {
		calls.Add(1)
		path := filepath.Join(dir, "relay.sh")
		return path, os.WriteFile(path, []byte(fmt.Sprintf(body, port)), 0o600)
	}
}

// syncBuffer is a bytes.Buffer safe for a logger and a reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
