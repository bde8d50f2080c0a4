package relay

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireNode(t *testing.T) {
	t.Helper()
	if _, err := NewLocator(testLogger()).Locate(); errors.Is(err, ErrExecutableNotFound) {
		t.Skip("node.js not installed")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRelay_EndToEnd(t *testing.T) {
	requireNode(t)
	m := NewManager(Options{Logger: testLogger(), WorkDirHint: t.TempDir()})
	t.Cleanup(m.StopRelay)

	port, err := m.StartRelay("sk-e2e", freePort(t))
	require.NoError(t, err)
	base, err := m.BaseURL()
	require.NoError(t, err)

	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(http.MethodOptions, base+"/v1/messages", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, body)

	resp, err = client.Get(base + "/health")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body)

	m.StopRelay()
	_, err = m.BaseURL()
	require.ErrorIs(t, err, ErrNotRunning)

	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 200*time.Millisecond)
		if err != nil {
			return true
		}
		c.Close()
		return false
	}, 3*time.Second, 50*time.Millisecond, "port still accepting connections after stop")
}

func TestRelay_PortInUse(t *testing.T) {
	requireNode(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	busy := l.Addr().(*net.TCPAddr).Port

	m := NewManager(Options{Logger: testLogger(), WorkDirHint: t.TempDir()})
	t.Cleanup(m.StopRelay)

	_, err = m.StartRelay("sk-e2e", busy)
	var fatal *StartupFailureError
	require.ErrorAs(t, err, &fatal)
	assert.Contains(t, fatal.Message, "EADDRINUSE")

	_, err = m.BaseURL()
	require.ErrorIs(t, err, ErrNotRunning)
}
