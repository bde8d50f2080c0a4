//go:build !windows

package relay

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKillByID(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = sysProcAttr()
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	assert.True(t, processExists(pid))

	require.NoError(t, killByID(pid))

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()
	select {
	case err := <-waited:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "killed")
	case <-time.After(3 * time.Second):
		t.Fatal("process survived killByID")
	}
	assert.False(t, processExists(pid))
}

func TestKillByID_InvalidPID(t *testing.T) {
	assert.Error(t, killByID(0))
	assert.False(t, processExists(0))
}
