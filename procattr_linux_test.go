package relay

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorStart_SurvivesLockedCallerThreadExit(t *testing.T) {
	skipWithoutShell(t)
	s, c := newTestSupervisor(3 * time.Second)
	script := writeShell(t, listeningBody("exec sleep 30"))

	type result struct {
		p   *Process
		err error
	}
	res := make(chan result, 1)
	go func() {
		// Never unlocked: the thread is destroyed when this goroutine returns.
		runtime.LockOSThread()
		p, err := s.Start(script, "/bin/sh", "")
		res <- result{p, err}
	}()
	r := <-res
	require.NoError(t, r.err)
	t.Cleanup(func() { c.Stop(r.p) })

	time.Sleep(300 * time.Millisecond)
	assert.False(t, r.p.Exited(), "relay died with the caller's thread")
}
