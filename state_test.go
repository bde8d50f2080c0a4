package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testHandle(port int) *Handle {
	p := &Process{pid: 4242, startedAt: time.Now(), done: make(chan struct{})}
	return newHandle(p, port, "/tmp/llm-relay")
}

func TestHandle_Transitions(t *testing.T) {
	h := testHandle(1)
	assert.True(t, h.Live())
	assert.Equal(t, "live", h.liveness().String())

	assert.True(t, h.beginExit())
	assert.False(t, h.Live())
	assert.Equal(t, "exiting", h.liveness().String())

	// A stop in progress wins over the exit watcher.
	assert.False(t, h.exitUnexpectedly())
	assert.False(t, h.beginExit())

	assert.True(t, h.markGone())
	assert.False(t, h.markGone())
	assert.Equal(t, "gone", h.liveness().String())
}

func TestHandle_UnexpectedExitBlocksStop(t *testing.T) {
	h := testHandle(1)
	assert.True(t, h.exitUnexpectedly())
	assert.False(t, h.beginExit())
	assert.False(t, h.Live())
}

func TestState_ClearIfOnlyClearsSameHandle(t *testing.T) {
	var s State
	assert.Nil(t, s.Current())

	old := testHandle(1)
	cur := testHandle(2)
	s.Set(old)
	s.Set(cur)

	assert.False(t, s.ClearIf(old))
	assert.Same(t, cur, s.Current())

	assert.True(t, s.ClearIf(cur))
	assert.Nil(t, s.Current())

	s.Set(old)
	s.Clear()
	assert.Nil(t, s.Current())
}
