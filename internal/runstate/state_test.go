package runstate_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/msgmeter/internal/runstate"
)

func TestStateStartsRunning(t *testing.T) {
	s := runstate.New()
	assert.Equal(t, runstate.Running, s.Phase())
	assert.True(t, s.Running())
	assert.Empty(t, s.Reason())
}

func TestBeginShutdownSingleWinner(t *testing.T) {
	s := runstate.New()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.BeginShutdown("count") {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), winners.Load())
	assert.Equal(t, runstate.ShuttingDown, s.Phase())
	assert.Equal(t, "count", s.Reason())

	select {
	case <-s.Draining():
	default:
		t.Fatal("draining channel not closed")
	}
}

func TestFirstReasonWins(t *testing.T) {
	s := runstate.New()
	require.True(t, s.BeginShutdown("duration"))
	require.False(t, s.BeginShutdown("cancelled"))
	assert.Equal(t, "duration", s.Reason())
}

func TestMarkStoppedRequiresShutdown(t *testing.T) {
	s := runstate.New()
	s.MarkStopped()
	assert.Equal(t, runstate.Running, s.Phase(), "Stopped must not be reachable from Running")

	s.BeginShutdown("stopped")
	s.MarkStopped()
	s.MarkStopped()
	assert.Equal(t, runstate.Stopped, s.Phase())
	assert.False(t, s.BeginShutdown("again"), "no re-entry after Stopped")

	select {
	case <-s.Stopped():
	default:
		t.Fatal("stopped channel not closed")
	}
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "running", runstate.Running.String())
	assert.Equal(t, "shutting_down", runstate.ShuttingDown.String())
	assert.Equal(t, "stopped", runstate.Stopped.String())
	assert.Equal(t, "unknown", runstate.Phase(9).String())
}
