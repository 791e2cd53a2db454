package ffmpeg

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessingTask_Lifecycle(t *testing.T) {
	task := NewProcessingTask("lifecycle")
	assert.NotEmpty(t, task.ID())
	assert.Equal(t, "lifecycle", task.Description())
	assert.Equal(t, StatusPending, task.Status())
	_, ok := task.StartedAt()
	assert.False(t, ok)

	require.NoError(t, task.markRunning())
	assert.Equal(t, StatusRunning, task.Status())
	started, ok := task.StartedAt()
	assert.True(t, ok)

	assert.Error(t, task.markRunning())
	assert.Error(t, task.finish(StatusRunning))

	require.NoError(t, task.finish(StatusSucceeded))
	completed, ok := task.CompletedAt()
	assert.True(t, ok)
	assert.False(t, completed.Before(started))

	// Terminal is final.
	assert.Error(t, task.finish(StatusFailed))
	assert.Equal(t, StatusSucceeded, task.Status())
}

func TestProcessingTask_FailWithoutStarting(t *testing.T) {
	task := NewProcessingTaskWithID("t-1", "never started")
	assert.Error(t, task.finish(StatusSucceeded))
	require.NoError(t, task.finish(StatusFailed))
	assert.Equal(t, StatusFailed, task.Status())
	_, ok := task.StartedAt()
	assert.False(t, ok)
}

func TestProcessingTask_LogSnapshots(t *testing.T) {
	task := NewProcessingTask("logs")
	task.appendLog("one")
	task.appendLog("two")

	logs := task.Logs()
	logs[0] = "changed"
	assert.Equal(t, []string{"one", "two"}, task.Logs())

	lines, next := task.LogsSince(1)
	assert.Equal(t, []string{"two"}, lines)
	assert.Equal(t, 2, next)

	lines, next = task.LogsSince(5)
	assert.Empty(t, lines)
	assert.Equal(t, 2, next)

	lines, _ = task.LogsSince(-3)
	assert.Equal(t, []string{"one", "two"}, lines)

	snap := task.Snapshot()
	assert.Equal(t, StatusPending, snap.Status)
	assert.Nil(t, snap.StartedAt)
	assert.Equal(t, []string{"one", "two"}, snap.Logs)
}

func TestProcessingTask_ConcurrentReaders(t *testing.T) {
	task := NewProcessingTask("concurrent")
	require.NoError(t, task.markRunning())

	const lines = 500
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := 0
			for task.Status() == StatusRunning {
				logs := task.Logs()
				// Snapshots only ever grow and are always a prefix in order.
				assert.GreaterOrEqual(t, len(logs), prev)
				for i, line := range logs {
					if line != strconv.Itoa(i) {
						t.Errorf("line %d = %q", i, line)
						return
					}
				}
				prev = len(logs)
			}
		}()
	}
	for i := 0; i < lines; i++ {
		task.appendLog(strconv.Itoa(i))
	}
	require.NoError(t, task.finish(StatusSucceeded))
	wg.Wait()
	assert.Len(t, task.Logs(), lines)
}
