//go:build unix

// cliptrim/task/manager_test.go
package task

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cliptrim/config"
	"cliptrim/ffmpeg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEncoder stands in for ffmpeg: it prints a progress line, writes its
// last argument as the output file and exits with $FAKE_EXIT. $FAKE_SLEEP
// makes it block instead.
const fakeEncoder = `#!/bin/sh
if [ -n "$FAKE_SLEEP" ]; then exec sleep "$FAKE_SLEEP"; fi
for last; do :; done
echo "fake encoder called with $# args"
printf 'frame=1\rframe=2\n'
echo encoded > "$last"
exit "${FAKE_EXIT:-0}"
`

// mockRunner delegates to a real executor unless runFunc is set.
type mockRunner struct {
	exec    *ffmpeg.Executor
	runFunc func(ctx context.Context, plan ffmpeg.Plan, t *ffmpeg.ProcessingTask, workDir string, sink ffmpeg.LineSink) (int, error)
}

func (m *mockRunner) Execute(ctx context.Context, plan ffmpeg.Plan, t *ffmpeg.ProcessingTask, workDir string, sink ffmpeg.LineSink) (int, error) {
	if m.runFunc != nil {
		return m.runFunc(ctx, plan, t, workDir, sink)
	}
	return m.exec.Execute(ctx, plan, t, workDir, sink)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "input.mp4"), []byte("video"), 0o644))
	crf := 23
	return &config.Config{
		FFBin:               writeFakeEncoder(t),
		Workspace:           ws,
		OutputPrefix:        "TRIM_",
		LockEditedOutputs:   true,
		DefaultStrategy:     "concat",
		DefaultQuality:      "medium",
		Qualities:           map[string]config.Quality{"medium": {VideoBitrate: "3500k", Preset: "medium", CRF: &crf}},
		MaxConcurrency:      1,
		QueueSize:           10,
		OutputLocalLifetime: time.Hour,
	}
}

func writeFakeEncoder(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(fakeEncoder), 0o755))
	return path
}

func newTestManager(t *testing.T, cfg *config.Config, runner *mockRunner) *Manager {
	t.Helper()
	if runner.exec == nil {
		runner.exec = ffmpeg.NewExecutor(ffmpeg.ExecutorOptions{TempDir: t.TempDir(), CancelGrace: time.Second})
	}
	builder := ffmpeg.NewBuilder(cfg.FFBin, nil)
	mgr, err := NewManager(cfg, builder, runner)
	require.NoError(t, err)
	mgr.checkResources = func() error { return nil }
	return mgr
}

func startManager(t *testing.T, mgr *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	mgr.Start(ctx)
}

func waitDone(t *testing.T, j *Job) {
	t.Helper()
	require.Eventually(t, j.Done, 5*time.Second, 10*time.Millisecond)
}

func simpleRequest() Request {
	return Request{
		VideoName: "input.mp4",
		Segments:  []SegmentRequest{{Start: "00:00:01", End: "00:00:03.5"}, {Start: "10", End: "12"}},
	}
}

func TestTaskManager_Submit(t *testing.T) {
	cfg := testConfig(t)
	mgr := newTestManager(t, cfg, &mockRunner{})

	job, err := mgr.Submit(simpleRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, job.ID, job.Process.ID())
	assert.Equal(t, ffmpeg.StatusPending, job.Process.Status())
	assert.Equal(t, ffmpeg.StrategyConcatScript, job.Strategy)
	assert.Equal(t, "medium", job.Quality)
	assert.Equal(t, filepath.Join(cfg.Workspace, "TRIM_input_"+job.ID+".mp4"), job.OutputPath)

	retrieved, found := mgr.Get(job.ID)
	assert.True(t, found)
	assert.Same(t, job, retrieved)
}

func TestTaskManager_Resolve(t *testing.T) {
	cfg := testConfig(t)
	mgr := newTestManager(t, cfg, &mockRunner{})

	t.Run("quality and user overrides are layered", func(t *testing.T) {
		req := simpleRequest()
		req.Strategy = "filter"
		req.Overrides = map[string]string{"crf": "18", "extraArgs": "-movflags,+faststart"}
		r, err := mgr.Preview(req)
		require.NoError(t, err)

		assert.Equal(t, ffmpeg.StrategyFilterComplex, r.Strategy)
		args := r.Plan.Args("")
		joined := strings.Join(args, " ")
		assert.Contains(t, joined, "-b:v 3500k")
		assert.Contains(t, joined, "-crf 18")
		assert.Contains(t, joined, "-movflags +faststart")
		assert.Equal(t, r.OutputPath, args[len(args)-1])
		_, hasScript := r.Plan.Script()
		assert.False(t, hasScript)
	})

	t.Run("concat plan scripts the source", func(t *testing.T) {
		r, err := mgr.Preview(simpleRequest())
		require.NoError(t, err)
		script, ok := r.Plan.Script()
		require.True(t, ok)
		assert.Contains(t, script, "file '"+filepath.Join(cfg.Workspace, "input.mp4")+"'")
		assert.Contains(t, script, "inpoint 1.0")
		assert.Contains(t, script, "outpoint 3.5")
	})

	tests := []struct {
		name   string
		mutate func(*Request)
		errMsg string
	}{
		{"missing video", func(r *Request) { r.VideoName = "missing.mp4" }, "video not found"},
		{"path traversal", func(r *Request) { r.VideoName = "../etc/passwd" }, "escapes the workspace"},
		{"edited output", func(r *Request) { r.VideoName = "TRIM_input_x.mp4" }, "edited output"},
		{"no segments", func(r *Request) { r.Segments = nil }, "at least one segment"},
		{"bad timecode", func(r *Request) { r.Segments = []SegmentRequest{{Start: "1:75"}} }, "segment 1"},
		{"reversed segment", func(r *Request) { r.Segments = []SegmentRequest{{Start: "5", End: "2"}} }, "segment 1"},
		{"unknown quality", func(r *Request) { r.Quality = "ultra" }, "unknown quality"},
		{"unknown strategy", func(r *Request) { r.Strategy = "magic" }, "strategy"},
		{"unknown override", func(r *Request) { r.Overrides = map[string]string{"scale": "2"} }, "scale"},
		{"reserved extra arg", func(r *Request) { r.Overrides = map[string]string{"extraArgs": "-i,other.mp4"} }, "not allowed"},
	}
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Workspace, "TRIM_input_x.mp4"), []byte("x"), 0o644))
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := simpleRequest()
			tc.mutate(&req)
			_, err := mgr.Preview(req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ffmpeg.ErrInvalidArgument)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestTaskManager_ProcessJob(t *testing.T) {
	t.Run("successful processing", func(t *testing.T) {
		cfg := testConfig(t)
		mgr := newTestManager(t, cfg, &mockRunner{})
		startManager(t, mgr)

		job, err := mgr.Submit(simpleRequest())
		require.NoError(t, err)
		waitDone(t, job)

		assert.Equal(t, ffmpeg.StatusSucceeded, job.Process.Status())
		logs := job.Process.Logs()
		require.Len(t, logs, 3)
		assert.Equal(t, "fake encoder called with 21 args", logs[0])
		assert.Equal(t, []string{"frame=1", "frame=2"}, logs[1:])
		view := job.View()
		require.NotNil(t, view.ExitCode)
		assert.Equal(t, 0, *view.ExitCode)
		assert.Empty(t, view.Error)
		assert.FileExists(t, job.OutputPath)

		path, err := mgr.GetFilePath(filepath.Base(job.OutputPath))
		require.NoError(t, err)
		assert.Equal(t, job.OutputPath, path)
	})

	t.Run("failed processing", func(t *testing.T) {
		t.Setenv("FAKE_EXIT", "3")
		cfg := testConfig(t)
		mgr := newTestManager(t, cfg, &mockRunner{})
		startManager(t, mgr)

		job, err := mgr.Submit(simpleRequest())
		require.NoError(t, err)
		waitDone(t, job)

		assert.Equal(t, ffmpeg.StatusFailed, job.Process.Status())
		view := job.View()
		require.NotNil(t, view.ExitCode)
		assert.Equal(t, 3, *view.ExitCode)
		assert.Equal(t, "encoder exited with a non-zero status", view.Error)
	})

	t.Run("waits for resources", func(t *testing.T) {
		cfg := testConfig(t)
		mgr := newTestManager(t, cfg, &mockRunner{})
		mgr.throttleRetry = 10 * time.Millisecond
		var checks atomic.Int32
		mgr.checkResources = func() error {
			if checks.Add(1) < 3 {
				return assert.AnError
			}
			return nil
		}
		startManager(t, mgr)

		job, err := mgr.Submit(simpleRequest())
		require.NoError(t, err)
		waitDone(t, job)
		assert.Equal(t, ffmpeg.StatusSucceeded, job.Process.Status())
		assert.Equal(t, int32(3), checks.Load())
	})
}

func TestTaskManager_Cancel(t *testing.T) {
	t.Run("cancel queued job", func(t *testing.T) {
		cfg := testConfig(t)
		// Not started, so the job stays in the queue
		mgr := newTestManager(t, cfg, &mockRunner{})

		job, err := mgr.Submit(simpleRequest())
		require.NoError(t, err)
		require.NoError(t, mgr.Cancel(job.ID))

		assert.True(t, job.Canceled())
		assert.True(t, job.Done())
		assert.Equal(t, ffmpeg.StatusPending, job.Process.Status())

		err = mgr.Cancel(job.ID)
		assert.Error(t, err)
	})

	t.Run("cancel running job", func(t *testing.T) {
		t.Setenv("FAKE_SLEEP", "30")
		cfg := testConfig(t)
		started := make(chan struct{})
		runner := &mockRunner{}
		runner.runFunc = func(ctx context.Context, plan ffmpeg.Plan, pt *ffmpeg.ProcessingTask, workDir string, sink ffmpeg.LineSink) (int, error) {
			close(started)
			return runner.exec.Execute(ctx, plan, pt, workDir, sink)
		}
		mgr := newTestManager(t, cfg, runner)
		startManager(t, mgr)

		job, err := mgr.Submit(simpleRequest())
		require.NoError(t, err)
		<-started
		require.Eventually(t, func() bool { return job.Process.Status() == ffmpeg.StatusRunning }, 5*time.Second, 10*time.Millisecond)

		require.NoError(t, mgr.Cancel(job.ID))
		waitDone(t, job)

		assert.Equal(t, ffmpeg.StatusFailed, job.Process.Status())
		view := job.View()
		assert.True(t, view.Canceled)
		assert.Nil(t, view.ExitCode)
		assert.Contains(t, view.Error, "context canceled")
	})

	t.Run("cannot cancel completed job", func(t *testing.T) {
		cfg := testConfig(t)
		mgr := newTestManager(t, cfg, &mockRunner{})
		startManager(t, mgr)

		job, err := mgr.Submit(simpleRequest())
		require.NoError(t, err)
		waitDone(t, job)

		err = mgr.Cancel(job.ID)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "cannot cancel job in state: succeeded")
	})

	t.Run("unknown job", func(t *testing.T) {
		mgr := newTestManager(t, testConfig(t), &mockRunner{})
		assert.ErrorIs(t, mgr.Cancel("nope"), ErrNotFound)
	})
}

func TestTaskManager_QueueFull(t *testing.T) {
	cfg := testConfig(t)
	cfg.QueueSize = 1
	mgr := newTestManager(t, cfg, &mockRunner{})

	_, err := mgr.Submit(simpleRequest())
	require.NoError(t, err)
	rejected, err := mgr.Submit(simpleRequest())
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Nil(t, rejected)
	assert.Len(t, mgr.List(), 1, "a rejected job must not stay registered")
}

func TestTaskManager_ZeroConcurrencyStillRuns(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxConcurrency = 0
	mgr := newTestManager(t, cfg, &mockRunner{})
	assert.Equal(t, 1, cap(mgr.concurrencySem))
	startManager(t, mgr)

	job, err := mgr.Submit(simpleRequest())
	require.NoError(t, err)
	waitDone(t, job)
	assert.Equal(t, ffmpeg.StatusSucceeded, job.Process.Status())
}

func TestTaskManager_JobVisibleWhenRunnerStarts(t *testing.T) {
	cfg := testConfig(t)
	var mgr *Manager
	var seen atomic.Bool
	runner := &mockRunner{}
	runner.runFunc = func(ctx context.Context, plan ffmpeg.Plan, pt *ffmpeg.ProcessingTask, workDir string, sink ffmpeg.LineSink) (int, error) {
		_, found := mgr.Get(pt.ID())
		seen.Store(found)
		return runner.exec.Execute(ctx, plan, pt, workDir, sink)
	}
	mgr = newTestManager(t, cfg, runner)
	startManager(t, mgr)

	job, err := mgr.Submit(simpleRequest())
	require.NoError(t, err)
	waitDone(t, job)
	assert.True(t, seen.Load())
}

func TestTaskManager_CleanupOutputs(t *testing.T) {
	cfg := testConfig(t)
	mgr := newTestManager(t, cfg, &mockRunner{})
	startManager(t, mgr)

	job, err := mgr.Submit(simpleRequest())
	require.NoError(t, err)
	waitDone(t, job)
	require.FileExists(t, job.OutputPath)

	mgr.cleanupOutputs(time.Now())
	assert.FileExists(t, job.OutputPath)

	mgr.cleanupOutputs(time.Now().Add(2 * time.Hour))
	assert.NoFileExists(t, job.OutputPath)
	_, found := mgr.Get(job.ID)
	assert.False(t, found)
}

func TestGetFilePath(t *testing.T) {
	cfg := testConfig(t)
	mgr := newTestManager(t, cfg, &mockRunner{})
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Workspace, "TRIM_done.mp4"), []byte("x"), 0o644))

	path, err := mgr.GetFilePath("TRIM_done.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Workspace, "TRIM_done.mp4"), path)

	for _, name := range []string{"../TRIM_done.mp4", "input.mp4", "TRIM_missing.mp4", ".."} {
		_, err := mgr.GetFilePath(name)
		assert.Error(t, err, name)
	}
}

func TestOutputFileName(t *testing.T) {
	assert.Equal(t, "TRIM_my_clip__1__abc.mkv", OutputFileName("TRIM_", "my clip (1).mkv", "abc"))
	assert.Equal(t, "TRIM_raw_abc.mp4", OutputFileName("TRIM_", "raw", "abc"))
}
