package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cliptrim/logging"
)

// LineSink receives every output line of the encoder, in order, once.
type LineSink func(line string)

const (
	defaultMaxLineSize = 1 << 20
	defaultCancelGrace = 5 * time.Second
)

type ExecutorOptions struct {
	// TempDir holds concat scripts; empty means os.TempDir().
	TempDir string
	// MaxLineSize splits longer output lines into chunks of this many bytes.
	MaxLineSize int
	// CancelGrace bounds how long Wait lingers on I/O after the process is gone.
	CancelGrace time.Duration
}

// Executor runs plans. One call to Execute runs one process and blocks until
// it exits; callers wanting concurrent encodes run Execute on their own
// goroutines.
type Executor struct {
	tempDir     string
	maxLineSize int
	cancelGrace time.Duration
	log         zerolog.Logger
}

func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.MaxLineSize <= 0 {
		opts.MaxLineSize = defaultMaxLineSize
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = defaultCancelGrace
	}
	return &Executor{
		tempDir:     opts.TempDir,
		maxLineSize: opts.MaxLineSize,
		cancelGrace: opts.CancelGrace,
		log:         logging.WithComponent("executor"),
	}
}

// Execute runs plan and drives task from pending to a terminal status.
//
// Combined stdout and stderr are read line by line as they arrive; each line
// goes to sink and then to the task log. A non-zero exit is not an error: the
// task fails and the code is returned. An *ExecutionError is returned when the
// process cannot be started or ctx is canceled; the task has failed by then.
// A concat script is written to a temporary file that is removed on every path.
func (e *Executor) Execute(ctx context.Context, plan Plan, task *ProcessingTask, workDir string, sink LineSink) (int, error) {
	if plan == nil {
		return -1, invalidf("plan is required")
	}
	if task == nil {
		return -1, invalidf("task is required")
	}
	if status := task.Status(); status != StatusPending {
		return -1, invalidf("task %s is %s, expected %s", task.ID(), status, StatusPending)
	}
	if sink == nil {
		sink = func(string) {}
	}
	log := e.log.With().Str(logging.FieldJobID, task.ID()).Logger()

	scriptPath, cleanup, err := e.writeScript(plan)
	defer cleanup()
	if err != nil {
		_ = task.finish(StatusFailed)
		return -1, &ExecutionError{Op: "script", Err: err}
	}

	if err := task.markRunning(); err != nil {
		return -1, invalidf("%v", err)
	}
	args := plan.Args(scriptPath)
	if len(args) == 0 {
		_ = task.finish(StatusFailed)
		return -1, &ExecutionError{Op: "start", Err: errors.New("empty argument list")}
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = workDir
	cmd.WaitDelay = e.cancelGrace
	setProcessGroup(cmd)
	out, err := cmd.StdoutPipe()
	if err != nil {
		_ = task.finish(StatusFailed)
		return -1, &ExecutionError{Op: "start", Err: err}
	}
	cmd.Stderr = cmd.Stdout

	log.Info().Str("cmd", strings.Join(args, " ")).Msg("starting encoder")
	if err := cmd.Start(); err != nil {
		_ = task.finish(StatusFailed)
		log.Error().Err(err).Msg("encoder failed to start")
		return -1, &ExecutionError{Op: "start", Err: err}
	}

	// Cancellation closes our end of the pipe so the read loop returns even if
	// something else still holds the write end.
	stop := context.AfterFunc(ctx, func() { _ = out.Close() })
	readErr := e.stream(out, task, sink)
	stop()

	if ctx.Err() != nil {
		return -1, e.canceled(ctx, cmd, task, log, true)
	}
	if readErr != nil {
		_, _ = io.Copy(io.Discard, out)
		_ = cmd.Wait()
		_ = task.finish(StatusFailed)
		log.Error().Err(readErr).Msg("reading encoder output failed")
		return -1, &ExecutionError{Op: "read", Err: readErr}
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return -1, e.canceled(ctx, cmd, task, log, false)
	}
	code := 0
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		code = exitErr.ExitCode()
	default:
		_ = task.finish(StatusFailed)
		log.Error().Err(waitErr).Msg("waiting for encoder failed")
		return -1, &ExecutionError{Op: "wait", Err: waitErr}
	}

	status := StatusSucceeded
	if code != 0 {
		status = StatusFailed
	}
	_ = task.finish(status)
	log.Info().Int(logging.FieldExitCode, code).Str(logging.FieldStatus, string(status)).Msg("encoder exited")
	return code, nil
}

// canceled fails the task and reports ctx's error. When the process has not
// been reaped yet it is left to exit in the background.
func (e *Executor) canceled(ctx context.Context, cmd *exec.Cmd, task *ProcessingTask, log zerolog.Logger, reap bool) error {
	if reap {
		go func() { _ = cmd.Wait() }()
	}
	_ = task.finish(StatusFailed)
	log.Warn().Err(ctx.Err()).Msg("encoder canceled")
	return &ExecutionError{Op: "wait", Err: ctx.Err()}
}

func (e *Executor) stream(r io.Reader, task *ProcessingTask, sink LineSink) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(64*1024, e.maxLineSize)), e.maxLineSize)
	sc.Split(scanLines(e.maxLineSize))
	for sc.Scan() {
		line := sc.Text()
		sink(line)
		task.appendLog(line)
	}
	return sc.Err()
}

// scanLines splits on "\n", "\r" or "\r\n". ffmpeg redraws its progress line
// with a bare carriage return, and each redraw counts as a line. Lines longer
// than limit are emitted in limit-sized pieces.
func scanLines(limit int) bufio.SplitFunc {
	// pendingCR is set when a '\r' ended a full buffer; a '\n' that follows
	// it belongs to the same line break.
	pendingCR := false
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if pendingCR && len(data) > 0 {
			pendingCR = false
			if data[0] == '\n' {
				return 1, nil, nil
			}
		}
		if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
			if data[i] == '\n' {
				return i + 1, data[:i], nil
			}
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			if atEOF {
				return i + 1, data[:i], nil
			}
			if len(data) >= limit {
				pendingCR = true
				return i + 1, data[:i], nil
			}
			// A lone trailing '\r' may be the first half of "\r\n".
			return 0, nil, nil
		}
		if atEOF {
			return len(data), data, nil
		}
		if len(data) >= limit {
			return limit, data[:limit], nil
		}
		return 0, nil, nil
	}
}

func (e *Executor) writeScript(plan Plan) (string, func(), error) {
	script, ok := plan.Script()
	if !ok {
		return "", func() {}, nil
	}
	f, err := os.CreateTemp(e.tempDir, "ffmpeg_concat_*.txt")
	if err != nil {
		return "", func() {}, fmt.Errorf("create concat script: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.WriteString(script); err != nil {
		_ = f.Close()
		return "", cleanup, fmt.Errorf("write concat script: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", cleanup, fmt.Errorf("write concat script: %w", err)
	}
	return f.Name(), cleanup, nil
}
