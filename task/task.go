package task

import (
	"context"
	"sync"
	"time"

	"cliptrim/ffmpeg"
)

// SegmentRequest is one time range in timecode form ("HH:MM:SS", "MM:SS" or
// seconds, fractions allowed). A blank bound is open.
type SegmentRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Request is what a caller submits: a video in the workspace, the ranges to
// keep, and how to encode them.
type Request struct {
	VideoName   string            `json:"videoName"`
	Segments    []SegmentRequest  `json:"segments"`
	Quality     string            `json:"quality,omitempty"`
	Strategy    string            `json:"strategy,omitempty"`
	Overrides   map[string]string `json:"overrides,omitempty"`
	Description string            `json:"description,omitempty"`
}

// Job is a planned encode tracked by the Manager. The embedded processing
// task carries status and output; the job adds what the engine does not know.
type Job struct {
	ID         string
	VideoName  string
	Quality    string
	Strategy   ffmpeg.Strategy
	OutputPath string
	CreatedAt  time.Time
	Plan       ffmpeg.Plan
	Process    *ffmpeg.ProcessingTask

	mu         sync.Mutex
	exitCode   *int
	errMsg     string
	canceled   bool
	cancelFunc context.CancelFunc
}

// View is the JSON shape of a job.
type View struct {
	ID          string        `json:"id"`
	VideoName   string        `json:"videoName"`
	Quality     string        `json:"quality"`
	Strategy    string        `json:"strategy"`
	Status      ffmpeg.Status `json:"status"`
	Canceled    bool          `json:"canceled,omitempty"`
	ExitCode    *int          `json:"exitCode,omitempty"`
	Error       string        `json:"error,omitempty"`
	Command     string        `json:"command"`
	OutputPath  string        `json:"outputPath,omitempty"`
	DownloadURL string        `json:"downloadUrl,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	LogLines    int           `json:"logLines"`
}

func (j *Job) View() View {
	snap := j.Process.Snapshot()
	j.mu.Lock()
	defer j.mu.Unlock()
	v := View{
		ID:          j.ID,
		VideoName:   j.VideoName,
		Quality:     j.Quality,
		Strategy:    string(j.Strategy),
		Status:      snap.Status,
		Canceled:    j.canceled,
		Error:       j.errMsg,
		Command:     ffmpeg.Describe(j.Plan),
		OutputPath:  j.OutputPath,
		CreatedAt:   j.CreatedAt,
		StartedAt:   snap.StartedAt,
		CompletedAt: snap.CompletedAt,
		LogLines:    len(snap.Logs),
	}
	if j.exitCode != nil {
		code := *j.exitCode
		v.ExitCode = &code
	}
	return v
}

// Canceled reports whether cancellation was requested.
func (j *Job) Canceled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.canceled
}

// Done reports whether the job will not run or change any more.
func (j *Job) Done() bool {
	if j.Process.Status().Terminal() {
		return true
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.canceled && j.cancelFunc == nil
}

func (j *Job) setRunning(cancel context.CancelFunc) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.canceled {
		return false
	}
	j.cancelFunc = cancel
	return true
}

func (j *Job) setResult(code int, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelFunc = nil
	if err != nil {
		j.errMsg = err.Error()
		return
	}
	j.exitCode = &code
	if code != 0 {
		j.errMsg = "encoder exited with a non-zero status"
	}
}

func (j *Job) setError(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errMsg = msg
}
