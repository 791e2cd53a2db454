package ffmpeg

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ProcessingTask records one encode: its status, output lines and timestamps.
// Only the Executor changes it; any number of goroutines may read it
// concurrently.
type ProcessingTask struct {
	id          string
	description string

	mu          sync.RWMutex
	status      Status
	logs        []string
	startedAt   time.Time
	completedAt time.Time
}

func NewProcessingTask(description string) *ProcessingTask {
	return NewProcessingTaskWithID(shortuuid.New(), description)
}

func NewProcessingTaskWithID(id, description string) *ProcessingTask {
	return &ProcessingTask{id: id, description: description, status: StatusPending}
}

func (t *ProcessingTask) ID() string { return t.id }

func (t *ProcessingTask) Description() string { return t.description }

func (t *ProcessingTask) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Logs returns a copy of every line collected so far.
func (t *ProcessingTask) Logs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.logs)
}

// LogsSince returns a copy of the lines from offset on, and the offset to pass
// next time.
func (t *ProcessingTask) LogsSince(offset int) ([]string, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(t.logs) {
		return []string{}, len(t.logs)
	}
	return slices.Clone(t.logs[offset:]), len(t.logs)
}

func (t *ProcessingTask) StartedAt() (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.startedAt, !t.startedAt.IsZero()
}

func (t *ProcessingTask) CompletedAt() (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.completedAt, !t.completedAt.IsZero()
}

// TaskSnapshot is a consistent copy of a task, taken under a single lock.
type TaskSnapshot struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Logs        []string   `json:"logs"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (t *ProcessingTask) Snapshot() TaskSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := TaskSnapshot{
		ID:          t.id,
		Description: t.description,
		Status:      t.status,
		Logs:        slices.Clone(t.logs),
	}
	if s.Logs == nil {
		s.Logs = []string{}
	}
	if !t.startedAt.IsZero() {
		started := t.startedAt
		s.StartedAt = &started
	}
	if !t.completedAt.IsZero() {
		completed := t.completedAt
		s.CompletedAt = &completed
	}
	return s
}

func (t *ProcessingTask) appendLog(line string) {
	t.mu.Lock()
	t.logs = append(t.logs, line)
	t.mu.Unlock()
}

func (t *ProcessingTask) markRunning() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPending {
		return fmt.Errorf("task %s: cannot start from %s", t.id, t.status)
	}
	t.status = StatusRunning
	t.startedAt = time.Now()
	return nil
}

// finish moves the task to a terminal status. A task that never started may
// still fail, e.g. when its script cannot be written.
func (t *ProcessingTask) finish(status Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !status.Terminal() {
		return fmt.Errorf("task %s: %s is not a terminal status", t.id, status)
	}
	if t.status.Terminal() {
		return fmt.Errorf("task %s: already %s", t.id, t.status)
	}
	if status == StatusSucceeded && t.status != StatusRunning {
		return fmt.Errorf("task %s: cannot succeed from %s", t.id, t.status)
	}
	t.status = status
	t.completedAt = time.Now()
	return nil
}
