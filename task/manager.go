package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"

	"cliptrim/config"
	"cliptrim/ffmpeg"
	"cliptrim/logging"
)

var (
	ErrNotFound  = errors.New("job not found")
	ErrQueueFull = errors.New("job queue is full")
)

// Runner executes one plan; *ffmpeg.Executor is the production implementation.
type Runner interface {
	Execute(ctx context.Context, plan ffmpeg.Plan, t *ffmpeg.ProcessingTask, workDir string, sink ffmpeg.LineSink) (int, error)
}

// Manager resolves requests into plans, queues them and runs at most
// MaxConcurrency of them at a time. The engine itself has no limit; this is
// where admission policy lives.
type Manager struct {
	cfg            *config.Config
	builder        *ffmpeg.Builder
	runner         Runner
	qualities      map[string]*ffmpeg.Overrides
	jobs           sync.Map
	taskQueue      chan *Job
	concurrencySem chan struct{}
	checkResources func() error
	throttleRetry  time.Duration
	log            zerolog.Logger
}

func NewManager(cfg *config.Config, builder *ffmpeg.Builder, runner Runner) (*Manager, error) {
	qualities, err := qualityOverrides(cfg.Qualities)
	if err != nil {
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	m := &Manager{
		cfg:            cfg,
		builder:        builder,
		runner:         runner,
		qualities:      qualities,
		taskQueue:      make(chan *Job, queueSize),
		concurrencySem: make(chan struct{}, concurrency),
		throttleRetry:  5 * time.Second,
		log:            logging.WithComponent("manager"),
	}
	m.checkResources = newResourceGuard(cfg).Check
	return m, nil
}

// qualityOverrides converts configured quality profiles to overrides.
// Profile names are case-insensitive.
func qualityOverrides(qualities map[string]config.Quality) (map[string]*ffmpeg.Overrides, error) {
	out := make(map[string]*ffmpeg.Overrides, len(qualities))
	for name, q := range qualities {
		o := &ffmpeg.Overrides{CRF: q.CRF}
		if q.VideoBitrate != "" {
			v := q.VideoBitrate
			o.VideoBitrate = &v
		}
		if q.AudioBitrate != "" {
			v := q.AudioBitrate
			o.AudioBitrate = &v
		}
		if q.Preset != "" {
			v := q.Preset
			o.Speed = &v
		}
		if strings.TrimSpace(q.ExtraArgs) != "" {
			args, err := ffmpeg.SplitArgs(q.ExtraArgs)
			if err != nil {
				return nil, fmt.Errorf("quality %q: %w", name, err)
			}
			o.ExtraArgs = args
		}
		out[strings.ToLower(name)] = o
	}
	return out, nil
}

func (m *Manager) Start(ctx context.Context) {
	m.log.Info().Int("max_concurrency", cap(m.concurrencySem)).Msg("job manager started")
	go m.cleanupLoop(ctx)
	go m.workerLoop(ctx)
}

// workerLoop pulls jobs from the queue and processes them
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("worker loop shutting down")
			return
		case job := <-m.taskQueue:
			// Wait for a free processing slot
			select {
			case m.concurrencySem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(j *Job) {
				defer func() { <-m.concurrencySem }()
				m.processJob(ctx, j)
			}(job)
		}
	}
}

// processJob runs a single job. It blocks while the host is short of
// resources, which is the only form of waiting before an encode starts.
func (m *Manager) processJob(parentCtx context.Context, j *Job) {
	log := m.log.With().Str(logging.FieldJobID, j.ID).Logger()
	if j.Canceled() {
		log.Info().Msg("job was canceled before processing")
		return
	}
	if !m.awaitResources(parentCtx, j, log) {
		return
	}

	jobCtx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	if !j.setRunning(cancel) {
		log.Info().Msg("job was canceled before processing")
		return
	}

	log.Info().Str(logging.FieldStrategy, string(j.Strategy)).Msg("processing job")
	sink := func(line string) {
		log.Debug().Str("line", line).Msg("encoder output")
	}
	code, err := m.runner.Execute(jobCtx, j.Plan, j.Process, m.cfg.Workspace, sink)
	j.setResult(code, err)

	switch {
	case err != nil:
		log.Warn().Err(err).Msg("job did not complete")
	case code != 0:
		log.Warn().Int(logging.FieldExitCode, code).Msg("job failed")
	default:
		log.Info().Str(logging.FieldPath, j.OutputPath).Msg("job completed successfully")
	}
}

func (m *Manager) awaitResources(ctx context.Context, j *Job, log zerolog.Logger) bool {
	for {
		err := m.checkResources()
		if err == nil {
			return true
		}
		j.setError(fmt.Sprintf("waiting for resources: %v", err))
		log.Warn().Err(err).Msg("insufficient system resources, delaying job")
		select {
		case <-ctx.Done():
			return false
		case <-time.After(m.throttleRetry):
		}
		if j.Canceled() {
			return false
		}
	}
}

// cleanupLoop periodically removes old output files
func (m *Manager) cleanupLoop(ctx context.Context) {
	if m.cfg.OutputLocalLifetime <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.OutputLocalLifetime / 4) // Check 4 times per lifetime
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("cleanup loop shutting down")
			return
		case <-ticker.C:
			m.cleanupOutputs(time.Now())
		}
	}
}

func (m *Manager) cleanupOutputs(now time.Time) {
	m.jobs.Range(func(key, value interface{}) bool {
		job := value.(*Job)
		completed, ok := job.Process.CompletedAt()
		if !ok || job.Process.Status() != ffmpeg.StatusSucceeded {
			return true
		}
		if now.Sub(completed) > m.cfg.OutputLocalLifetime {
			if err := os.Remove(job.OutputPath); err == nil {
				m.log.Info().Str(logging.FieldPath, job.OutputPath).Msg("removed old output file")
			}
			m.jobs.Delete(key)
		}
		return true
	})
}

// Resolved is a request turned into engine inputs.
type Resolved struct {
	ID         string
	Source     string
	Segments   []ffmpeg.Segment
	OutputPath string
	Overrides  *ffmpeg.Overrides
	Strategy   ffmpeg.Strategy
	Quality    string
	Plan       ffmpeg.Plan
}

// Preview resolves and plans req without queueing it.
func (m *Manager) Preview(req Request) (*Resolved, error) {
	return m.resolve(req, shortuuid.New())
}

func (m *Manager) resolve(req Request, id string) (*Resolved, error) {
	source, err := m.resolveVideo(req.VideoName)
	if err != nil {
		return nil, err
	}
	if len(req.Segments) == 0 {
		return nil, fmt.Errorf("%w: at least one segment is required", ffmpeg.ErrInvalidArgument)
	}
	segments := make([]ffmpeg.Segment, 0, len(req.Segments))
	for i, s := range req.Segments {
		seg, err := buildSegment(source, s)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i+1, err)
		}
		segments = append(segments, seg)
	}

	qualityName := req.Quality
	if strings.TrimSpace(qualityName) == "" {
		qualityName = m.cfg.DefaultQuality
	}
	var quality *ffmpeg.Overrides
	if qualityName != "" {
		q, ok := m.qualities[strings.ToLower(qualityName)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown quality %q (available: %s)", ffmpeg.ErrInvalidArgument, qualityName, strings.Join(m.QualityNames(), ", "))
		}
		quality = q
	}
	user, err := ffmpeg.OverridesFromMap(req.Overrides)
	if err != nil {
		return nil, err
	}
	if user != nil && user.ExtraArgs != nil {
		if err := ffmpeg.ValidateExtraArgs(user.ExtraArgs); err != nil {
			return nil, err
		}
	}
	overrides := quality.Layer(user)

	strategyName := req.Strategy
	if strings.TrimSpace(strategyName) == "" {
		strategyName = m.cfg.DefaultStrategy
	}
	strategy, err := ffmpeg.ParseStrategy(strategyName)
	if err != nil {
		return nil, err
	}

	output := filepath.Join(m.workspace(), OutputFileName(m.cfg.OutputPrefix, filepath.Base(source), id))
	plan, err := m.builder.Build(segments, output, overrides, strategy)
	if err != nil {
		return nil, err
	}
	return &Resolved{
		ID:         id,
		Source:     source,
		Segments:   segments,
		OutputPath: output,
		Overrides:  overrides,
		Strategy:   strategy,
		Quality:    qualityName,
		Plan:       plan,
	}, nil
}

func buildSegment(source string, s SegmentRequest) (ffmpeg.Segment, error) {
	var opts []ffmpeg.SegmentOption
	start, ok, err := ffmpeg.ParseTimecode(s.Start)
	if err != nil {
		return ffmpeg.Segment{}, err
	}
	if ok {
		opts = append(opts, ffmpeg.WithStart(start))
	}
	end, ok, err := ffmpeg.ParseTimecode(s.End)
	if err != nil {
		return ffmpeg.Segment{}, err
	}
	if ok {
		opts = append(opts, ffmpeg.WithEnd(end))
	}
	return ffmpeg.NewSegment(source, opts...)
}

func (m *Manager) workspace() string {
	ws := m.cfg.Workspace
	if ws == "" {
		ws = "."
	}
	if abs, err := filepath.Abs(ws); err == nil {
		ws = abs
	}
	return filepath.Clean(ws)
}

// resolveVideo maps a video name to a file inside the workspace.
func (m *Manager) resolveVideo(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: video name is required", ffmpeg.ErrInvalidArgument)
	}
	ws := m.workspace()
	resolved := filepath.Clean(filepath.Join(ws, name))
	rel, err := filepath.Rel(ws, resolved)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: video name escapes the workspace: %s", ffmpeg.ErrInvalidArgument, name)
	}
	if m.cfg.LockEditedOutputs && m.cfg.OutputPrefix != "" && strings.HasPrefix(filepath.Base(resolved), m.cfg.OutputPrefix) {
		return "", fmt.Errorf("%w: %s is an edited output and may not be edited again", ffmpeg.ErrInvalidArgument, name)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: video not found in workspace: %s", ffmpeg.ErrInvalidArgument, name)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ffmpeg.ErrInvalidArgument, name)
	}
	return resolved, nil
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// OutputFileName derives "<prefix><sanitized base>_<id><ext>" from the source
// file name, keeping its extension or defaulting to .mp4.
func OutputFileName(prefix, original, id string) string {
	ext := filepath.Ext(original)
	base := strings.TrimSuffix(original, ext)
	if ext == "" || ext == "." {
		ext = ".mp4"
	}
	return prefix + unsafeNameChars.ReplaceAllString(base, "_") + "_" + id + ext
}

// QualityNames lists the configured quality profiles, sorted.
func (m *Manager) QualityNames() []string {
	names := make([]string, 0, len(m.qualities))
	for name := range m.qualities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) Submit(req Request) (*Job, error) {
	id := shortuuid.New()
	r, err := m.resolve(req, id)
	if err != nil {
		return nil, err
	}
	description := req.Description
	if description == "" {
		description = fmt.Sprintf("%s: %d segment(s), %s", filepath.Base(r.Source), len(r.Segments), r.Strategy)
	}
	j := &Job{
		ID:         id,
		VideoName:  req.VideoName,
		Quality:    r.Quality,
		Strategy:   r.Strategy,
		OutputPath: r.OutputPath,
		CreatedAt:  time.Now(),
		Plan:       r.Plan,
		Process:    ffmpeg.NewProcessingTaskWithID(id, description),
	}

	// Stored first so the job can be looked up as soon as a worker sees it.
	m.jobs.Store(j.ID, j)
	select {
	case m.taskQueue <- j:
	default:
		m.jobs.Delete(j.ID)
		return nil, ErrQueueFull
	}
	m.log.Info().Str(logging.FieldJobID, j.ID).Msg("job submitted to queue")
	return j, nil
}

func (m *Manager) Get(jobID string) (*Job, bool) {
	if val, ok := m.jobs.Load(jobID); ok {
		return val.(*Job), true
	}
	return nil, false
}

// List returns every known job, oldest first.
func (m *Manager) List() []*Job {
	var jobList []*Job
	m.jobs.Range(func(key, value interface{}) bool {
		jobList = append(jobList, value.(*Job))
		return true
	})
	sort.Slice(jobList, func(a, b int) bool {
		return jobList[a].CreatedAt.Before(jobList[b].CreatedAt)
	})
	return jobList
}

func (m *Manager) Cancel(jobID string) error {
	job, ok := m.Get(jobID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	status := job.Process.Status()
	if status.Terminal() || job.canceled {
		return fmt.Errorf("cannot cancel job in state: %s", status)
	}
	job.canceled = true
	if job.cancelFunc != nil {
		job.cancelFunc()
		m.log.Info().Str(logging.FieldJobID, job.ID).Msg("cancellation signal sent to running job")
	} else {
		job.errMsg = "canceled by user while in queue"
		m.log.Info().Str(logging.FieldJobID, job.ID).Msg("job marked as canceled in queue")
	}
	return nil
}

// GetFilePath returns the path of an output file in the workspace.
func (m *Manager) GetFilePath(filename string) (string, error) {
	// Security: Prevent path traversal
	cleanFilename := filepath.Base(filename)
	if cleanFilename != filename || cleanFilename == "." || cleanFilename == ".." {
		return "", fmt.Errorf("invalid filename")
	}
	if m.cfg.OutputPrefix != "" && !strings.HasPrefix(cleanFilename, m.cfg.OutputPrefix) {
		return "", fmt.Errorf("file not found")
	}

	fullPath := filepath.Join(m.workspace(), cleanFilename)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return "", fmt.Errorf("file not found")
	}
	return fullPath, nil
}
