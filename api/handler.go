package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"cliptrim/config"
	"cliptrim/ffmpeg"
	"cliptrim/task"
)

type Handler struct {
	jobs *task.Manager
	cfg  *config.Config
}

func NewHandler(jobs *task.Manager, cfg *config.Config) *Handler {
	return &Handler{
		jobs: jobs,
		cfg:  cfg,
	}
}

// JobRequest is the body of POST /jobs and POST /plan.
type JobRequest struct {
	VideoName   string                `json:"videoName" binding:"required"`
	Segments    []task.SegmentRequest `json:"segments" binding:"required,min=1"`
	Quality     string                `json:"quality"`
	Strategy    string                `json:"strategy"`
	Overrides   map[string]string     `json:"overrides"`
	Description string                `json:"description"`
}

func (r JobRequest) toTask() task.Request {
	return task.Request{
		VideoName:   r.VideoName,
		Segments:    r.Segments,
		Quality:     r.Quality,
		Strategy:    r.Strategy,
		Overrides:   r.Overrides,
		Description: r.Description,
	}
}

// statusFor maps engine and manager errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ffmpeg.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleCreateJob plans a job and queues it.
func (h *Handler) handleCreateJob(c *gin.Context) {
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.jobs.Submit(req.toTask())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID, "command": ffmpeg.Describe(job.Plan)})
}

// handlePlan returns the command a request would run, without queueing it.
func (h *Handler) handlePlan(c *gin.Context) {
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := h.jobs.Preview(req.toTask())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{
		"strategy": r.Strategy,
		"quality":  r.Quality,
		"output":   filepath.Base(r.OutputPath),
		"command":  ffmpeg.Describe(r.Plan),
		"args":     r.Plan.Args(ffmpeg.ScriptPlaceholder),
	}
	if script, ok := r.Plan.Script(); ok {
		resp["script"] = script
	}
	c.JSON(http.StatusOK, resp)
}

// handleListJobs lists all jobs.
func (h *Handler) handleListJobs(c *gin.Context) {
	jobs := h.jobs.List()
	views := make([]task.View, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, h.view(c, j))
	}
	c.JSON(http.StatusOK, views)
}

// view renders a job, adding the download URL once its output exists.
func (h *Handler) view(c *gin.Context, j *task.Job) task.View {
	v := j.View()
	if v.Status != ffmpeg.StatusSucceeded || v.OutputPath == "" {
		return v
	}

	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	v.DownloadURL = fmt.Sprintf("%s/api/v1/files/%s", baseURL, filepath.Base(v.OutputPath))
	return v
}

// handleGetJob retrieves the status of a single job.
func (h *Handler) handleGetJob(c *gin.Context) {
	j, found := h.jobs.Get(c.Param("jobId"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, h.view(c, j))
}

// handleGetLogs returns encoder output lines from ?offset= on, so clients can
// poll for new lines.
func (h *Handler) handleGetLogs(c *gin.Context) {
	j, found := h.jobs.Get(c.Param("jobId"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return
		}
		offset = n
	}
	lines, next := j.Process.LogsSince(offset)
	c.JSON(http.StatusOK, gin.H{
		"status": j.Process.Status(),
		"lines":  lines,
		"next":   next,
	})
}

// handleCancelJob cancels a queued or running job.
func (h *Handler) handleCancelJob(c *gin.Context) {
	err := h.jobs.Cancel(c.Param("jobId"))
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, task.ErrNotFound) {
			code = http.StatusNotFound
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job cancellation requested"})
}

// handleListQualities lists the configured quality profiles.
func (h *Handler) handleListQualities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"default":   h.cfg.DefaultQuality,
		"qualities": h.jobs.QualityNames(),
	})
}

// handleGetFile serves a completed output file.
func (h *Handler) handleGetFile(c *gin.Context) {
	filePath, err := h.jobs.GetFilePath(c.Param("filename"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.File(filePath)
}
