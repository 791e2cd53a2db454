package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cliptrim/config"
	"cliptrim/logging"
	"cliptrim/task"
)

func SetupRouter(tm *task.Manager, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logging.WithComponent("http")))
	h := NewHandler(tm, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/plan", h.handlePlan)
		v1.GET("/qualities", h.handleListQualities)

		v1.POST("/jobs", h.handleCreateJob)
		v1.GET("/jobs", h.handleListJobs)
		v1.GET("/jobs/:jobId", h.handleGetJob)
		v1.GET("/jobs/:jobId/logs", h.handleGetLogs)
		v1.PATCH("/jobs/:jobId/cancel", h.handleCancelJob)

		// Output names carry a random id, but downloads stay behind auth too.
		v1.GET("/files/:filename", h.handleGetFile)
	}
	return r
}
