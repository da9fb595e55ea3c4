package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3u-dvr/internal/executor"
	"github.com/m3u-dvr/internal/playlist"
	"github.com/m3u-dvr/internal/queue"
	"github.com/m3u-dvr/internal/resolver"
	"github.com/m3u-dvr/internal/service/cleanup"
	"github.com/m3u-dvr/internal/service/finalizer"
	"github.com/m3u-dvr/internal/service/usage"
	"github.com/m3u-dvr/internal/store"
	"github.com/m3u-dvr/internal/tracker"
	"github.com/m3u-dvr/internal/version"
	"github.com/m3u-dvr/internal/watcher"
)

// Deps holds everything the handlers talk to.
type Deps struct {
	Store       *store.Store
	Download    *resolver.Download
	Movie       *resolver.Download
	Live        *resolver.Live
	Schedule    *resolver.Schedule
	Finalizer   *finalizer.Service
	Sweeper     *cleanup.Sweeper
	DanglingAge time.Duration
	Queue       *queue.Queue
	Viewers     *tracker.Viewers
	Consumers   *tracker.Consumers
	Usage       *usage.Service
	LiveWatcher *watcher.LiveWatcher
	Fetcher     *playlist.Fetcher
	Cache       *playlist.Cache
	Oracle      executor.Oracle
}

// Handler handles HTTP requests.
type Handler struct {
	Deps
}

// New creates a new Handler.
func New(d Deps) *Handler {
	return &Handler{Deps: d}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.GET("/health", h.Health)
		api.GET("/version", h.Version)

		// Playlist entries awaiting a job
		api.POST("/playlist/fetch", h.FetchPlaylist)
		api.POST("/cache", h.PutCache)
		api.GET("/cache/:key", h.GetCache)

		// Start and stop by kind. :key is the cache key on DELETE and
		// the recording ID under /live/:key/.
		api.POST("/download", h.StartDownload)
		api.DELETE("/download/:key", h.StopDownload)
		api.POST("/movie", h.StartMovie)
		api.DELETE("/movie/:key", h.StopMovie)
		api.POST("/live", h.StartLive)
		api.DELETE("/live/:key", h.StopLive)
		api.POST("/schedule", h.StartSchedule)
		api.DELETE("/schedule/:key", h.StopSchedule)

		// Running jobs
		api.GET("/jobs", h.ListJobs)
		api.GET("/jobs/:id", h.GetJob)
		api.GET("/jobs/:id/status", h.GetJobStatus)
		api.GET("/jobs/:id/logs", h.GetJobLogs)
		api.POST("/jobs/:id/finalize", h.FinalizeJob)

		// Finished jobs
		api.GET("/history", h.ListHistory)
		api.GET("/history/:id", h.GetHistory)

		// Worker completion callback
		api.POST("/callback", h.WorkerCallback)

		// Viewers and service usage
		api.POST("/live/:key/heartbeat", h.Heartbeat)
		api.GET("/live/:key/viewers", h.GetViewers)
		api.POST("/consumers", h.AddConsumer)
		api.DELETE("/consumers/:id", h.RemoveConsumer)
		api.GET("/services/:id/usage", h.GetUsage)

		// Maintenance
		api.GET("/cleanup/candidates", h.CleanupCandidates)
		api.POST("/cleanup", h.RunCleanup)
		api.GET("/queue/stats", h.GetQueueStats)
	}
}

// Health returns service health status.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Version returns the build info of the running binary.
func (h *Handler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get())
}

// respond writes a resolver result with the status code its Code maps to.
func respond(c *gin.Context, res resolver.Result, okStatus int) {
	c.JSON(statusFor(res, okStatus), res)
}

func statusFor(res resolver.Result, okStatus int) int {
	switch res.Code {
	case resolver.CodeOK:
		return okStatus
	case resolver.CodeInvalid:
		return http.StatusBadRequest
	case resolver.CodeNotFound:
		return http.StatusNotFound
	case resolver.CodeConflict:
		return http.StatusConflict
	case resolver.CodeLimit:
		return http.StatusTooManyRequests
	case resolver.CodeSpawnFailed:
		return http.StatusBadGateway
	case resolver.CodeInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
