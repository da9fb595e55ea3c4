package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/m3u-dvr/internal/job"
	"github.com/m3u-dvr/internal/resolver"
	"github.com/m3u-dvr/internal/statusfile"
	"github.com/m3u-dvr/internal/store"
	"github.com/m3u-dvr/pkg/logger"
)

const defaultLogTail = 20

// StartDownload starts a download from a cached or inline entry.
func (h *Handler) StartDownload(c *gin.Context) {
	var req resolver.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	respond(c, h.Download.Start(c.Request.Context(), req), http.StatusAccepted)
}

// StopDownload stops the download started from a cache key.
func (h *Handler) StopDownload(c *gin.Context) {
	respond(c, h.Download.Stop(c.Request.Context(), c.Param("key")), http.StatusAccepted)
}

// StartMovie starts a movie download.
func (h *Handler) StartMovie(c *gin.Context) {
	var req resolver.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	respond(c, h.Movie.Start(c.Request.Context(), req), http.StatusAccepted)
}

func (h *Handler) StopMovie(c *gin.Context) {
	respond(c, h.Movie.Stop(c.Request.Context(), c.Param("key")), http.StatusAccepted)
}

// StartLive starts a live restream. The caller becomes its first viewer.
func (h *Handler) StartLive(c *gin.Context) {
	var req resolver.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res := h.Live.Start(c.Request.Context(), req)
	if res.Success {
		h.Viewers.Track(res.RecordingID, c.ClientIP())
		h.LiveWatcher.Start()
	}
	respond(c, res, http.StatusAccepted)
}

func (h *Handler) StopLive(c *gin.Context) {
	respond(c, h.Live.Stop(c.Request.Context(), c.Param("key")), http.StatusAccepted)
}

// StartSchedule schedules a timed recording.
func (h *Handler) StartSchedule(c *gin.Context) {
	var req resolver.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	respond(c, h.Schedule.Start(c.Request.Context(), req), http.StatusAccepted)
}

func (h *Handler) StopSchedule(c *gin.Context) {
	respond(c, h.Schedule.Stop(c.Request.Context(), c.Param("key")), http.StatusAccepted)
}

// ListJobs returns every job that has not been finalized yet.
func (h *Handler) ListJobs(c *gin.Context) {
	files, err := h.Store.ListJobs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	jobs := make([]job.Job, 0, len(files))
	for _, f := range files {
		jobs = append(jobs, f.Job)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// GetJob returns a running job, or its info record once finalized.
func (h *Handler) GetJob(c *gin.Context) {
	id := c.Param("id")
	j, err := h.Store.LoadJob(id)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"job": j, "finalized": false})
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	info, err := h.Store.LoadInfo(id)
	if err != nil {
		notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": info.Job, "finalized": true})
}

// GetJobStatus returns the latest status, progress and tail of the log.
// A terminal status queues the job for finalization.
func (h *Handler) GetJobStatus(c *gin.Context) {
	id := c.Param("id")
	j, err := h.Store.LoadJob(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.finishedStatus(c, id)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	alive := func(pid int) bool { return h.Oracle.IsAlive(ctx, pid) }
	snap, err := statusfile.Take(j, alive, defaultLogTail)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if snap.Zombie {
		logger.Warnf("🧟 %s claims %s but pid %d is gone", id, snap.ReportedAs, snap.PID)
	}
	queued := false
	if snap.Terminal() {
		queued = h.Queue.Enqueue(id, "poll")
	}
	c.JSON(http.StatusOK, gin.H{
		"recordingId": id,
		"kind":        j.Kind,
		"snapshot":    snap,
		"finalizing":  queued,
	})
}

// finishedStatus answers a status poll for a job that is already finalized.
func (h *Handler) finishedStatus(c *gin.Context, id string) {
	info, err := h.Store.LoadInfo(id)
	if err != nil {
		notFoundOrError(c, err)
		return
	}
	status := info.Status[job.KeyStatus].Last()
	if status == "" {
		status = job.StatusError
	}
	c.JSON(http.StatusOK, gin.H{
		"recordingId": id,
		"kind":        info.Job.Kind,
		"snapshot": statusfile.Snapshot{
			Status:       status,
			Values:       map[string]string{job.KeyStatus: status},
			LastLogLines: tail(info.Logs, defaultLogTail),
		},
		"finalized": true,
	})
}

// GetJobLogs returns the worker log. ?tail=N limits it to the last N lines.
func (h *Handler) GetJobLogs(c *gin.Context) {
	id := c.Param("id")
	n := 0
	if raw := c.Query("tail"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tail must be a non-negative integer"})
			return
		}
		n = v
	}

	var lines []string
	if j, err := h.Store.LoadJob(id); err == nil {
		if lines, err = statusfile.ReadLog(j.LogFile); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	} else {
		info, ierr := h.Store.LoadInfo(id)
		if ierr != nil {
			notFoundOrError(c, ierr)
			return
		}
		lines = info.Logs
	}
	if lines == nil {
		lines = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"recordingId": id, "logs": tail(lines, n)})
}

// FinalizeJob finalizes a job synchronously.
func (h *Handler) FinalizeJob(c *gin.Context) {
	id := c.Param("id")
	j, err := h.Store.LoadJob(id)
	if err != nil {
		notFoundOrError(c, err)
		return
	}

	ok, err := h.Finalizer.Finalize(c.Request.Context(), j)
	if err != nil {
		logger.Errorf("❌ Finalize %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status or log file unreadable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordingId": id, "finalized": true})
}

type historyItem struct {
	RecordingID string    `json:"recordingId"`
	Kind        job.Kind  `json:"kind"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	FinalPath   string    `json:"finalPath,omitempty"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// ListHistory lists finalized jobs, oldest first.
func (h *Handler) ListHistory(c *gin.Context) {
	infos, err := h.Store.ListInfos(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]historyItem, 0, len(infos))
	for _, f := range infos {
		items = append(items, historyItem{
			RecordingID: f.Info.Job.RecordingID,
			Kind:        f.Info.Job.Kind,
			Name:        f.Info.Job.Entry.Name,
			Status:      f.Info.Status[job.KeyStatus].Last(),
			FinalPath:   f.Info.Job.FinalOutputFile,
			FinishedAt:  f.ModTime,
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": items, "count": len(items)})
}

// GetHistory returns one info record with its full status history and logs.
func (h *Handler) GetHistory(c *gin.Context) {
	info, err := h.Store.LoadInfo(c.Param("id"))
	if err != nil {
		notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type callbackRequest struct {
	OutputFile string `json:"outputFile" binding:"required"`
	Status     string `json:"status"`
}

// WorkerCallback is called by a worker when it exits.
func (h *Handler) WorkerCallback(c *gin.Context) {
	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	j, err := h.Store.FindJobByOutputFile(c.Request.Context(), req.OutputFile)
	if err != nil {
		notFoundOrError(c, err)
		return
	}
	logger.Infof("📞 Worker callback for %s: %s", j.RecordingID, req.Status)
	queued := h.Queue.Enqueue(j.RecordingID, "callback")
	c.JSON(http.StatusAccepted, gin.H{"recordingId": j.RecordingID, "queued": queued})
}

func notFoundOrError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// tail returns the last n lines; n <= 0 returns all of them.
func tail(lines []string, n int) []string {
	if n <= 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
