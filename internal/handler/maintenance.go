package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/m3u-dvr/internal/job"
	"github.com/m3u-dvr/internal/playlist"
	"github.com/m3u-dvr/pkg/logger"
)

type fetchRequest struct {
	URL string `json:"url"`
}

type fetchedEntry struct {
	Key   string    `json:"key"`
	Entry job.Entry `json:"entry"`
}

// FetchPlaylist downloads and parses a playlist. Entries are returned with
// the cache key they would be stored under but are not cached.
func (h *Handler) FetchPlaylist(c *gin.Context) {
	var req fetchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	entries, err := h.Fetcher.Fetch(c.Request.Context(), req.URL)
	if err != nil {
		logger.Warnf("⚠️ Playlist fetch failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	out := make([]fetchedEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, fetchedEntry{Key: playlist.KeyFor(e.URL), Entry: e})
	}
	c.JSON(http.StatusOK, gin.H{"entries": out, "count": len(out)})
}

type cacheRequest struct {
	Entry job.Entry `json:"entry"`
	User  string    `json:"user"`
}

// PutCache parks an entry in the cache namespace so a job can be started
// from its key.
func (h *Handler) PutCache(c *gin.Context) {
	var req cacheRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ce, err := h.Cache.Put(req.Entry, req.User)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusCreated, ce)
}

func (h *Handler) GetCache(c *gin.Context) {
	ce, err := h.Cache.Get(c.Param("key"))
	if err != nil {
		notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, ce)
}

// CleanupCandidates lists what a sweep would act on, without acting.
func (h *Handler) CleanupCandidates(c *gin.Context) {
	force, err := forceParam(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	candidates, err := h.Sweeper.FindCandidates(c.Request.Context(), force)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if candidates == nil {
		candidates = []job.Candidate{}
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates, "count": len(candidates)})
}

// RunCleanup sweeps candidates and prunes old dangling files.
func (h *Handler) RunCleanup(c *gin.Context) {
	force, err := forceParam(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	report, err := h.Sweeper.Sweep(ctx, force)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	dangling, err := h.Sweeper.DeleteOldDanglingJobs(ctx, h.DanglingAge)
	if err != nil {
		logger.Warnf("⚠️ Dangling prune failed: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"sweep": report, "dangling": dangling})
}

// GetQueueStats returns finalize queue statistics.
func (h *Handler) GetQueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Queue.GetQueueStats())
}

func forceParam(c *gin.Context) (bool, error) {
	raw := c.Query("force")
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
