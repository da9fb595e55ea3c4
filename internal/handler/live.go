package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/m3u-dvr/internal/service/usage"
)

// Heartbeat registers the caller as a viewer of a live job and makes sure
// the live watcher is running.
func (h *Handler) Heartbeat(c *gin.Context) {
	id := c.Param("key")
	h.Viewers.Track(id, c.ClientIP())
	h.LiveWatcher.Start()
	c.JSON(http.StatusOK, gin.H{"recordingId": id, "viewers": h.Viewers.Count(id)})
}

// GetViewers returns the number of active viewers of a live job.
func (h *Handler) GetViewers(c *gin.Context) {
	id := c.Param("key")
	c.JSON(http.StatusOK, gin.H{"recordingId": id, "viewers": h.Viewers.Count(id)})
}

type consumerRequest struct {
	ConsumerID string `json:"consumerId" binding:"required"`
	ServiceID  string `json:"serviceId"`
	// URL is used to find the service when ServiceID is empty.
	URL string `json:"url"`
}

// AddConsumer registers a player consumer against a service. New consumers
// are refused once the service is at its connection limit.
func (h *Handler) AddConsumer(c *gin.Context) {
	var req consumerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	serviceID := req.ServiceID
	if serviceID == "" {
		serviceID = h.Usage.ServiceFor(req.URL)
	}
	if serviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "serviceId or a url of a known service is required"})
		return
	}

	if !h.Consumers.Has(req.ConsumerID) {
		if err := h.Usage.Admit(c.Request.Context(), serviceID); err != nil {
			if errors.Is(err, usage.ErrLimitReached) {
				c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	h.Consumers.Add(req.ConsumerID, serviceID)
	c.JSON(http.StatusOK, gin.H{"consumerId": req.ConsumerID, "serviceId": serviceID})
}

// RemoveConsumer unregisters a consumer. Unknown IDs are not an error.
func (h *Handler) RemoveConsumer(c *gin.Context) {
	h.Consumers.Remove(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// GetUsage returns the live usage of one service.
func (h *Handler) GetUsage(c *gin.Context) {
	u, err := h.Usage.Usage(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, u)
}
