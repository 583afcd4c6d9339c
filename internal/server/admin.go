package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) QueueStats(c *gin.Context) {
	stats, err := s.queue.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) ListFailedJobs(c *gin.Context) {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	jobs, err := s.queue.ListFailed(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) PurgeFailedJobs(c *gin.Context) {
	dropped, err := s.queue.PurgeFailed(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": dropped})
}

func (s *Server) PurgeCompletedJobs(c *gin.Context) {
	dropped, err := s.queue.PurgeCompleted(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": dropped})
}

func (s *Server) BreakerSnapshots(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": s.breakers.Snapshots()})
}

type invalidateSessionsRequest struct {
	AccountID string `json:"account_id"`
}

func (s *Server) InvalidateAccountSessions(c *gin.Context) {
	var req invalidateSessionsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AccountID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err := s.sessions.InvalidateAllSessions(c.Request.Context(), req.AccountID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "invalidated"})
}

// ReplayEvent re-enqueues an admitted but unprocessed event by id.
func (s *Server) ReplayEvent(c *gin.Context) {
	eventID := c.Param("event_id")
	if eventID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err := s.eventSvc.Replay(c.Request.Context(), eventID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}

// ReplayUnprocessed re-enqueues every unprocessed event, bounded by limit.
func (s *Server) ReplayUnprocessed(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	replayed, err := s.eventSvc.ReplayUnprocessed(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"replayed": replayed})
}
