package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/ragol/internal/db"
)

const maxCaptureLimit = 1000

func (s *Server) handleCaptures(c *gin.Context) {
	if s.deps.Captures == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "capture store is disabled"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	if limit > maxCaptureLimit {
		limit = maxCaptureLimit
	}

	filter := db.Filter{Session: c.Query("session")}
	if codeStr := c.Query("code"); codeStr != "" {
		code, err := strconv.ParseUint(codeStr, 0, 8)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid code"})
			return
		}
		v := uint8(code)
		filter.Code = &v
	}

	captures, err := s.deps.Captures.Recent(c.Request.Context(), limit, filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read captures")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read captures"})
		return
	}
	if captures == nil {
		captures = []db.Capture{}
	}
	c.JSON(http.StatusOK, gin.H{
		"captures": captures,
		"count":    len(captures),
	})
}

func (s *Server) handleCaptureStats(c *gin.Context) {
	if s.deps.Captures == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "capture store is disabled"})
		return
	}

	counts, err := s.deps.Captures.CountByCode(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to count captures")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count captures"})
		return
	}

	var total int64
	for _, cc := range counts {
		total += cc.Count
	}
	if counts == nil {
		counts = []db.CodeCount{}
	}
	c.JSON(http.StatusOK, gin.H{
		"by_code": counts,
		"total":   total,
	})
}

func (s *Server) handleSessions(c *gin.Context) {
	if s.deps.Sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay is not running"})
		return
	}
	sessions := s.deps.Sessions.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}
