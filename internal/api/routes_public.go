package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/ragol/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "ragol",
		"version": util.Version,
	})
}

func (s *Server) handleInfo(c *gin.Context) {
	sessions := 0
	if s.deps.Sessions != nil {
		sessions = len(s.deps.Sessions.List())
	}

	c.JSON(http.StatusOK, gin.H{
		"version":        util.Version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"relay": gin.H{
			"listen":         s.deps.Relay.Listen,
			"upstream":       s.deps.Relay.Upstream,
			"variant":        s.deps.Relay.Variant,
			"max_frame_body": s.deps.Relay.MaxFrameBody,
		},
		"sessions":        sessions,
		"capture_enabled": s.deps.Captures != nil,
		"system":          util.GetSystemInfo(),
	})
}
