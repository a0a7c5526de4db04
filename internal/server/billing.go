package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RunBilling triggers one billing pass. It always answers 200 with a
// structured summary; per-item failures live in the summary body so the
// caller's retry policy is not tripped by partial results.
func (s *Server) RunBilling(c *gin.Context) {
	var req struct {
		LookaheadHours int `json:"lookahead_hours"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	lookahead := 24 * time.Hour
	if req.LookaheadHours > 0 {
		lookahead = time.Duration(req.LookaheadHours) * time.Hour
	}

	summary, err := s.billingRun.Run(c.Request.Context(), s.clock.Now(), lookahead)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

// ReconcileLegacyStatuses backfills charges left without a status by older
// writers.
func (s *Server) ReconcileLegacyStatuses(c *gin.Context) {
	resolved, err := s.chargeSvc.ReconcileLegacyStatuses(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"resolved": resolved}})
}
