package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/duecycle/duecycle/internal/orgcontext"
)

const orgHeader = "X-Org-ID"

// OrgContext resolves the caller's organization from the request header,
// falling back to the configured default, and injects it into the request
// context for the service layer.
func (s *Server) OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := s.cfg.DefaultOrgID
		if raw := c.GetHeader(orgHeader); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid organization header"))
				return
			}
			orgID = parsed
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
			log.Warn("request failed", fields...)
			return
		}
		log.Info("request", fields...)
	}
}
