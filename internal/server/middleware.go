package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// DrainingMiddleware refuses new work once shutdown has begun so the load
// balancer fails over while in-flight jobs finish.
func (s *Server) DrainingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.shutdown.Draining() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{
				Error: errorPayload{Type: "draining", Message: "shutting down"},
			})
			return
		}
		c.Next()
	}
}

// AdminKeyRequired guards operator endpoints with a static bearer key. An
// empty configured key disables the admin surface entirely.
func (s *Server) AdminKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminAPIKey == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.cfg.AdminAPIKey)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
