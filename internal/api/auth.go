package api

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
)

// authGate implements spec §6's authentication rule: when a shared secret
// is configured, task endpoints compare X-EdgeMesh-Secret against it using
// constant-time equality. Auth is disabled entirely when unset.
func (s *Server) authGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.AuthEnabled() {
			c.Next()
			return
		}

		provided := c.GetHeader("X-EdgeMesh-Secret")
		expected := s.cfg.SharedSecret

		if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			c.JSON(401, gin.H{"error": "invalid or missing authentication secret"})
			c.Abort()
			return
		}

		c.Next()
	}
}
