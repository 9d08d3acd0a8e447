// Package logging sets up the process-wide zerolog logger, grounded on the
// teacher's pkg/logging/structured_logger.go base-logger construction, but
// trimmed to the single global logger + gin middleware EdgeMesh needs (no
// Kubernetes-specific enrichment, no log-shipping backends).
package logging

import (
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger at the given level
// ("debug", "info", "warn", "error"; defaults to "info" on an empty or
// unrecognized value).
func Init(level string) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	log.Logger = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "edgemesh-coordinator").
		Logger()
}

// GinMiddleware logs each request at Info level with method, path, status,
// and latency, the structured-logging equivalent of the teacher's
// gin.Logger() call in pkg/api/server.go's setupRoutes.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}
