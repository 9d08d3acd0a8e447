// Package api implements the boundary adapters of spec §6: gin routing,
// request validation, the shared-secret auth gate, and SSE encoding.
// Grounded on the teacher's pkg/api/server.go route-group layout and
// middleware stack.
package api

import (
	"time"

	"github.com/edgemesh/coordinator/internal/config"
	"github.com/edgemesh/coordinator/internal/lifecycle"
	"github.com/edgemesh/coordinator/internal/logging"
	"github.com/edgemesh/coordinator/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server bundles the gin engine with the dependencies its handlers close
// over, mirroring the teacher's Server struct in pkg/api/server.go.
type Server struct {
	engine   *gin.Engine
	lc       *lifecycle.Engine
	cfg      *config.Config
	exporter *metrics.Exporter
}

func NewServer(lc *lifecycle.Engine, cfg *config.Config, registry *prometheus.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), logging.GinMiddleware(), corsMiddleware(cfg.CORSOrigins))

	s := &Server{
		engine:   engine,
		lc:       lc,
		cfg:      cfg,
		exporter: metrics.New(lc.Store, registry),
	}
	s.registerRoutes(registry)
	return s
}

func (s *Server) Handler() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes(registry *prometheus.Registry) {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", s.handlePrometheus(registry))

	v1 := s.engine.Group("/v1")

	agent := v1.Group("/agent")
	agent.POST("/register", s.handleRegisterNode)
	agent.POST("/heartbeat", s.handleHeartbeat)

	tasks := v1.Group("/tasks")
	tasks.Use(s.authGate())
	tasks.POST("/pull", s.handlePullTask)
	tasks.POST("/:task_id/result", s.handleSubmitResult)

	jobs := v1.Group("/jobs")
	jobs.POST("", s.handleCreateJob)
	jobs.GET("", s.handleListJobs)
	jobs.GET("/:job_id", s.handleGetJob)
	jobs.GET("/:job_id/tasks", s.handleListJobTasks)
	jobs.POST("/:job_id/status", s.handleTransitionJobStatus)

	cluster := v1.Group("/cluster")
	cluster.GET("/summary", s.handleClusterSummary)

	v1.GET("/metrics/execution", s.handleExecutionMetrics)
	v1.POST("/simulate/schedule", s.handleSimulateSchedule)

	stream := v1.Group("/stream")
	stream.GET("/nodes", s.handleStreamNodes)
	stream.GET("/jobs", s.handleStreamJobs)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

func (s *Server) handlePrometheus(registry *prometheus.Registry) gin.HandlerFunc {
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		if err := s.exporter.Refresh(c.Request.Context()); err != nil {
			c.JSON(500, gin.H{"error": "failed to refresh metrics"})
			return
		}
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// corsMiddleware reflects the teacher's CORS approach (pkg/api/middleware.go):
// an origin allowlist, where a "*" entry allows any origin.
// Access-Control-Allow-Origin is set only for allowed origins; the
// allowed-methods/headers headers and the 204 reply to OPTIONS apply to
// every request.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := map[string]bool{}
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			if wildcard {
				c.Header("Access-Control-Allow-Origin", "*")
			} else if allowed[origin] {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-EdgeMesh-Secret")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

const keepAliveInterval = 15 * time.Second
