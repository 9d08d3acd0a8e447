package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleStreamNodes and handleStreamJobs implement the spec §6 SSE
// endpoints, grounded on the teacher's streaming SSE pattern
// (raw http.Flusher writes, keep-alive on silence, ctx.Done teardown).
func (s *Server) handleStreamNodes(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(500, gin.H{"error": "streaming unsupported"})
		return
	}
	setSSEHeaders(c)

	sub := s.lc.NodeBus.Subscribe()
	defer s.lc.NodeBus.Unsubscribe(sub)

	ctx := c.Request.Context()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			writeSSEEvent(c.Writer, flusher, "node_update", event)
			ticker.Reset(keepAliveInterval)
		case <-ticker.C:
			writeKeepAlive(c.Writer, flusher)
		}
	}
}

func (s *Server) handleStreamJobs(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(500, gin.H{"error": "streaming unsupported"})
		return
	}
	setSSEHeaders(c)

	sub := s.lc.JobBus.Subscribe()
	defer s.lc.JobBus.Unsubscribe(sub)

	ctx := c.Request.Context()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			writeSSEEvent(c.Writer, flusher, "job_update", event)
			ticker.Reset(keepAliveInterval)
		case <-ticker.C:
			writeKeepAlive(c.Writer, flusher)
		}
	}
}

func setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventName string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", eventName)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func writeKeepAlive(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprint(w, ": keep-alive\n\n")
	flusher.Flush()
}
