package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// healthFullThreshold is the buffer-fullness ratio that triggers the
// "warning" status on /health. Spec §6: "warning triggered when any buffer
// is ≥ 80% full."
const healthFullThreshold = 0.8

// handleHealth implements GET /health, spec §6:
// {status, service, uptime_seconds, timestamp, buffers?, warnings?, connections?}
// where status ∈ {healthy, warning}.
func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":         "healthy",
		"service":        s.serviceName,
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"timestamp":      time.Now().UTC(),
	}

	if s.buffers != nil {
		stats := s.buffers.BufferStats()
		resp["buffers"] = stats

		var warnings []string
		for name, stat := range stats {
			if stat.Limit <= 0 {
				continue
			}
			ratio := float64(stat.Size) / float64(stat.Limit)
			if ratio >= healthFullThreshold {
				warnings = append(warnings, name+" buffer is "+percent(ratio)+" full")
			}
		}
		if len(warnings) > 0 {
			resp["status"] = "warning"
			resp["warnings"] = warnings
		}
	}

	if len(s.conns) > 0 {
		connections := make(gin.H, len(s.conns))
		for _, conn := range s.conns {
			connections[conn.Name] = conn.Client.State().String()
		}
		resp["connections"] = connections
	}

	c.JSON(http.StatusOK, resp)
}

func percent(ratio float64) string {
	return strconv.Itoa(int(ratio*100)) + "%"
}
