package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleStatus implements GET /status, spec §6: "a deeper component
// breakdown including each client's connection state, reconnect counters,
// and circuit-breaker state."
func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{
		"service":        s.serviceName,
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"timestamp":      time.Now().UTC(),
	}

	if s.buffers != nil {
		resp["buffers"] = s.buffers.BufferStats()
	}

	if len(s.conns) > 0 {
		components := make(gin.H, len(s.conns))
		for _, conn := range s.conns {
			status := conn.Client.Status()
			components[conn.Name] = gin.H{
				"state":               status.State.String(),
				"reconnect_attempts":  status.ReconnectAttempts,
				"total_reconnects":    status.TotalReconnects,
				"failed_reconnects":   status.FailedReconnects,
				"successful_connects": status.SuccessfulConnects,
				"heartbeat_failures":  status.HeartbeatFailures,
				"last_heartbeat":      status.LastHeartbeat,
				"background_tasks":    status.BackgroundTasks,
				"circuit_state":       status.CircuitState.String(),
				"healthy":             conn.Client.HealthCheck(),
			}
		}
		resp["connections"] = components
	}

	c.JSON(http.StatusOK, resp)
}
