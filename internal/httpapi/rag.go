package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ragQueryRequest is the debug endpoint's request body.
type ragQueryRequest struct {
	Question        string `json:"question" binding:"required"`
	TimeWindowHours *int   `json:"time_window_hours"`
}

// handleRAGQuery implements POST /rag/query, a debug/replay surface over
// [rag.Handler.Query] for operators exercising the orchestrator outside of
// its normal WebSocket transport.
func (s *Server) handleRAGQuery(c *gin.Context) {
	if s.ragHandler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rag handler not configured"})
		return
	}

	var req ragQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := s.ragHandler.Query(c.Request.Context(), req.Question, req.TimeWindowHours)
	c.JSON(http.StatusOK, result)
}
