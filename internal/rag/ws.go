package rag

import (
	"context"
	"encoding/json"
)

// QueryMessage is the inbound WebSocket message shape spec §4.6's
// "WebSocket surface" names: {"type":"rag_query", question, time_window_hours?,
// correlation_id?}.
type QueryMessage struct {
	Type            string `json:"type"`
	Question        string `json:"question"`
	TimeWindowHours *int   `json:"time_window_hours,omitempty"`
	CorrelationID   string `json:"correlation_id,omitempty"`
}

// ResponseMessage wraps a [Result] with the WebSocket envelope's
// correlation id and a fixed "rag_response" type tag.
type ResponseMessage struct {
	Type          string `json:"type"`
	CorrelationID string `json:"correlation_id,omitempty"`
	*Result
}

// ErrorMessage is sent in place of a [ResponseMessage] when the inbound
// frame itself is malformed (not a query failure, which Result.Error
// already carries inline).
type ErrorMessage struct {
	Type          string `json:"type"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Success       bool   `json:"success"`
	Error         string `json:"error"`
}

// HandleMessage decodes an inbound rag_query frame, runs the query, and
// returns the JSON-encoded rag_response (or rag_error) frame to send back.
// The caller owns the actual WebSocket transport — this is transport-
// agnostic so it can be wired into whichever server (gin route, raw
// net/http upgrade) hosts the RAG WebSocket surface.
func (h *Handler) HandleMessage(ctx context.Context, raw []byte) []byte {
	var msg QueryMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return encodeError("", "invalid rag_query payload: "+err.Error())
	}
	if msg.Question == "" {
		return encodeError(msg.CorrelationID, "question is required")
	}

	result := h.Query(ctx, msg.Question, msg.TimeWindowHours)
	out, err := json.Marshal(ResponseMessage{
		Type:          "rag_response",
		CorrelationID: msg.CorrelationID,
		Result:        result,
	})
	if err != nil {
		return encodeError(msg.CorrelationID, "failed to encode response: "+err.Error())
	}
	return out
}

func encodeError(correlationID, message string) []byte {
	out, _ := json.Marshal(ErrorMessage{
		Type:          "rag_error",
		CorrelationID: correlationID,
		Success:       false,
		Error:         message,
	})
	return out
}
