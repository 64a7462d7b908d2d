package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"trade-guard/internal/guard"
	"trade-guard/internal/guarderr"
)

// handleRecordExecution books an externally executed fill into the daily
// counters, exposure and breaker. A decision_id confirms the reservation.
func (s *Server) handleRecordExecution(c *gin.Context) {
	var fill guard.Fill
	if err := c.ShouldBindJSON(&fill); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if err := s.deps.Guard.RecordExecution(c.Request.Context(), fill); err != nil {
		s.evaluationError(c, err)
		return
	}
	successResponse(c, gin.H{"recorded": true})
}

type failureRequest struct {
	DecisionID    string `json:"decision_id"` // reservation to release
	Channel       string `json:"channel"`
	Symbol        string `json:"symbol"`
	Error         string `json:"error" binding:"required"`
	BrokerSession bool   `json:"broker_session"` // the broker session is gone
}

// handleRecordFailure counts a failed execution against the breaker
func (s *Server) handleRecordFailure(c *gin.Context) {
	var req failureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	cause := errors.New(req.Error)
	if req.BrokerSession {
		cause = fmt.Errorf("%w: %s", guarderr.ErrBrokerSession, req.Error)
	}

	ctx := c.Request.Context()
	if req.DecisionID != "" {
		if _, err := s.deps.Guard.Release(ctx, req.DecisionID); err != nil {
			s.evaluationError(c, err)
			return
		}
	}
	if err := s.deps.Guard.RecordFailure(ctx, req.Channel, req.Symbol, cause); err != nil {
		s.evaluationError(c, err)
		return
	}
	successResponse(c, gin.H{"recorded": true})
}
