package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"trade-guard/internal/auth"
	"trade-guard/internal/guard"
	"trade-guard/internal/guarderr"
	"trade-guard/internal/signals"
	"trade-guard/internal/state"
)

// ============================================================================
// GUARD HANDLERS
// ============================================================================

// handleCheckGuards runs the system guard and daily limit checks
func (s *Server) handleCheckGuards(c *gin.Context) {
	d, err := s.deps.Guard.CheckAllGuards(c.Request.Context())
	if err != nil {
		s.evaluationError(c, err)
		return
	}
	successResponse(c, d)
}

// handleSystemStatus returns the system guard alone
func (s *Server) handleSystemStatus(c *gin.Context) {
	res, err := s.deps.System.Check(c.Request.Context())
	if err != nil {
		s.evaluationError(c, err)
		return
	}
	successResponse(c, res)
}

type evaluateRequest struct {
	Signal signals.Signal `json:"signal"`
	Equity float64        `json:"equity" binding:"required"`
}

func (s *Server) bindEvaluation(c *gin.Context) (evaluateRequest, bool) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return req, false
	}
	if err := s.validator.Validate(req.Signal); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}

// handleEvaluate previews a full guard and risk evaluation for a signal. It
// claims no breaker trial and holds no capacity.
func (s *Server) handleEvaluate(c *gin.Context) {
	req, ok := s.bindEvaluation(c)
	if !ok {
		return
	}

	d, err := s.deps.Guard.Preview(c.Request.Context(), req.Signal, req.Equity)
	if err != nil {
		s.evaluationError(c, err)
		return
	}
	successResponse(c, d)
}

// handleReserve is the executor's gate: it evaluates under the account lock
// and holds capacity for an approved trade. The executor confirms with
// POST /api/executions carrying the decision ID, or releases.
func (s *Server) handleReserve(c *gin.Context) {
	req, ok := s.bindEvaluation(c)
	if !ok {
		return
	}

	d, err := s.deps.Guard.Reserve(c.Request.Context(), req.Signal, req.Equity)
	if err != nil {
		s.evaluationError(c, err)
		return
	}
	successResponse(c, d)
}

// handleRelease frees a reservation the executor will not fill
func (s *Server) handleRelease(c *gin.Context) {
	released, err := s.deps.Guard.Release(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.evaluationError(c, err)
		return
	}
	successResponse(c, gin.H{"released": released})
}

type tripRequest struct {
	Reason   string `json:"reason" binding:"required"`
	Hard     bool   `json:"hard"`
	CoolDown string `json:"cool_down"` // soft trips only, Go duration syntax
}

// handleTrip is the operator kill switch
func (s *Server) handleTrip(c *gin.Context) {
	var req tripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	operator := auth.GetOperator(c)
	reason := req.Reason + " (by " + operator + ")"

	var err error
	if req.Hard {
		err = s.deps.System.TripHard(ctx, state.TriggerManual, reason)
	} else {
		cooldown, perr := time.ParseDuration(req.CoolDown)
		if perr != nil || cooldown <= 0 {
			errorResponse(c, http.StatusBadRequest, "soft trip needs a positive cool_down")
			return
		}
		err = s.deps.System.TripSoft(ctx, state.TriggerManual, reason, cooldown)
	}
	if err != nil {
		s.evaluationError(c, err)
		return
	}

	s.log.Warn("system guard tripped via API", "operator", operator, "hard", req.Hard, "reason", req.Reason)
	s.handleSystemStatus(c)
}

// handleRecover runs one auto-recovery attempt
func (s *Server) handleRecover(c *gin.Context) {
	res, err := s.deps.System.Recover(c.Request.Context())
	if err != nil {
		s.evaluationError(c, err)
		return
	}
	successResponse(c, res)
}

// handleReset clears any trip, including manual ones
func (s *Server) handleReset(c *gin.Context) {
	operator := auth.GetOperator(c)
	if err := s.deps.System.Reset(c.Request.Context(), operator); err != nil {
		s.evaluationError(c, err)
		return
	}
	s.handleSystemStatus(c)
}

// handleCircuitStats returns the execution breaker
func (s *Server) handleCircuitStats(c *gin.Context) {
	stats, err := s.deps.Breaker.GetStats(c.Request.Context())
	if err != nil {
		s.evaluationError(c, err)
		return
	}
	successResponse(c, stats)
}

// handleExposure returns the account's open notional by symbol and class
func (s *Server) handleExposure(c *gin.Context) {
	snap, err := s.deps.Exposure.Snapshot(c.Request.Context())
	if err != nil {
		s.evaluationError(c, err)
		return
	}
	successResponse(c, gin.H{
		"account":   snap.Account,
		"by_symbol": snap.BySymbol,
		"by_class":  snap.ByClass,
		"total":     snap.Total(),
	})
}

// handleRecentDecisions returns the audit trail, newest first
func (s *Server) handleRecentDecisions(c *gin.Context) {
	if s.deps.Decisions == nil {
		errorResponse(c, http.StatusNotImplemented, "decision audit not configured")
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	decisions, err := s.deps.Decisions.RecentDecisions(c.Request.Context(), s.deps.Account, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to fetch decisions")
		return
	}
	if decisions == nil {
		decisions = []guard.Decision{}
	}
	successResponse(c, decisions)
}

type signalRequest struct {
	Symbol  string           `json:"symbol" binding:"required"`
	Candles []signals.Candle `json:"candles" binding:"required"`
}

// handleGenerateSignal runs the signal pipeline over caller-supplied candles.
// A null signal means nothing cleared the confidence threshold.
func (s *Server) handleGenerateSignal(c *gin.Context) {
	if s.deps.Pipeline == nil {
		errorResponse(c, http.StatusNotImplemented, "signal pipeline not configured")
		return
	}

	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	sig, err := s.deps.Pipeline.Run(c.Request.Context(), req.Symbol, req.Candles)
	if err != nil {
		errorResponse(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	successResponse(c, sig)
}

// evaluationError maps guard error kinds to status codes
func (s *Server) evaluationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, guarderr.ErrConfiguration):
		errorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, guarderr.ErrCircuitOpen), errors.Is(err, guarderr.ErrGuardTripped):
		errorResponse(c, http.StatusConflict, err.Error())
	case guarderr.IsInfrastructure(err):
		s.log.WithError(err).Error("guard evaluation failed", "path", c.FullPath())
		errorResponse(c, http.StatusServiceUnavailable, err.Error())
	default:
		errorResponse(c, http.StatusBadRequest, err.Error())
	}
}
