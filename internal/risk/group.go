// Package risk holds the risk control group: position sizer, leverage
// manager and validator, composed with the exposure tracker in a fixed order.
package risk

import (
	"context"

	"trade-guard/config"
	"trade-guard/internal/exposure"
	"trade-guard/internal/logging"
	"trade-guard/internal/signals"
)

// ExposureChecker is the part of the exposure tracker the group needs
type ExposureChecker interface {
	Check(ctx context.Context, symbol string, proposed float64) (exposure.Result, error)
}

// Verdict is the risk group's answer for one signal
type Verdict struct {
	Allowed     bool     `json:"allowed"`
	Size        *float64 `json:"size,omitempty"` // nil on a hard denial
	Reasons     []string `json:"reasons,omitempty"`
	Adjustments []string `json:"adjustments,omitempty"` // clamps that reduced the size
	Sizing      SizeResult
	Leverage    LeverageResult
}

// Group runs sizer -> leverage clamp -> exposure check -> validator
type Group struct {
	sizer     *PositionSizer
	leverage  *LeverageManager
	exposure  ExposureChecker
	validator *Validator
	log       *logging.Logger
}

// NewGroup wires the group for one account
func NewGroup(limits config.RiskLimits, exp ExposureChecker) *Group {
	return &Group{
		sizer:     NewPositionSizer(limits),
		leverage:  NewLeverageManager(limits),
		exposure:  exp,
		validator: NewValidator(limits),
		log:       logging.WithComponent("risk"),
	}
}

// Evaluate sizes sig against equity and the remaining daily loss budget. Only
// storage failures are returned as errors; every rejection is a reason.
func (g *Group) Evaluate(ctx context.Context, sig signals.Signal, equity, remainingLoss float64) (Verdict, error) {
	var v Verdict

	v.Sizing = g.sizer.Size(SizeInput{
		Symbol:        sig.Symbol,
		Strength:      sig.Strength,
		Confidence:    sig.Confidence,
		Equity:        equity,
		RemainingLoss: remainingLoss,
	})
	if v.Sizing.Reason != "" {
		zero := 0.0
		v.Size = &zero
		v.Reasons = append(v.Reasons, v.Sizing.Reason)
		return v, nil
	}

	v.Leverage = g.leverage.Clamp(sig.Symbol, v.Sizing.Notional, equity)
	if v.Leverage.Clamped {
		v.Adjustments = append(v.Adjustments, v.Leverage.Note)
	}
	notional := v.Leverage.Notional

	exp, err := g.exposure.Check(ctx, sig.Symbol, notional)
	if err != nil {
		return Verdict{}, err
	}
	if !exp.Allowed {
		v.Reasons = append(v.Reasons, exp.Reasons...)
		return v, nil
	}

	if reasons := g.validator.Validate(Proposal{
		Symbol:    sig.Symbol,
		Direction: sig.Direction,
		Notional:  notional,
		Equity:    equity,
	}); len(reasons) > 0 {
		v.Reasons = append(v.Reasons, reasons...)
		return v, nil
	}

	v.Allowed = true
	v.Size = &notional
	g.log.Debug("risk group approved",
		"symbol", sig.Symbol,
		"notional", notional,
		"leverage_clamped", v.Leverage.Clamped)
	return v, nil
}
