package risk

import (
	"fmt"
	"math"

	"trade-guard/config"
	"trade-guard/internal/signals"
)

const ReasonValidationFailed = "VALIDATION_FAILED"

// Proposal is the final order proposal checked by the validator
type Proposal struct {
	Symbol    string
	Direction signals.Direction
	Notional  float64
	Equity    float64
}

// Validator runs the final structural checks on a sized proposal
type Validator struct {
	limits config.RiskLimits
}

// NewValidator creates a validator over limits
func NewValidator(limits config.RiskLimits) *Validator {
	return &Validator{limits: limits}
}

// Validate returns one reason per violated rule; nil means valid
func (v *Validator) Validate(p Proposal) []string {
	var reasons []string
	fail := func(format string, args ...interface{}) {
		reasons = append(reasons, ReasonValidationFailed+": "+fmt.Sprintf(format, args...))
	}

	if !v.limits.IsAllowed(p.Symbol) {
		fail("symbol %q is not whitelisted", p.Symbol)
	}
	if p.Direction != signals.DirectionLong && p.Direction != signals.DirectionShort {
		fail("direction %q is not tradable", p.Direction)
	}
	switch {
	case !finite(p.Notional):
		fail("size %v is not a number", p.Notional)
	case p.Notional < 0:
		fail("size %v is negative", p.Notional)
	case p.Notional == 0:
		fail("size must be positive")
	}
	switch {
	case !finite(p.Equity):
		fail("equity %v is not a number", p.Equity)
	case p.Equity < 0:
		fail("equity %v is negative", p.Equity)
	}
	return reasons
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
