package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trade-guard/config"
	"trade-guard/internal/logging"
)

const (
	ReasonSizeBelowMinimum    = "SIZE_BELOW_MINIMUM"
	ReasonLossBudgetExhausted = "LOSS_BUDGET_EXHAUSTED"
)

// notional amounts are truncated to this many decimals when no lot step is set
const notionalPrecision = 8

// SizeInput holds everything the sizer reads
type SizeInput struct {
	Symbol        string
	Strength      float64
	Confidence    float64
	Equity        float64
	RemainingLoss float64 // today's remaining daily loss budget
}

// SizeResult is the sizer's proposal
type SizeResult struct {
	Notional   float64 `json:"notional"`
	Raw        float64 `json:"raw"`         // before the loss cap and rounding
	LossCapped bool    `json:"loss_capped"` // the remaining daily loss bound the size
	Reason     string  `json:"reason,omitempty"`
}

// PositionSizer proposes a notional from signal quality and account equity
type PositionSizer struct {
	limits config.RiskLimits
}

// NewPositionSizer creates a sizer over limits
func NewPositionSizer(limits config.RiskLimits) *PositionSizer {
	return &PositionSizer{limits: limits}
}

// Size returns equity * riskPerTrade * strength * confidence / maxLossFraction,
// reduced so that notional * maxLossFraction never exceeds the remaining
// daily loss budget, and floored to the lot step. A result at or below the
// minimum tradable notional is reported as zero.
func (s *PositionSizer) Size(in SizeInput) SizeResult {
	for _, v := range []float64{in.Strength, in.Confidence, in.Equity, in.RemainingLoss} {
		if !finite(v) {
			return SizeResult{Reason: ReasonSizeBelowMinimum + ": non-finite sizing input"}
		}
	}
	lossFraction := decimal.NewFromFloat(s.limits.MaxLossFraction)
	budget := decimal.NewFromFloat(in.RemainingLoss)

	if !budget.IsPositive() {
		return SizeResult{Reason: fmt.Sprintf("%s: %s, remaining daily loss budget %.2f",
			ReasonSizeBelowMinimum, ReasonLossBudgetExhausted, in.RemainingLoss)}
	}

	raw := decimal.NewFromFloat(in.Equity).
		Mul(decimal.NewFromFloat(s.limits.RiskPerTrade)).
		Mul(decimal.NewFromFloat(in.Strength)).
		Mul(decimal.NewFromFloat(in.Confidence)).
		Div(lossFraction)

	res := SizeResult{Raw: toFloat(raw)}
	size := raw
	if maxByBudget := budget.Div(lossFraction); size.GreaterThan(maxByBudget) {
		size = maxByBudget
		res.LossCapped = true
	}
	size = floorToStep(size, s.limits.LotStep)

	if !size.GreaterThan(decimal.NewFromFloat(s.limits.MinTradableNotional)) {
		res.Reason = fmt.Sprintf("%s: proposed notional %s is not above minimum %.2f",
			ReasonSizeBelowMinimum, size.StringFixed(2), s.limits.MinTradableNotional)
		return res
	}
	res.Notional = toFloat(size)

	logging.RiskContext(in.Symbol, s.limits.RiskPerTrade, res.Notional).Debug("position sized",
		"raw", res.Raw,
		"loss_capped", res.LossCapped,
		"remaining_loss", in.RemainingLoss)
	return res
}

// floorToStep rounds v down to a multiple of step, or truncates it when
// step is zero
func floorToStep(v decimal.Decimal, step float64) decimal.Decimal {
	if step <= 0 {
		return v.Truncate(notionalPrecision)
	}
	d := decimal.NewFromFloat(step)
	return v.Div(d).Floor().Mul(d)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
