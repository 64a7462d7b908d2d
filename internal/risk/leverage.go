package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trade-guard/config"
)

const ReasonLeverageClamped = "LEVERAGE_CLAMPED"

// LeverageResult reports the clamped notional
type LeverageResult struct {
	Notional    float64 `json:"notional"`
	Cap         float64 `json:"cap"` // max leverage applied
	Clamped     bool    `json:"clamped"`
	ClampAmount float64 `json:"clamp_amount"`
	Note        string  `json:"note,omitempty"`
}

// LeverageManager keeps notional / equity within the symbol, class and
// account leverage caps
type LeverageManager struct {
	limits config.RiskLimits
}

// NewLeverageManager creates a leverage manager over limits
func NewLeverageManager(limits config.RiskLimits) *LeverageManager {
	return &LeverageManager{limits: limits}
}

// Clamp reduces notional to equity * cap when it would exceed it
func (m *LeverageManager) Clamp(symbol string, notional, equity float64) LeverageResult {
	limit := m.limits.LeverageCap(symbol)
	res := LeverageResult{Notional: notional, Cap: limit}
	if !finite(notional) || !finite(equity) {
		res.Notional = 0
		return res
	}

	maxNotional := decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(limit))
	if maxNotional.IsNegative() {
		maxNotional = decimal.Zero
	}
	n := decimal.NewFromFloat(notional)
	if !n.GreaterThan(maxNotional) {
		return res
	}

	clamped := floorToStep(maxNotional, m.limits.LotStep)
	res.Notional = toFloat(clamped)
	res.Clamped = true
	res.ClampAmount = toFloat(n.Sub(clamped))
	res.Note = fmt.Sprintf("%s: %s notional reduced by %s to %s (max leverage %.2fx)",
		ReasonLeverageClamped, symbol, n.Sub(clamped).StringFixed(2), clamped.StringFixed(2), limit)
	return res
}
