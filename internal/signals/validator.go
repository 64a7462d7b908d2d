package signals

import (
	"fmt"
	"math"
	"strings"

	"trade-guard/internal/guarderr"
)

// Validator performs structural checks on a candidate signal before it
// reaches risk control
type Validator struct{}

// NewValidator creates a signal validator
func NewValidator() *Validator {
	return &Validator{}
}

// Problems lists every violated rule; empty means the signal is sound
func (v *Validator) Problems(sig Signal) []string {
	var problems []string
	if strings.TrimSpace(sig.Symbol) == "" {
		problems = append(problems, "symbol is empty")
	}
	if !sig.Direction.Valid() {
		problems = append(problems, fmt.Sprintf("unknown direction %q", sig.Direction))
	}
	if !unit(sig.Strength) {
		problems = append(problems, fmt.Sprintf("strength %v outside [0,1]", sig.Strength))
	}
	if !unit(sig.Confidence) {
		problems = append(problems, fmt.Sprintf("confidence %v outside [0,1]", sig.Confidence))
	}
	if sig.Features == nil {
		problems = append(problems, "source features missing")
	}
	if sig.GeneratedAt.IsZero() {
		problems = append(problems, "generation time missing")
	}
	return problems
}

// Validate returns an ErrValidationFailed error listing every problem
func (v *Validator) Validate(sig Signal) error {
	problems := v.Problems(sig)
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: signal %s: %s", guarderr.ErrValidationFailed, sig.Symbol, strings.Join(problems, "; "))
}

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
