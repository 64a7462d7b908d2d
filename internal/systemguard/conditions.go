package systemguard

import (
	"context"
	"fmt"
)

// Condition re-validates that the cause of a hard trip has cleared
type Condition interface {
	Cleared(ctx context.Context) (bool, string, error)
}

// ConditionFunc adapts a function to Condition
type ConditionFunc func(ctx context.Context) (bool, string, error)

func (f ConditionFunc) Cleared(ctx context.Context) (bool, string, error) {
	return f(ctx)
}

// LossReader reports today's realized loss
type LossReader interface {
	TodayLoss(ctx context.Context) (float64, error)
}

// LossBelow clears a catastrophic-loss trip once today's realized loss is
// under threshold, which in practice means the UTC day has rolled over.
func LossBelow(r LossReader, threshold float64) Condition {
	return ConditionFunc(func(ctx context.Context) (bool, string, error) {
		loss, err := r.TodayLoss(ctx)
		if err != nil {
			return false, "", err
		}
		if loss >= threshold {
			return false, fmt.Sprintf("daily realized loss %.2f still at or above %.2f", loss, threshold), nil
		}
		return true, fmt.Sprintf("daily realized loss %.2f below %.2f", loss, threshold), nil
	})
}

// HealthProbe checks an external dependency such as the broker session
type HealthProbe interface {
	Healthy(ctx context.Context) error
}

// ProbeHealthy clears a broker-session trip when the probe passes. A failing
// probe is a refused precondition, not an infrastructure error.
func ProbeHealthy(p HealthProbe) Condition {
	return ConditionFunc(func(ctx context.Context) (bool, string, error) {
		if err := p.Healthy(ctx); err != nil {
			return false, fmt.Sprintf("broker session still unhealthy: %v", err), nil
		}
		return true, "broker session healthy", nil
	})
}
