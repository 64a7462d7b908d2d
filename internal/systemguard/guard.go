// Package systemguard implements the process-wide kill switch. The record
// lives in the state store; soft disallows expire at read time and hard trips
// clear only through Recover or an operator Reset.
package systemguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trade-guard/internal/events"
	"trade-guard/internal/guarderr"
	"trade-guard/internal/logging"
	"trade-guard/internal/state"
)

// Status is the derived guard state
type Status string

const (
	StatusActive         Status = "ACTIVE"
	StatusDisallowedSoft Status = "DISALLOWED_SOFT"
	StatusTripped        Status = "TRIPPED"
)

// Result is the outcome of a guard check
type Result struct {
	Allowed bool          `json:"allowed"`
	Enabled bool          `json:"enabled"`
	Status  Status        `json:"status"`
	Reason  string        `json:"reason,omitempty"`
	Trigger state.Trigger `json:"trigger,omitempty"`
}

// HardTripped reports a guard that is both disallowed and disabled
func (r Result) HardTripped() bool {
	return !r.Allowed && !r.Enabled
}

// RecoveryResult is returned by Recover
type RecoveryResult struct {
	Recovered bool   `json:"recovered"`
	Detail    string `json:"detail"`
}

// Guard evaluates and transitions the system guard record
type Guard struct {
	store      state.Store
	conditions map[state.Trigger]Condition
	bus        *events.EventBus
	now        func() time.Time
	log        *logging.Logger
}

// New creates a guard over store
func New(store state.Store, bus *events.EventBus) *Guard {
	return &Guard{
		store:      store,
		conditions: make(map[state.Trigger]Condition),
		bus:        bus,
		now:        time.Now,
		log:        logging.WithComponent("system_guard"),
	}
}

// SetClock replaces the time source
func (g *Guard) SetClock(now func() time.Time) {
	g.now = now
}

// RegisterCondition sets the recovery precondition for trigger. Triggers
// without a condition (manual) never auto-recover.
func (g *Guard) RegisterCondition(trigger state.Trigger, c Condition) {
	g.conditions[trigger] = c
}

func evaluate(s state.SystemGuardState, now time.Time) Result {
	s = s.Normalize()
	switch {
	case !s.TradingEnabled:
		reason := s.Reason
		if reason == "" {
			reason = "trading disabled"
		}
		return Result{Status: StatusTripped, Trigger: s.Trigger,
			Reason: fmt.Sprintf("system guard tripped (%s): %s", triggerName(s.Trigger), reason)}
	case !s.Allowed:
		if s.SoftUntil != nil && !now.Before(*s.SoftUntil) {
			return Result{Allowed: true, Enabled: true, Status: StatusActive}
		}
		reason := s.Reason
		if reason == "" {
			reason = "trading paused"
		}
		msg := "system guard cooling off: " + reason
		if s.SoftUntil != nil {
			msg += fmt.Sprintf(" (until %s)", s.SoftUntil.UTC().Format(time.RFC3339))
		}
		return Result{Enabled: true, Status: StatusDisallowedSoft, Trigger: s.Trigger, Reason: msg}
	default:
		return Result{Allowed: true, Enabled: true, Status: StatusActive}
	}
}

func triggerName(t state.Trigger) string {
	if t == state.TriggerNone {
		return "unspecified"
	}
	return string(t)
}

// Check reads the guard record and derives its status. It never writes.
func (g *Guard) Check(ctx context.Context) (Result, error) {
	s, err := g.store.GetSystemGuard(ctx)
	if err != nil {
		return Result{}, err
	}
	return evaluate(s, g.now()), nil
}

// TripSoft pauses trading until now+cooldown while leaving it enabled. A
// hard-tripped guard is left as it is; an active pause is only extended.
func (g *Guard) TripSoft(ctx context.Context, trigger state.Trigger, reason string, cooldown time.Duration) error {
	return g.update(ctx, func(s state.SystemGuardState, now time.Time) (state.SystemGuardState, string) {
		if !s.TradingEnabled {
			return s, ""
		}
		until := now.Add(cooldown)
		if !s.Allowed && s.SoftUntil != nil && s.SoftUntil.After(until) {
			return s, ""
		}
		s.Allowed = false
		s.Reason = reason
		s.Trigger = trigger
		s.TrippedAt = &now
		s.SoftUntil = &until
		return s, "soft_trip"
	})
}

// TripHard disables trading until recovery or an operator reset
func (g *Guard) TripHard(ctx context.Context, trigger state.Trigger, reason string) error {
	return g.update(ctx, func(s state.SystemGuardState, now time.Time) (state.SystemGuardState, string) {
		if !s.TradingEnabled && s.Trigger == state.TriggerManual && trigger != state.TriggerManual {
			// an automatic trip never overrides the operator's kill switch
			return s, ""
		}
		s.Allowed = false
		s.TradingEnabled = false
		s.Reason = reason
		s.Trigger = trigger
		s.TrippedAt = &now
		s.SoftUntil = nil
		return s, "hard_trip"
	})
}

// Recover attempts one auto-recovery transition. It is a no-op returning
// Recovered=false when the guard is not hard-tripped. Concurrent callers race
// on the record version so at most one of them observes Recovered=true.
func (g *Guard) Recover(ctx context.Context) (RecoveryResult, error) {
	s, err := g.store.GetSystemGuard(ctx)
	if err != nil {
		return RecoveryResult{}, err
	}
	if s.TradingEnabled {
		return RecoveryResult{Detail: "not tripped"}, nil
	}

	now := g.now()
	cleared, detail, err := g.precondition(ctx, s.Trigger)
	if err != nil {
		return RecoveryResult{}, err
	}
	if !cleared {
		g.log.Warn("auto-recovery refused",
			"trigger", string(s.Trigger),
			"error", fmt.Errorf("%w: %s", guarderr.ErrRecoveryFailed, detail))
		stamped := s
		stamped.LastRecoveryAttemptAt = &now
		if _, err := g.store.SwapSystemGuard(ctx, s.Version, stamped); err != nil {
			return RecoveryResult{}, err
		}
		g.publishRecovery(false, detail)
		return RecoveryResult{Detail: detail}, nil
	}

	next := state.ActiveGuardState()
	next.LastRecoveryAttemptAt = &now
	ok, err := g.store.SwapSystemGuard(ctx, s.Version, next)
	if err != nil {
		return RecoveryResult{}, err
	}
	if !ok {
		return RecoveryResult{Detail: "recovery already applied by another caller"}, nil
	}

	g.log.Info("system guard auto-recovered", "trigger", string(s.Trigger), "detail", detail)
	g.publish(next, "recovered")
	g.publishRecovery(true, detail)
	return RecoveryResult{Recovered: true, Detail: detail}, nil
}

func (g *Guard) precondition(ctx context.Context, trigger state.Trigger) (bool, string, error) {
	c, ok := g.conditions[trigger]
	if !ok {
		if trigger == state.TriggerManual {
			return false, "manual trip requires an operator reset", nil
		}
		return false, fmt.Sprintf("no recovery condition for trigger %q", triggerName(trigger)), nil
	}
	return c.Cleared(ctx)
}

// Reset is the operator override: it clears any soft or hard trip
func (g *Guard) Reset(ctx context.Context, operator string) error {
	if operator == "" {
		return errors.New("reset requires an operator name")
	}
	return g.update(ctx, func(s state.SystemGuardState, now time.Time) (state.SystemGuardState, string) {
		next := state.ActiveGuardState()
		next.LastRecoveryAttemptAt = s.LastRecoveryAttemptAt
		g.log.Info("system guard reset by operator", "operator", operator, "previous_trigger", string(s.Trigger))
		return next, "reset"
	})
}

func (g *Guard) update(ctx context.Context, fn func(state.SystemGuardState, time.Time) (state.SystemGuardState, string)) error {
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		s, err := g.store.GetSystemGuard(ctx)
		if err != nil {
			return err
		}
		next, action := fn(s, g.now())
		if action == "" {
			return nil
		}
		ok, err := g.store.SwapSystemGuard(ctx, s.Version, next)
		if err != nil {
			return err
		}
		if ok {
			g.log.Info("system guard transition",
				"action", action,
				"trigger", string(next.Trigger),
				"reason", next.Reason)
			g.publish(next, action)
			return nil
		}
	}
	return guarderr.StateWrite("system_guard", fmt.Errorf("version conflict after %d attempts", maxAttempts))
}

func (g *Guard) publish(s state.SystemGuardState, action string) {
	if g.bus == nil {
		return
	}
	r := evaluate(s, g.now())
	g.bus.PublishSystemGuard(action, string(r.Status), string(s.Trigger), s.Reason)
}

func (g *Guard) publishRecovery(recovered bool, detail string) {
	if g.bus == nil {
		return
	}
	g.bus.PublishRecoveryAttempt(recovered, detail)
}
