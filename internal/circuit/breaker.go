package circuit

import (
	"context"
	"fmt"
	"time"

	"trade-guard/internal/events"
	"trade-guard/internal/guarderr"
	"trade-guard/internal/logging"
	"trade-guard/internal/retry"
	"trade-guard/internal/state"
)

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold  int           // consecutive execution failures before opening
	CoolDown          time.Duration // first open period
	MaxCoolDown       time.Duration // cap for grown cool-downs
	BackoffMultiplier float64
	Jitter            float64
	TrialTimeout      time.Duration // a trial with no report after this frees the slot
}

// DefaultConfig returns safe defaults
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  3,
		CoolDown:          5 * time.Minute,
		MaxCoolDown:       time.Hour,
		BackoffMultiplier: 2,
		Jitter:            0.2,
		TrialTimeout:      10 * time.Minute,
	}
}

// Result is the outcome of a breaker check
type Result struct {
	Allowed bool
	Status  state.BreakerStatus
	Reason  string
	// Trial is true when the caller must claim the half-open trial slot
	// with BeginTrial before executing.
	Trial bool
}

// Breaker suspends an execution channel after a run of failed orders. All
// transitions are computed from the stored record and the clock on each
// call; there is no background timer.
type Breaker struct {
	store   state.Store
	channel string
	config  Config
	policy  retry.Policy
	bus     *events.EventBus
	now     func() time.Time
	log     *logging.Logger
}

// NewBreaker creates a breaker for one execution channel
func NewBreaker(store state.Store, channel string, cfg Config, bus *events.EventBus) *Breaker {
	return &Breaker{
		store:   store,
		channel: channel,
		config:  cfg,
		policy: retry.Policy{
			InitialInterval: cfg.CoolDown,
			MaxInterval:     cfg.MaxCoolDown,
			Multiplier:      cfg.BackoffMultiplier,
			Jitter:          cfg.Jitter,
		},
		bus: bus,
		now: time.Now,
		log: logging.CircuitContext(channel),
	}
}

// SetClock replaces the time source
func (b *Breaker) SetClock(now func() time.Time) {
	b.now = now
}

// Channel returns the execution channel this breaker guards
func (b *Breaker) Channel() string {
	return b.channel
}

func (b *Breaker) cooldown(cb state.CircuitBreakerState) time.Duration {
	if cb.Cooldown <= 0 {
		return b.config.CoolDown
	}
	return cb.Cooldown
}

// effective resolves OPEN -> HALF_OPEN once the cool-down has elapsed
func (b *Breaker) effective(cb state.CircuitBreakerState, now time.Time) state.BreakerStatus {
	if cb.Status == state.BreakerOpen && cb.OpenedAt != nil && now.Sub(*cb.OpenedAt) >= b.cooldown(cb) {
		return state.BreakerHalfOpen
	}
	return cb.Status
}

func (b *Breaker) trialBusy(cb state.CircuitBreakerState, now time.Time) bool {
	if cb.TrialStartedAt == nil {
		return false
	}
	if b.config.TrialTimeout > 0 && now.Sub(*cb.TrialStartedAt) >= b.config.TrialTimeout {
		return false
	}
	return true
}

// Check reports whether the channel may take a trade. It never writes.
func (b *Breaker) Check(ctx context.Context) (Result, error) {
	cb, err := b.store.GetCircuitBreaker(ctx, b.channel)
	if err != nil {
		return Result{}, err
	}
	now := b.now()

	switch b.effective(cb, now) {
	case state.BreakerOpen:
		remaining := b.cooldown(cb) - now.Sub(*cb.OpenedAt)
		return Result{
			Status: state.BreakerOpen,
			Reason: fmt.Sprintf("circuit breaker open on %s after %d consecutive execution failures, cooldown remaining: %v",
				b.channel, cb.ConsecutiveFailures, remaining.Round(time.Second)),
		}, nil
	case state.BreakerHalfOpen:
		if b.trialBusy(cb, now) {
			return Result{
				Status: state.BreakerHalfOpen,
				Reason: fmt.Sprintf("circuit breaker half-open on %s, trial trade already in progress", b.channel),
			}, nil
		}
		return Result{Allowed: true, Status: state.BreakerHalfOpen, Trial: true}, nil
	default:
		return Result{Allowed: true, Status: state.BreakerClosed}, nil
	}
}

// BeginTrial claims the single half-open trial slot. It returns false when
// another caller claimed it first or the breaker is no longer half-open.
func (b *Breaker) BeginTrial(ctx context.Context) (bool, error) {
	cb, err := b.store.GetCircuitBreaker(ctx, b.channel)
	if err != nil {
		return false, err
	}
	now := b.now()
	if b.effective(cb, now) != state.BreakerHalfOpen || b.trialBusy(cb, now) {
		return false, nil
	}

	next := cb
	next.Status = state.BreakerHalfOpen
	next.TrialStartedAt = &now
	ok, err := b.store.SwapCircuitBreaker(ctx, cb.Version, next)
	if err != nil {
		return false, err
	}
	if ok {
		b.log.Info("half-open trial granted")
		b.publish(next, "trial_started")
	}
	return ok, nil
}

// RecordSuccess closes the breaker and resets the failure counter
func (b *Breaker) RecordSuccess(ctx context.Context) error {
	return b.update(ctx, func(cb state.CircuitBreakerState, now time.Time) (state.CircuitBreakerState, string) {
		if b.effective(cb, now) == state.BreakerOpen {
			// a late report from before the breaker opened proves nothing
			return cb, ""
		}
		wasClosed := cb.Status == state.BreakerClosed && cb.ConsecutiveFailures == 0
		cb.Status = state.BreakerClosed
		cb.ConsecutiveFailures = 0
		cb.OpenedAt = nil
		cb.Cooldown = 0
		cb.ReopenCount = 0
		cb.TrialStartedAt = nil
		if wasClosed {
			return cb, ""
		}
		return cb, "closed"
	})
}

// RecordFailure counts an execution failure. Guard denials are not failures
// and must never be reported here.
func (b *Breaker) RecordFailure(ctx context.Context, cause error) error {
	if cause != nil {
		b.log.Warn("execution failure recorded", "error", cause)
	}
	return b.update(ctx, func(cb state.CircuitBreakerState, now time.Time) (state.CircuitBreakerState, string) {
		cb.ConsecutiveFailures++

		switch b.effective(cb, now) {
		case state.BreakerHalfOpen:
			// trial failed: reopen with a grown cool-down
			cb.ReopenCount++
			cb.Status = state.BreakerOpen
			cb.OpenedAt = &now
			cb.Cooldown = b.policy.Interval(cb.ReopenCount)
			cb.TrialStartedAt = nil
			return cb, "reopened"
		case state.BreakerOpen:
			return cb, ""
		default:
			if cb.ConsecutiveFailures >= b.config.FailureThreshold {
				cb.Status = state.BreakerOpen
				cb.OpenedAt = &now
				cb.Cooldown = b.policy.Interval(0)
				cb.ReopenCount = 0
				return cb, "opened"
			}
			return cb, ""
		}
	})
}

// update applies fn under compare-and-swap, retrying on version conflicts
func (b *Breaker) update(ctx context.Context, fn func(state.CircuitBreakerState, time.Time) (state.CircuitBreakerState, string)) error {
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cb, err := b.store.GetCircuitBreaker(ctx, b.channel)
		if err != nil {
			return err
		}
		next, action := fn(cb, b.now())
		next.Channel = b.channel
		ok, err := b.store.SwapCircuitBreaker(ctx, cb.Version, next)
		if err != nil {
			return err
		}
		if ok {
			if action != "" {
				b.log.Info("circuit breaker transition",
					"action", action,
					"status", string(next.Status),
					"consecutive_failures", next.ConsecutiveFailures,
					"cooldown", next.Cooldown.String())
				b.publish(next, action)
			}
			return nil
		}
	}
	return guarderr.StateWrite("circuit_breaker", fmt.Errorf("version conflict on %s after %d attempts", b.channel, maxAttempts))
}

func (b *Breaker) publish(cb state.CircuitBreakerState, action string) {
	if b.bus == nil {
		return
	}
	b.bus.PublishCircuitBreaker(b.channel, string(cb.Status), action, cb.ConsecutiveFailures, cb.Cooldown)
}

// Stats summarizes the breaker for operators
type Stats struct {
	Channel             string              `json:"channel"`
	StoredStatus        state.BreakerStatus `json:"stored_status"`
	EffectiveStatus     state.BreakerStatus `json:"effective_status"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	OpenedAt            *time.Time          `json:"opened_at,omitempty"`
	Cooldown            string              `json:"cooldown"`
	ReopenCount         int                 `json:"reopen_count"`
	TrialInProgress     bool                `json:"trial_in_progress"`
}

// GetStats returns current statistics
func (b *Breaker) GetStats(ctx context.Context) (Stats, error) {
	cb, err := b.store.GetCircuitBreaker(ctx, b.channel)
	if err != nil {
		return Stats{}, err
	}
	now := b.now()
	return Stats{
		Channel:             b.channel,
		StoredStatus:        cb.Status,
		EffectiveStatus:     b.effective(cb, now),
		ConsecutiveFailures: cb.ConsecutiveFailures,
		OpenedAt:            cb.OpenedAt,
		Cooldown:            cb.Cooldown.String(),
		ReopenCount:         cb.ReopenCount,
		TrialInProgress:     b.trialBusy(cb, now),
	}, nil
}
