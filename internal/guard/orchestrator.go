// Package guard is the top-level trade gate. It combines the system guard,
// the daily trade limit, the circuit breaker and the risk control group into
// one decision, and books executions back into guard state.
package guard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"trade-guard/config"
	"trade-guard/internal/circuit"
	"trade-guard/internal/dailylimit"
	"trade-guard/internal/events"
	"trade-guard/internal/guarderr"
	"trade-guard/internal/logging"
	"trade-guard/internal/risk"
	"trade-guard/internal/signals"
	"trade-guard/internal/state"
	"trade-guard/internal/systemguard"
)

// SystemGuard is the kill switch the orchestrator consults
type SystemGuard interface {
	Check(ctx context.Context) (systemguard.Result, error)
	Recover(ctx context.Context) (systemguard.RecoveryResult, error)
	TripSoft(ctx context.Context, trigger state.Trigger, reason string, cooldown time.Duration) error
	TripHard(ctx context.Context, trigger state.Trigger, reason string) error
}

// DailyLimit is the daily trade limit check
type DailyLimit interface {
	CheckDailyTradeLimit(ctx context.Context) (dailylimit.Result, error)
	RemainingLossBudget(ctx context.Context) (float64, error)
}

// Breaker is the execution channel circuit breaker
type Breaker interface {
	Channel() string
	Check(ctx context.Context) (circuit.Result, error)
	BeginTrial(ctx context.Context) (bool, error)
	RecordSuccess(ctx context.Context) error
	RecordFailure(ctx context.Context, cause error) error
}

// RiskGroup sizes and validates a signal
type RiskGroup interface {
	Evaluate(ctx context.Context, sig signals.Signal, equity, remainingLoss float64) (risk.Verdict, error)
}

// Config holds the orchestrator's own thresholds
type Config struct {
	Account          string
	Limits           config.RiskLimits
	CatastrophicLoss float64       // daily realized loss that hard-trips the system guard
	LargeTradeLoss   float64       // single-trade loss that soft-trips it, 0 disables
	SoftCoolDown     time.Duration // soft trip duration
	ReservationTTL   time.Duration // how long Reserve holds capacity, default 2m
}

// Deps are the collaborators wired into the orchestrator
type Deps struct {
	Store    state.Store
	Locker   state.Locker
	System   SystemGuard
	Daily    DailyLimit
	Breaker  Breaker
	Risk     RiskGroup
	Bus      *events.EventBus
	Recorder Recorder // optional
}

// Orchestrator evaluates guards for one account
type Orchestrator struct {
	cfg      Config
	store    state.Store
	locker   state.Locker
	system   SystemGuard
	daily    DailyLimit
	breaker  Breaker
	risk     RiskGroup
	bus      *events.EventBus
	recorder Recorder
	now      func() time.Time
	log      *logging.Logger
}

// New creates an orchestrator
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 2 * time.Minute
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    deps.Store,
		locker:   deps.Locker,
		system:   deps.System,
		daily:    deps.Daily,
		breaker:  deps.Breaker,
		risk:     deps.Risk,
		bus:      deps.Bus,
		recorder: deps.Recorder,
		now:      time.Now,
		log:      logging.GuardContext(cfg.Account),
	}
}

// SetClock replaces the time source
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// CheckAllGuards evaluates the system guard (with at most one auto-recovery
// pass on a hard trip) and the daily trade limit. Both checks always run so
// the caller sees every active reason. Storage failures are returned as
// ErrGuardEvaluationFailed; this never defaults to allowed.
func (o *Orchestrator) CheckAllGuards(ctx context.Context) (Decision, error) {
	d, err := o.checkAll(ctx)
	if err != nil {
		return Decision{}, err
	}
	o.finish(ctx, &d)
	return d, nil
}

func (o *Orchestrator) checkAll(ctx context.Context) (Decision, error) {
	now := o.now()
	d := Decision{ID: newID(now), Account: o.cfg.Account, EvaluatedAt: now.UTC(), Reasons: []string{}}

	sg, err := o.system.Check(ctx)
	if err != nil {
		return Decision{}, guarderr.EvaluationFailed("system_guard", err)
	}
	if sg.HardTripped() {
		rr, err := o.system.Recover(ctx)
		if err != nil {
			return Decision{}, guarderr.EvaluationFailed("recovery", err)
		}
		if rr.Recovered {
			d.Recovered = true
			if sg, err = o.system.Check(ctx); err != nil {
				return Decision{}, guarderr.EvaluationFailed("system_guard", err)
			}
		}
	}

	dl, err := o.daily.CheckDailyTradeLimit(ctx)
	if err != nil {
		return Decision{}, guarderr.EvaluationFailed("daily_limit", err)
	}

	if !sg.Allowed {
		d.Reasons = append(d.Reasons, sg.Reason)
	}
	if !dl.Allowed {
		d.Reasons = append(d.Reasons, dl.Reason)
	}
	d.Allowed = len(d.Reasons) == 0
	return d, nil
}

// Evaluate runs the full per-trade gate for sig: CheckAllGuards, the circuit
// breaker and the risk control group. When the breaker is half-open and
// everything else approves, the trial slot is claimed before returning.
// Callers that execute on the result should hold the account lock, as Cycle
// and Reserve do.
func (o *Orchestrator) Evaluate(ctx context.Context, sig signals.Signal, equity float64) (Decision, error) {
	d, err := o.evaluate(ctx, sig, equity, true)
	if err != nil {
		return Decision{}, err
	}
	o.finish(ctx, &d)
	return d, nil
}

// Preview runs the same gate as Evaluate but claims nothing: a half-open
// trial stays free and no capacity is held. Trial in the result means the
// trade would be the trial.
func (o *Orchestrator) Preview(ctx context.Context, sig signals.Signal, equity float64) (Decision, error) {
	d, err := o.evaluate(ctx, sig, equity, false)
	if err != nil {
		return Decision{}, err
	}
	o.finish(ctx, &d)
	return d, nil
}

// Reserve evaluates sig under the account lock and, when approved, holds a
// trade slot and the sized notional until the fill is booked with the
// decision ID, the reservation is released, or ReservationTTL passes. Two
// executors racing for the last slot cannot both be approved.
func (o *Orchestrator) Reserve(ctx context.Context, sig signals.Signal, equity float64) (Decision, error) {
	unlock, err := o.locker.Lock(ctx, o.lockKey())
	if err != nil {
		return Decision{}, guarderr.EvaluationFailed("lock", err)
	}
	defer unlock()

	d, err := o.evaluate(ctx, sig, equity, true)
	if err != nil {
		return Decision{}, err
	}
	if d.Allowed {
		until := o.now().Add(o.cfg.ReservationTTL).UTC()
		if err := o.store.PutReservation(ctx, state.Reservation{
			ID:        d.ID,
			Account:   o.cfg.Account,
			Symbol:    sig.Symbol,
			Class:     o.cfg.Limits.ClassOf(sig.Symbol),
			Notional:  *d.RiskAdjustedSize,
			Trial:     d.Trial,
			ExpiresAt: until,
		}); err != nil {
			return Decision{}, guarderr.EvaluationFailed("reservation", err)
		}
		d.ReservedUntil = &until
	}
	o.finish(ctx, &d)
	return d, nil
}

// Release frees the capacity held for decisionID. It reports whether a
// reservation was still outstanding.
func (o *Orchestrator) Release(ctx context.Context, decisionID string) (bool, error) {
	ok, err := o.store.ReleaseReservation(ctx, o.cfg.Account, decisionID)
	if err != nil {
		return false, fmt.Errorf("failed to release reservation %s: %w", decisionID, err)
	}
	if ok {
		o.log.Info("reservation released", "decision_id", decisionID)
	}
	return ok, nil
}

func (o *Orchestrator) lockKey() string {
	return "guard:" + o.cfg.Account
}

func (o *Orchestrator) evaluate(ctx context.Context, sig signals.Signal, equity float64, claim bool) (Decision, error) {
	d, err := o.checkAll(ctx)
	if err != nil {
		return Decision{}, err
	}
	d.Symbol = sig.Symbol

	br, err := o.breaker.Check(ctx)
	if err != nil {
		return Decision{}, guarderr.EvaluationFailed("circuit_breaker", err)
	}
	if !br.Allowed {
		d.Reasons = append(d.Reasons, br.Reason)
	}

	remaining, err := o.daily.RemainingLossBudget(ctx)
	if err != nil {
		return Decision{}, guarderr.EvaluationFailed("daily_limit", err)
	}
	v, err := o.risk.Evaluate(ctx, sig, equity, remaining)
	if err != nil {
		return Decision{}, guarderr.EvaluationFailed("risk", err)
	}
	d.Reasons = append(d.Reasons, v.Reasons...)
	d.Adjustments = v.Adjustments
	d.RiskAdjustedSize = v.Size
	d.Allowed = len(d.Reasons) == 0

	switch {
	case !d.Allowed || !br.Trial:
	case !claim:
		d.Trial = true
	default:
		ok, err := o.breaker.BeginTrial(ctx)
		if err != nil {
			return Decision{}, guarderr.EvaluationFailed("circuit_breaker", err)
		}
		if ok {
			d.Trial = true
		} else {
			d.Allowed = false
			d.Reasons = append(d.Reasons, fmt.Sprintf("circuit breaker half-open on %s, trial trade claimed by another cycle",
				o.breaker.Channel()))
		}
	}
	return d, nil
}

// Cycle holds the account lock across evaluate -> execute -> record so two
// concurrent cycles cannot both pass a cap they jointly exceed. A denial
// returns the decision without calling exec. An executor failure is booked
// against the breaker and returned wrapped in ErrExecutionFailed.
func (o *Orchestrator) Cycle(ctx context.Context, sig signals.Signal, equity float64, exec Executor) (Decision, error) {
	unlock, err := o.locker.Lock(ctx, o.lockKey())
	if err != nil {
		return Decision{}, guarderr.EvaluationFailed("lock", err)
	}
	defer unlock()

	d, err := o.Evaluate(ctx, sig, equity)
	if err != nil || !d.Allowed {
		return d, err
	}

	order := Order{
		DecisionID: d.ID,
		Account:    o.cfg.Account,
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		Notional:   *d.RiskAdjustedSize,
		Trial:      d.Trial,
	}
	fill, execErr := exec.Execute(ctx, order)
	if execErr != nil {
		if err := o.RecordFailure(ctx, o.breaker.Channel(), sig.Symbol, execErr); err != nil {
			return d, err
		}
		return d, fmt.Errorf("%w: %s: %w", guarderr.ErrExecutionFailed, sig.Symbol, execErr)
	}

	if fill.Symbol == "" {
		fill.Symbol = sig.Symbol
	}
	if err := o.RecordExecution(ctx, fill); err != nil {
		return d, err
	}
	return d, nil
}

// RecordExecution books an executed trade: breaker success first, then daily
// counters, exposure and the release of fill.DecisionID's reservation in one
// atomic write, then loss-driven system guard trips. Breaker success is
// idempotent, so a caller retrying after an error books the fill once.
func (o *Orchestrator) RecordExecution(ctx context.Context, fill Fill) error {
	if fill.Symbol == "" {
		return errors.New("fill has no symbol")
	}
	if err := o.checkChannel(fill.Channel); err != nil {
		return err
	}

	if err := o.breaker.RecordSuccess(ctx); err != nil {
		return fmt.Errorf("failed to record breaker success: %w", err)
	}

	loss := math.Max(0, -fill.RealizedPnL)
	rec, err := o.store.RecordFill(ctx, state.FillRecord{
		Account:       o.cfg.Account,
		Date:          o.now().UTC().Format(state.DateLayout),
		RealizedLoss:  loss,
		Symbol:        fill.Symbol,
		Class:         o.cfg.Limits.ClassOf(fill.Symbol),
		ExposureDelta: fill.Notional,
		ReservationID: fill.DecisionID,
	})
	if err != nil {
		return fmt.Errorf("failed to record fill for %s: %w", fill.Symbol, err)
	}

	switch {
	case o.cfg.CatastrophicLoss > 0 && rec.RealizedLoss >= o.cfg.CatastrophicLoss:
		reason := fmt.Sprintf("daily realized loss %.2f reached catastrophic threshold %.2f", rec.RealizedLoss, o.cfg.CatastrophicLoss)
		if err := o.system.TripHard(ctx, state.TriggerCatastrophicLoss, reason); err != nil {
			return fmt.Errorf("failed to trip system guard: %w", err)
		}
	case o.cfg.LargeTradeLoss > 0 && loss >= o.cfg.LargeTradeLoss:
		reason := fmt.Sprintf("loss of %.2f on %s exceeded single-trade threshold %.2f", loss, fill.Symbol, o.cfg.LargeTradeLoss)
		if err := o.system.TripSoft(ctx, state.TriggerLargeLoss, reason, o.cfg.SoftCoolDown); err != nil {
			return fmt.Errorf("failed to pause system guard: %w", err)
		}
	}

	o.log.Info("execution recorded",
		"decision_id", fill.DecisionID,
		"symbol", fill.Symbol,
		"notional", fill.Notional,
		"realized_pnl", fill.RealizedPnL,
		"trade_count", rec.TradeCount,
		"daily_loss", rec.RealizedLoss)
	if o.bus != nil {
		o.bus.PublishTradeExecuted(o.cfg.Account, fill.Symbol, fill.Notional, fill.RealizedPnL)
	}
	return nil
}

// RecordFailure books an order failure against the breaker. A lost broker
// session also hard-trips the system guard. Guard denials must never be
// reported here.
func (o *Orchestrator) RecordFailure(ctx context.Context, channel, symbol string, cause error) error {
	if err := o.checkChannel(channel); err != nil {
		return err
	}
	if errors.Is(cause, guarderr.ErrBrokerSession) {
		reason := fmt.Sprintf("broker session lost: %v", cause)
		if err := o.system.TripHard(ctx, state.TriggerBrokerSession, reason); err != nil {
			return fmt.Errorf("failed to trip system guard: %w", err)
		}
	}
	if err := o.breaker.RecordFailure(ctx, cause); err != nil {
		return fmt.Errorf("failed to record breaker failure: %w", err)
	}
	if o.bus != nil {
		o.bus.PublishExecutionFailed(o.breaker.Channel(), symbol, cause)
	}
	return nil
}

func (o *Orchestrator) checkChannel(channel string) error {
	if channel != "" && channel != o.breaker.Channel() {
		return guarderr.Configuration("channel", "unknown execution channel %q", channel)
	}
	return nil
}

// finish logs, publishes and journals a computed decision. Journal failures
// are logged; the decision stands.
func (o *Orchestrator) finish(ctx context.Context, d *Decision) {
	log := logging.FromContext(ctx).WithComponent("guard").WithFields(map[string]interface{}{
		"decision_id": d.ID,
		"account":     d.Account,
	})
	if d.Allowed {
		log.Info("trade approved", "symbol", d.Symbol, "recovered", d.Recovered, "trial", d.Trial)
	} else {
		log.Info("trade denied", "symbol", d.Symbol, "recovered", d.Recovered, "reasons", d.Reasons)
	}

	if o.bus != nil {
		o.bus.PublishDecision(d.ID, d.Account, d.Symbol, d.Allowed, d.Recovered, d.Reasons, d.RiskAdjustedSize)
	}
	if o.recorder != nil {
		if err := o.recorder.Record(ctx, *d); err != nil {
			log.Warn("failed to journal decision", "error", err)
		}
	}
}
