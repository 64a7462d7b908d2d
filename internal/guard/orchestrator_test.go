package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-guard/config"
	"trade-guard/internal/circuit"
	"trade-guard/internal/dailylimit"
	"trade-guard/internal/events"
	"trade-guard/internal/exposure"
	"trade-guard/internal/guarderr"
	"trade-guard/internal/risk"
	"trade-guard/internal/signals"
	"trade-guard/internal/state"
	"trade-guard/internal/systemguard"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type harness struct {
	orch    *Orchestrator
	store   *state.MemoryStore
	system  *systemguard.Guard
	daily   *dailylimit.Tracker
	breaker *circuit.Breaker
	journal *memoryRecorder
	now     time.Time
}

type memoryRecorder struct {
	mu        sync.Mutex
	decisions []Decision
	err       error
}

func (r *memoryRecorder) Record(ctx context.Context, d Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.decisions = append(r.decisions, d)
	return nil
}

func testLimits() config.RiskLimits {
	return config.RiskLimits{
		AllowedSymbols:        []string{"BTCUSDT", "ETHUSDT"},
		SymbolClasses:         map[string]string{"BTCUSDT": "crypto", "ETHUSDT": "crypto"},
		DefaultClass:          "crypto",
		ClassMaxLeverage:      map[string]float64{"crypto": 5},
		AccountMaxLeverage:    3,
		DefaultSymbolExposure: 100000,
		AccountMaxExposure:    200000,
		MaxDailyLoss:          500,
		MaxDailyTrades:        10,
		RiskPerTrade:          0.01,
		MaxLossFraction:       0.01,
		MinTradableNotional:   10,
		LotStep:               1,
	}
}

func newHarness(t *testing.T, limits config.RiskLimits) *harness {
	t.Helper()
	h := &harness{store: state.NewMemoryStore(), journal: &memoryRecorder{}, now: t0}
	clock := func() time.Time { return h.now }
	bus := events.NewEventBus()

	h.daily = dailylimit.New(h.store, "acct", dailylimit.Limits{MaxTrades: limits.MaxDailyTrades, MaxLoss: limits.MaxDailyLoss})
	h.daily.SetClock(clock)

	h.system = systemguard.New(h.store, bus)
	h.system.SetClock(clock)
	h.system.RegisterCondition(state.TriggerCatastrophicLoss, systemguard.LossBelow(h.daily, 1000))

	h.breaker = circuit.NewBreaker(h.store, "broker", circuit.Config{
		FailureThreshold:  2,
		CoolDown:          time.Minute,
		MaxCoolDown:       10 * time.Minute,
		BackoffMultiplier: 2,
		TrialTimeout:      10 * time.Minute,
	}, bus)
	h.breaker.SetClock(clock)

	exp := exposure.NewTracker(h.store, "acct", limits)
	exp.SetClock(clock)

	h.orch = New(Config{
		Account:          "acct",
		Limits:           limits,
		CatastrophicLoss: 1000,
		LargeTradeLoss:   200,
		SoftCoolDown:     30 * time.Minute,
	}, Deps{
		Store:    h.store,
		Locker:   state.NewMemoryLocker(),
		System:   h.system,
		Daily:    h.daily,
		Breaker:  h.breaker,
		Risk:     risk.NewGroup(limits, exp),
		Bus:      bus,
		Recorder: h.journal,
	})
	h.orch.SetClock(clock)
	return h
}

func (h *harness) tripHard(trigger state.Trigger, reason string) {
	h.store.SetSystemGuard(state.SystemGuardState{Trigger: trigger, Reason: reason, TrippedAt: &t0})
}

func longSignal() signals.Signal {
	return signals.Signal{Symbol: "BTCUSDT", Direction: signals.DirectionLong, Strength: 0.8, Confidence: 0.9}
}

func filled(realizedPnL float64) Executor {
	return ExecutorFunc(func(ctx context.Context, o Order) (Fill, error) {
		return Fill{Symbol: o.Symbol, Notional: o.Notional, RealizedPnL: realizedPnL}, nil
	})
}

func TestCheckAllGuardsAllowsWhenQuiet(t *testing.T) {
	h := newHarness(t, testLimits())

	d, err := h.orch.CheckAllGuards(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, d.Recovered)
	assert.Empty(t, d.Reasons)
	assert.NotEmpty(t, d.ID)
	assert.Len(t, h.journal.decisions, 1)
}

func TestTrippedWithConditionPresentStaysDenied(t *testing.T) {
	h := newHarness(t, testLimits())
	ctx := context.Background()
	h.store.SetDailyLimit(state.DailyLimitState{Account: "acct", Date: "2026-03-02", TradeCount: 4, RealizedLoss: 1200})
	h.tripHard(state.TriggerCatastrophicLoss, "daily loss 1200.00")

	d, err := h.orch.CheckAllGuards(ctx)
	require.NoError(t, err)

	assert.False(t, d.Allowed)
	assert.False(t, d.Recovered)
	assert.GreaterOrEqual(t, len(d.Reasons), 1)
	assert.Contains(t, d.Reasons[0], "system guard tripped")

	s, err := h.store.GetSystemGuard(ctx)
	require.NoError(t, err)
	assert.False(t, s.TradingEnabled)
	require.NotNil(t, s.LastRecoveryAttemptAt)
}

func TestManualTripNeverAutoRecovers(t *testing.T) {
	h := newHarness(t, testLimits())
	h.tripHard(state.TriggerManual, "operator halt")

	d, err := h.orch.CheckAllGuards(context.Background())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.False(t, d.Recovered)
	assert.Len(t, d.Reasons, 1)
}

func TestClearedConditionRecoversExactlyOnce(t *testing.T) {
	h := newHarness(t, testLimits())
	ctx := context.Background()
	h.tripHard(state.TriggerCatastrophicLoss, "daily loss 1200.00")
	// a new day: the loss condition has cleared

	d, err := h.orch.CheckAllGuards(ctx)
	require.NoError(t, err)
	assert.True(t, d.Recovered)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reasons)

	s, err := h.store.GetSystemGuard(ctx)
	require.NoError(t, err)
	assert.True(t, s.TradingEnabled)
	assert.True(t, s.Allowed)

	d, err = h.orch.CheckAllGuards(ctx)
	require.NoError(t, err)
	assert.False(t, d.Recovered, "second pass finds nothing to recover")
	assert.True(t, d.Allowed)
}

func TestRecoveredDecisionReflectsReevaluatedState(t *testing.T) {
	h := newHarness(t, testLimits())
	h.tripHard(state.TriggerCatastrophicLoss, "daily loss")
	h.store.SetDailyLimit(state.DailyLimitState{Account: "acct", Date: "2026-03-02", TradeCount: 10, RealizedLoss: 0})

	d, err := h.orch.CheckAllGuards(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Recovered)
	assert.False(t, d.Allowed)
	require.Len(t, d.Reasons, 1)
	assert.Contains(t, d.Reasons[0], "daily trade limit")
}

func TestReasonsInCheckOrder(t *testing.T) {
	h := newHarness(t, testLimits())
	ctx := context.Background()
	require.NoError(t, h.system.TripSoft(ctx, state.TriggerLargeLoss, "big loss", time.Hour))
	h.store.SetDailyLimit(state.DailyLimitState{Account: "acct", Date: "2026-03-02", TradeCount: 10})

	d, err := h.orch.CheckAllGuards(ctx)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	require.Len(t, d.Reasons, 2)
	assert.Contains(t, d.Reasons[0], "system guard")
	assert.Contains(t, d.Reasons[1], "daily")
}

func TestCheckAllGuardsDoesNotTouchCounters(t *testing.T) {
	h := newHarness(t, testLimits())
	ctx := context.Background()
	before := state.DailyLimitState{Account: "acct", Date: "2026-03-01", TradeCount: 9, RealizedLoss: 50}
	h.store.SetDailyLimit(before)

	for i := 0; i < 3; i++ {
		_, err := h.orch.CheckAllGuards(ctx)
		require.NoError(t, err)
	}

	after, err := h.store.LatestDailyLimit(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStoreFailureIsEvaluationError(t *testing.T) {
	h := newHarness(t, testLimits())
	h.store.FailReads = true

	_, err := h.orch.CheckAllGuards(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, guarderr.ErrGuardEvaluationFailed)
	assert.ErrorIs(t, err, guarderr.ErrStateRead)
}

func TestMissingGuardRecordDenies(t *testing.T) {
	h := newHarness(t, testLimits())
	h.orch.store = state.NewEmptyMemoryStore()
	h.orch.system = systemguard.New(h.orch.store, nil)

	d, err := h.orch.CheckAllGuards(context.Background())
	assert.ErrorIs(t, err, guarderr.ErrStateNotFound)
	assert.False(t, d.Allowed)
}

func TestEvaluateReturnsRiskAdjustedSize(t *testing.T) {
	h := newHarness(t, testLimits())

	d, err := h.orch.Evaluate(context.Background(), longSignal(), 10000)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "BTCUSDT", d.Symbol)
	require.NotNil(t, d.RiskAdjustedSize)
	assert.InDelta(t, 7200.0, *d.RiskAdjustedSize, 1e-9)
}

func TestEvaluateAppendsRiskReasonsAfterGuards(t *testing.T) {
	h := newHarness(t, testLimits())
	h.store.SetDailyLimit(state.DailyLimitState{Account: "acct", Date: "2026-03-02", TradeCount: 10})
	sig := longSignal()
	sig.Symbol = "DOGEUSDT"

	d, err := h.orch.Evaluate(context.Background(), sig, 10000)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	require.Len(t, d.Reasons, 2)
	assert.Contains(t, d.Reasons[0], "daily")
	assert.Contains(t, d.Reasons[1], risk.ReasonValidationFailed)
	assert.Nil(t, d.RiskAdjustedSize)
}

func TestEvaluateUsesRemainingLossBudget(t *testing.T) {
	h := newHarness(t, testLimits())
	h.store.SetDailyLimit(state.DailyLimitState{Account: "acct", Date: "2026-03-02", TradeCount: 3, RealizedLoss: 470})

	d, err := h.orch.Evaluate(context.Background(), longSignal(), 10000)
	require.NoError(t, err)
	require.NotNil(t, d.RiskAdjustedSize)
	assert.LessOrEqual(t, *d.RiskAdjustedSize*0.01, 30.0+1e-9)
}

func TestOpenBreakerDenies(t *testing.T) {
	h := newHarness(t, testLimits())
	ctx := context.Background()
	cause := errors.New("order rejected")
	require.NoError(t, h.orch.RecordFailure(ctx, "broker", "BTCUSDT", cause))
	require.NoError(t, h.orch.RecordFailure(ctx, "broker", "BTCUSDT", cause))

	d, err := h.orch.Evaluate(ctx, longSignal(), 10000)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	require.Len(t, d.Reasons, 1)
	assert.Contains(t, d.Reasons[0], "circuit")
}

func TestHalfOpenAdmitsOneTrialDecision(t *testing.T) {
	h := newHarness(t, testLimits())
	ctx := context.Background()
	cause := errors.New("timeout")
	require.NoError(t, h.orch.RecordFailure(ctx, "broker", "BTCUSDT", cause))
	require.NoError(t, h.orch.RecordFailure(ctx, "broker", "BTCUSDT", cause))
	h.now = h.now.Add(2 * time.Minute)

	first, err := h.orch.Evaluate(ctx, longSignal(), 10000)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.True(t, first.Trial)

	second, err := h.orch.Evaluate(ctx, longSignal(), 10000)
	require.NoError(t, err)
	assert.False(t, second.Allowed)
	assert.False(t, second.Trial)
}

func TestPreviewLeavesTrialFree(t *testing.T) {
	h := newHarness(t, testLimits())
	ctx := context.Background()
	cause := errors.New("timeout")
	require.NoError(t, h.orch.RecordFailure(ctx, "broker", "BTCUSDT", cause))
	require.NoError(t, h.orch.RecordFailure(ctx, "broker", "BTCUSDT", cause))
	h.now = h.now.Add(2 * time.Minute)

	for i := 0; i < 3; i++ {
		preview, err := h.orch.Preview(ctx, longSignal(), 10000)
		require.NoError(t, err)
		assert.True(t, preview.Allowed)
		assert.True(t, preview.Trial)
	}

	trial, err := h.orch.Evaluate(ctx, longSignal(), 10000)
	require.NoError(t, err)
	assert.True(t, trial.Allowed, "previews must not consume the trial")
	assert.True(t, trial.Trial)

	after, err := h.orch.Preview(ctx, longSignal(), 10000)
	require.NoError(t, err)
	assert.False(t, after.Allowed)
	assert.Contains(t, after.Reasons[0], "trial trade already in progress")
}

func TestReserveHoldsLastTradeSlot(t *testing.T) {
	h := newHarness(t, testLimits())
	ctx := context.Background()
	h.store.SetDailyLimit(state.DailyLimitState{Account: "acct", Date: "2026-03-02", TradeCount: 9})

	first, err := h.orch.Reserve(ctx, longSignal(), 10000)
	require.NoError(t, err)
	require.True(t, first.Allowed)
	require.NotNil(t, first.ReservedUntil)
	assert.True(t, t0.Add(2*time.Minute).Equal(*first.ReservedUntil))

	second, err := h.orch.Reserve(ctx, longSignal(), 10000)
	require.NoError(t, err)
	assert.False(t, second.Allowed)
	assert.Contains(t, second.Reasons[0], "(1 reserved)")
	assert.Nil(t, second.ReservedUntil)

	require.NoError(t, h.orch.RecordExecution(ctx, Fill{
		DecisionID: first.ID,
		Symbol:     "BTCUSDT",
		Notional:   *first.RiskAdjustedSize,
	}))

	rec, err := h.store.LatestDailyLimit(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 10, rec.TradeCount)
	held, err := h.store.ActiveReservations(ctx, "acct", h.now)
	require.NoError(t, err)
	assert.Empty(t, held, "the fill confirms the reservation")

	third, err := h.orch.Reserve(ctx, longSignal(), 10000)
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Contains(t, third.Reasons[0], "10/10")
}

func TestReleaseAndExpiryFreeCapacity(t *testing.T) {
	limits := testLimits()
	limits.MaxDailyTrades = 1
	h := newHarness(t, limits)
	ctx := context.Background()

	a, err := h.orch.Reserve(ctx, longSignal(), 10000)
	require.NoError(t, err)
	require.True(t, a.Allowed)

	denied, err := h.orch.Reserve(ctx, longSignal(), 10000)
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	ok, err := h.orch.Release(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.orch.Release(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	b, err := h.orch.Reserve(ctx, longSignal(), 10000)
	require.NoError(t, err)
	require.True(t, b.Allowed)

	// b is never filled or released
	h.now = h.now.Add(3 * time.Minute)
	c, err := h.orch.Reserve(ctx, longSignal(), 10000)
	require.NoError(t, err)
	assert.True(t, c.Allowed)
}

func TestReservedNotionalCountsTowardExposure(t *testing.T) {
	limits := testLimits()
	limits.DefaultSymbolExposure = 10000
	h := newHarness(t, limits)
	ctx := context.Background()

	first, err := h.orch.Reserve(ctx, longSignal(), 10000)
	require.NoError(t, err)
	require.True(t, first.Allowed)

	// a preview sees the held notional too
	preview, err := h.orch.Preview(ctx, longSignal(), 10000)
	require.NoError(t, err)
	assert.False(t, preview.Allowed)
	assert.Contains(t, preview.Reasons[0], exposure.ReasonBreach)

	second, err := h.orch.Reserve(ctx, longSignal(), 10000)
	require.NoError(t, err)
	assert.False(t, second.Allowed)
}

func TestConcurrentReservesRespectTradeCap(t *testing.T) {
	limits := testLimits()
	limits.MaxDailyTrades = 3
	h := newHarness(t, limits)
	ctx := context.Background()

	var approved int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := h.orch.Reserve(ctx, longSignal(), 10000)
			assert.NoError(t, err)
			if d.Allowed {
				atomic.AddInt32(&approved, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&approved))
	held, err := h.store.ActiveReservations(ctx, "acct", h.now)
	require.NoError(t, err)
	assert.Len(t, held, 3)
}

func TestReserveWriteFailureIsEvaluationError(t *testing.T) {
	h := newHarness(t, testLimits())
	h.store.FailWrites = true

	_, err := h.orch.Reserve(context.Background(), longSignal(), 10000)
	assert.ErrorIs(t, err, guarderr.ErrGuardEvaluationFailed)
}

type flakyBreaker struct {
	Breaker
	fail bool
}

func (b *flakyBreaker) RecordSuccess(ctx context.Context) error {
	if b.fail {
		return guarderr.StateWrite("circuit_breaker", errors.New("connection reset"))
	}
	return b.Breaker.RecordSuccess(ctx)
}

func TestBreakerFailureBooksNothingAndRetryBooksOnce(t *testing.T) {
	h := newHarness(t, testLimits())
	ctx := context.Background()
	flaky := &flakyBreaker{Breaker: h.breaker, fail: true}
	h.orch.breaker = flaky
	fill := Fill{Symbol: "BTCUSDT", Notional: 7200, RealizedPnL: -10}

	require.Error(t, h.orch.RecordExecution(ctx, fill))

	rec, err := h.store.LatestDailyLimit(ctx, "acct")
	require.NoError(t, err)
	assert.Zero(t, rec.TradeCount)
	snap, err := h.store.GetExposure(ctx, "acct")
	require.NoError(t, err)
	assert.Zero(t, snap.Total())

	flaky.fail = false
	require.NoError(t, h.orch.RecordExecution(ctx, fill))

	rec, err = h.store.LatestDailyLimit(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TradeCount)
	assert.InDelta(t, 10.0, rec.RealizedLoss, 1e-9)
	snap, err = h.store.GetExposure(ctx, "acct")
	require.NoError(t, err)
	assert.InDelta(t, 7200.0, snap.Total(), 1e-9)
}

func TestCycleRecordsFill(t *testing.T) {
	h := newHarness(t, testLimits())
	ctx := context.Background()

	d, err := h.orch.Cycle(ctx, longSignal(), 10000, filled(-25))
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	rec, err := h.store.LatestDailyLimit(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", rec.Date)
	assert.Equal(t, 1, rec.TradeCount)
	assert.InDelta(t, 25.0, rec.RealizedLoss, 1e-9)

	snap, err := h.store.GetExposure(ctx, "acct")
	require.NoError(t, err)
	assert.InDelta(t, 7200.0, snap.BySymbol["BTCUSDT"], 1e-9)
	assert.InDelta(t, 7200.0, snap.ByClass["crypto"], 1e-9)
}

func TestCycleDenialSkipsExecutorAndBreaker(t *testing.T) {
	h := newHarness(t, testLimits())
	ctx := context.Background()
	h.store.SetDailyLimit(state.DailyLimitState{Account: "acct", Date: "2026-03-02", TradeCount: 10})

	called := false
	exec := ExecutorFunc(func(ctx context.Context, o Order) (Fill, error) {
		called = true
		return Fill{}, nil
	})
	for i := 0; i < 5; i++ {
		d, err := h.orch.Cycle(ctx, longSignal(), 10000, exec)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	}
	assert.False(t, called)

	stats, err := h.breaker.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.BreakerClosed, stats.EffectiveStatus)
	assert.Zero(t, stats.ConsecutiveFailures)
}

func TestCycleExecutionFailureCountsAgainstBreaker(t *testing.T) {
	h := newHarness(t, testLimits())
	ctx := context.Background()
	rejected := errors.New("insufficient margin")
	exec := ExecutorFunc(func(ctx context.Context, o Order) (Fill, error) {
		return Fill{}, rejected
	})

	_, err := h.orch.Cycle(ctx, longSignal(), 10000, exec)
	assert.ErrorIs(t, err, guarderr.ErrExecutionFailed)
	assert.ErrorIs(t, err, rejected)

	stats, err := h.breaker.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ConsecutiveFailures)

	rec, err := h.store.LatestDailyLimit(ctx, "acct")
	require.NoError(t, err)
	assert.Zero(t, rec.TradeCount, "failed orders are not trades")
}

func TestBrokerSessionLossTripsHard(t *testing.T) {
	h := newHarness(t, testLimits())
	ctx := context.Background()
	exec := ExecutorFunc(func(ctx context.Context, o Order) (Fill, error) {
		return Fill{}, fmt.Errorf("listen key expired: %w", guarderr.ErrBrokerSession)
	})

	_, err := h.orch.Cycle(ctx, longSignal(), 10000, exec)
	require.Error(t, err)

	res, err := h.system.Check(ctx)
	require.NoError(t, err)
	assert.True(t, res.HardTripped())
	assert.Equal(t, state.TriggerBrokerSession, res.Trigger)
}

func TestCatastrophicLossTripsHard(t *testing.T) {
	h := newHarness(t, testLimits())
	ctx := context.Background()
	h.store.SetDailyLimit(state.DailyLimitState{Account: "acct", Date: "2026-03-02", TradeCount: 2, RealizedLoss: 900})

	require.NoError(t, h.orch.RecordExecution(ctx, Fill{Symbol: "BTCUSDT", Notional: -1000, RealizedPnL: -150}))

	res, err := h.system.Check(ctx)
	require.NoError(t, err)
	assert.True(t, res.HardTripped())
	assert.Equal(t, state.TriggerCatastrophicLoss, res.Trigger)

	d, err := h.orch.CheckAllGuards(ctx)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.False(t, d.Recovered)
}

func TestLargeTradeLossSoftTrips(t *testing.T) {
	h := newHarness(t, testLimits())
	ctx := context.Background()

	require.NoError(t, h.orch.RecordExecution(ctx, Fill{Symbol: "ETHUSDT", Notional: -2000, RealizedPnL: -250}))

	res, err := h.system.Check(ctx)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, systemguard.StatusDisallowedSoft, res.Status)

	h.now = h.now.Add(31 * time.Minute)
	res, err = h.system.Check(ctx)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRecordExecutionRejectsUnknownChannel(t *testing.T) {
	h := newHarness(t, testLimits())
	err := h.orch.RecordExecution(context.Background(), Fill{Symbol: "BTCUSDT", Channel: "other"})
	assert.Error(t, err)
}

func TestJournalFailureDoesNotChangeDecision(t *testing.T) {
	h := newHarness(t, testLimits())
	h.journal.err = errors.New("disk full")

	d, err := h.orch.CheckAllGuards(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestConcurrentCyclesRespectTradeCap(t *testing.T) {
	limits := testLimits()
	limits.MaxDailyTrades = 3
	h := newHarness(t, limits)
	ctx := context.Background()

	var executed int32
	exec := ExecutorFunc(func(ctx context.Context, o Order) (Fill, error) {
		atomic.AddInt32(&executed, 1)
		return Fill{Symbol: o.Symbol, Notional: o.Notional}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Cycle(ctx, longSignal(), 10000, exec)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&executed))
	rec, err := h.store.LatestDailyLimit(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.TradeCount)
}

func TestDecisionIDsSortByTime(t *testing.T) {
	a := newID(t0)
	b := newID(t0.Add(time.Millisecond))
	c := newID(t0.Add(time.Millisecond))
	assert.Less(t, a, b)
	assert.Less(t, b, c)
}

func TestRecordersTryEverySink(t *testing.T) {
	bad := &memoryRecorder{err: errors.New("disk full")}
	good := &memoryRecorder{}

	err := Recorders{bad, good}.Record(context.Background(), Decision{ID: "x"})
	assert.Error(t, err)
	assert.Len(t, good.decisions, 1)
}
