package systemguard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-guard/internal/guarderr"
	"trade-guard/internal/state"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type stubLoss struct {
	loss float64
	err  error
}

func (s *stubLoss) TodayLoss(ctx context.Context) (float64, error) { return s.loss, s.err }

type stubProbe struct{ err error }

func (p *stubProbe) Healthy(ctx context.Context) error { return p.err }

func newGuard(t *testing.T) (*Guard, *state.MemoryStore, *time.Time) {
	t.Helper()
	store := state.NewMemoryStore()
	now := t0
	g := New(store, nil)
	g.SetClock(func() time.Time { return now })
	return g, store, &now
}

func TestActiveByDefault(t *testing.T) {
	g, _, _ := newGuard(t)

	res, err := g.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, StatusActive, res.Status)
	assert.Empty(t, res.Reason)
}

func TestSoftTripExpiresAtReadTime(t *testing.T) {
	g, store, now := newGuard(t)
	ctx := context.Background()

	require.NoError(t, g.TripSoft(ctx, state.TriggerLargeLoss, "loss of 250.00 on BTCUSDT", 30*time.Minute))

	res, err := g.Check(ctx)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.Enabled)
	assert.False(t, res.HardTripped())
	assert.Equal(t, StatusDisallowedSoft, res.Status)
	assert.Contains(t, res.Reason, "loss of 250.00")

	before, _ := store.GetSystemGuard(ctx)
	*now = now.Add(30 * time.Minute)
	res, err = g.Check(ctx)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, StatusActive, res.Status)

	after, _ := store.GetSystemGuard(ctx)
	assert.Equal(t, before, after, "expiry must not write")
}

func TestSoftTripOnlyExtends(t *testing.T) {
	g, store, _ := newGuard(t)
	ctx := context.Background()

	require.NoError(t, g.TripSoft(ctx, state.TriggerLargeLoss, "long", time.Hour))
	require.NoError(t, g.TripSoft(ctx, state.TriggerLargeLoss, "short", time.Minute))

	s, err := store.GetSystemGuard(ctx)
	require.NoError(t, err)
	assert.Equal(t, "long", s.Reason)
	assert.Equal(t, t0.Add(time.Hour), *s.SoftUntil)
}

func TestSoftTripDoesNotDowngradeHardTrip(t *testing.T) {
	g, _, _ := newGuard(t)
	ctx := context.Background()

	require.NoError(t, g.TripHard(ctx, state.TriggerManual, "operator halt"))
	require.NoError(t, g.TripSoft(ctx, state.TriggerLargeLoss, "big loss", time.Minute))

	res, err := g.Check(ctx)
	require.NoError(t, err)
	assert.True(t, res.HardTripped())
	assert.Equal(t, state.TriggerManual, res.Trigger)
}

func TestAutomaticTripKeepsManualTrigger(t *testing.T) {
	g, _, _ := newGuard(t)
	ctx := context.Background()

	require.NoError(t, g.TripHard(ctx, state.TriggerManual, "operator halt"))
	require.NoError(t, g.TripHard(ctx, state.TriggerCatastrophicLoss, "loss"))

	res, err := g.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.TriggerManual, res.Trigger)
}

func TestRecoverWhenNotTrippedIsNoop(t *testing.T) {
	g, store, _ := newGuard(t)
	ctx := context.Background()
	before, _ := store.GetSystemGuard(ctx)

	rr, err := g.Recover(ctx)
	require.NoError(t, err)
	assert.False(t, rr.Recovered)

	after, _ := store.GetSystemGuard(ctx)
	assert.Equal(t, before, after)
}

func TestRecoverRefusedStampsAttempt(t *testing.T) {
	g, store, _ := newGuard(t)
	ctx := context.Background()
	g.RegisterCondition(state.TriggerCatastrophicLoss, LossBelow(&stubLoss{loss: 1500}, 1000))

	require.NoError(t, g.TripHard(ctx, state.TriggerCatastrophicLoss, "daily loss 1500.00"))

	rr, err := g.Recover(ctx)
	require.NoError(t, err)
	assert.False(t, rr.Recovered)
	assert.Contains(t, rr.Detail, "still at or above")

	s, err := store.GetSystemGuard(ctx)
	require.NoError(t, err)
	assert.False(t, s.TradingEnabled)
	assert.False(t, s.Allowed)
	require.NotNil(t, s.LastRecoveryAttemptAt)
	assert.Equal(t, t0, *s.LastRecoveryAttemptAt)
}

func TestRecoverManualNeedsReset(t *testing.T) {
	g, _, _ := newGuard(t)
	ctx := context.Background()

	require.NoError(t, g.TripHard(ctx, state.TriggerManual, "kill switch"))

	rr, err := g.Recover(ctx)
	require.NoError(t, err)
	assert.False(t, rr.Recovered)
	assert.Contains(t, rr.Detail, "operator reset")

	require.NoError(t, g.Reset(ctx, "alice"))
	res, err := g.Check(ctx)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestResetRequiresOperator(t *testing.T) {
	g, _, _ := newGuard(t)
	assert.Error(t, g.Reset(context.Background(), ""))
}

func TestRecoverClearedConditionActivates(t *testing.T) {
	g, store, _ := newGuard(t)
	ctx := context.Background()
	probe := &stubProbe{err: errors.New("session expired")}
	g.RegisterCondition(state.TriggerBrokerSession, ProbeHealthy(probe))

	require.NoError(t, g.TripHard(ctx, state.TriggerBrokerSession, "401 from broker"))

	rr, err := g.Recover(ctx)
	require.NoError(t, err)
	assert.False(t, rr.Recovered)

	probe.err = nil
	rr, err = g.Recover(ctx)
	require.NoError(t, err)
	assert.True(t, rr.Recovered)

	s, err := store.GetSystemGuard(ctx)
	require.NoError(t, err)
	assert.True(t, s.Allowed)
	assert.True(t, s.TradingEnabled)
	assert.Equal(t, state.TriggerNone, s.Trigger)

	rr, err = g.Recover(ctx)
	require.NoError(t, err)
	assert.False(t, rr.Recovered, "second recovery must be a no-op")
}

func TestConcurrentRecoveryTransitionsOnce(t *testing.T) {
	g, _, _ := newGuard(t)
	ctx := context.Background()
	g.RegisterCondition(state.TriggerBrokerSession, ProbeHealthy(&stubProbe{}))
	require.NoError(t, g.TripHard(ctx, state.TriggerBrokerSession, "401"))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		recovered int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rr, err := g.Recover(ctx)
			assert.NoError(t, err)
			if rr.Recovered {
				mu.Lock()
				recovered++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, recovered)
}

func TestConditionErrorPropagates(t *testing.T) {
	g, _, _ := newGuard(t)
	ctx := context.Background()
	readErr := guarderr.StateRead("daily_trade_counters", errors.New("timeout"))
	g.RegisterCondition(state.TriggerCatastrophicLoss, LossBelow(&stubLoss{err: readErr}, 1000))
	require.NoError(t, g.TripHard(ctx, state.TriggerCatastrophicLoss, "loss"))

	_, err := g.Recover(ctx)
	assert.ErrorIs(t, err, guarderr.ErrStateRead)
}

func TestMissingRecordIsError(t *testing.T) {
	g := New(state.NewEmptyMemoryStore(), nil)

	_, err := g.Check(context.Background())
	assert.ErrorIs(t, err, guarderr.ErrStateNotFound)
}
