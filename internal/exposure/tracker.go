// Package exposure tracks held notional per symbol and asset class and
// rejects proposals that would breach a concentration cap.
package exposure

import (
	"context"
	"fmt"
	"time"

	"trade-guard/config"
	"trade-guard/internal/logging"
	"trade-guard/internal/state"
)

// ReasonBreach prefixes every exposure denial
const ReasonBreach = "EXPOSURE_BREACH"

// Result is the outcome of an exposure check
type Result struct {
	Allowed  bool
	Reasons  []string
	Current  state.ExposureState
	Reserved state.Reserved
}

// Tracker checks and updates one account's exposure
type Tracker struct {
	store   state.Store
	account string
	limits  config.RiskLimits
	now     func() time.Time
	log     *logging.Logger
}

// NewTracker creates a tracker for account
func NewTracker(store state.Store, account string, limits config.RiskLimits) *Tracker {
	return &Tracker{
		store:   store,
		account: account,
		limits:  limits,
		now:     time.Now,
		log:     logging.WithComponent("exposure").WithField("account", account),
	}
}

// SetClock replaces the time source used to expire reservations
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Check reports whether adding proposed notional on symbol stays within the
// symbol, class and account caps. Held notional includes outstanding
// reservations. Caps are hard stops; nothing is clamped and nothing is written.
func (t *Tracker) Check(ctx context.Context, symbol string, proposed float64) (Result, error) {
	cur, err := t.store.GetExposure(ctx, t.account)
	if err != nil {
		return Result{}, err
	}
	active, err := t.store.ActiveReservations(ctx, t.account, t.now())
	if err != nil {
		return Result{}, err
	}
	held := state.SumReservations(active)

	res := Result{Allowed: true, Current: cur, Reserved: held}
	class := t.limits.ClassOf(symbol)

	if limit, have := t.limits.SymbolExposureCap(symbol), cur.BySymbol[symbol]+held.BySymbol[symbol]; have+proposed > limit {
		res.Reasons = append(res.Reasons, fmt.Sprintf("%s: %s exposure %.2f + %.2f exceeds cap %.2f",
			ReasonBreach, symbol, have, proposed, limit))
	}
	if limit, ok := t.limits.ClassExposureCap(class); ok && cur.ByClass[class]+held.ByClass[class]+proposed > limit {
		res.Reasons = append(res.Reasons, fmt.Sprintf("%s: class %s exposure %.2f + %.2f exceeds cap %.2f",
			ReasonBreach, class, cur.ByClass[class]+held.ByClass[class], proposed, limit))
	}
	if total := cur.Total() + held.Total(); total+proposed > t.limits.AccountMaxExposure {
		res.Reasons = append(res.Reasons, fmt.Sprintf("%s: account exposure %.2f + %.2f exceeds cap %.2f",
			ReasonBreach, total, proposed, t.limits.AccountMaxExposure))
	}

	if len(res.Reasons) > 0 {
		res.Allowed = false
		t.log.Info("exposure breach", "symbol", symbol, "proposed", proposed, "reasons", res.Reasons)
	}
	return res, nil
}

// Apply books a fill. Positive delta opens or adds, negative reduces.
func (t *Tracker) Apply(ctx context.Context, symbol string, delta float64) error {
	if delta == 0 {
		return nil
	}
	return t.store.AddExposure(ctx, t.account, symbol, t.limits.ClassOf(symbol), delta)
}

// Snapshot returns current exposure
func (t *Tracker) Snapshot(ctx context.Context) (state.ExposureState, error) {
	return t.store.GetExposure(ctx, t.account)
}
