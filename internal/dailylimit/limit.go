// Package dailylimit enforces the per-account trade-count and realized-loss
// caps for the current UTC day.
package dailylimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"trade-guard/internal/logging"
	"trade-guard/internal/state"
)

// Limits are the daily caps
type Limits struct {
	MaxTrades int
	MaxLoss   float64
}

// Result is the outcome of a daily limit check
type Result struct {
	Allowed      bool    `json:"allowed"`
	Reason       string  `json:"reason,omitempty"`
	Date         string  `json:"date"`
	TradeCount   int     `json:"trade_count"`
	Reserved     int     `json:"reserved,omitempty"` // approved trades not yet booked
	RealizedLoss float64 `json:"realized_loss"`
}

// Tracker reads and records one account's daily counters
type Tracker struct {
	store   state.Store
	account string
	limits  Limits
	now     func() time.Time
	log     *logging.Logger
}

// New creates a tracker for account
func New(store state.Store, account string, limits Limits) *Tracker {
	return &Tracker{
		store:   store,
		account: account,
		limits:  limits,
		now:     time.Now,
		log:     logging.WithComponent("daily_limit").WithField("account", account),
	}
}

// SetClock replaces the time source
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

func (t *Tracker) today() string {
	return t.now().UTC().Format(state.DateLayout)
}

// counters returns the stored counters when they belong to today, else a
// zero record for today. Nothing is written.
func (t *Tracker) counters(ctx context.Context, today string) (state.DailyLimitState, error) {
	rec, err := t.store.LatestDailyLimit(ctx, t.account)
	if err != nil {
		return state.DailyLimitState{}, err
	}
	if rec.Date != today {
		return state.DailyLimitState{Account: t.account, Date: today}, nil
	}
	return rec, nil
}

// CheckDailyTradeLimit compares today's counters plus outstanding
// reservations to the caps. It is read-only.
func (t *Tracker) CheckDailyTradeLimit(ctx context.Context) (Result, error) {
	today := t.today()
	rec, err := t.counters(ctx, today)
	if err != nil {
		return Result{}, err
	}
	held, err := t.store.ActiveReservations(ctx, t.account, t.now())
	if err != nil {
		return Result{}, err
	}

	res := Result{Allowed: true, Date: today, TradeCount: rec.TradeCount, Reserved: len(held), RealizedLoss: rec.RealizedLoss}
	var reasons []string
	if rec.TradeCount+len(held) >= t.limits.MaxTrades {
		msg := fmt.Sprintf("daily trade limit reached: %d/%d trades on %s", rec.TradeCount, t.limits.MaxTrades, today)
		if len(held) > 0 {
			msg += fmt.Sprintf(" (%d reserved)", len(held))
		}
		reasons = append(reasons, msg)
	}
	if rec.RealizedLoss >= t.limits.MaxLoss {
		reasons = append(reasons, fmt.Sprintf("daily loss limit reached: %.2f/%.2f on %s",
			rec.RealizedLoss, t.limits.MaxLoss, today))
	}
	if len(reasons) > 0 {
		res.Allowed = false
		res.Reason = strings.Join(reasons, "; ")
	}
	return res, nil
}

// TodayLoss returns the realized loss booked today
func (t *Tracker) TodayLoss(ctx context.Context) (float64, error) {
	rec, err := t.counters(ctx, t.today())
	if err != nil {
		return 0, err
	}
	return rec.RealizedLoss, nil
}

// RemainingLossBudget returns how much more loss today's cap allows, never
// below zero.
func (t *Tracker) RemainingLossBudget(ctx context.Context) (float64, error) {
	loss, err := t.TodayLoss(ctx)
	if err != nil {
		return 0, err
	}
	return math.Max(0, t.limits.MaxLoss-loss), nil
}

// RecordTrade books one executed trade against today's counters. realizedLoss
// is the positive loss amount; gains count as zero loss.
func (t *Tracker) RecordTrade(ctx context.Context, realizedLoss float64) (state.DailyLimitState, error) {
	today := t.today()
	rec, err := t.store.RecordTrade(ctx, t.account, today, math.Max(0, realizedLoss))
	if err != nil {
		return state.DailyLimitState{}, err
	}
	t.log.Debug("trade recorded",
		"date", today,
		"trade_count", rec.TradeCount,
		"realized_loss", rec.RealizedLoss)
	return rec, nil
}
