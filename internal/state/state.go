// Package state holds the persisted guard records and the storage boundary
// the orchestrator owns. Implementations live in internal/database
// (Postgres), internal/cache (Redis locks) and MemoryStore below.
package state

import (
	"context"
	"time"
)

// DateLayout is the key format for daily counters (UTC calendar day)
const DateLayout = "2006-01-02"

// Trigger identifies what tripped the system guard
type Trigger string

const (
	TriggerNone             Trigger = ""
	TriggerManual           Trigger = "manual"            // operator kill switch
	TriggerCatastrophicLoss Trigger = "catastrophic_loss" // daily loss beyond the hard threshold
	TriggerBrokerSession    Trigger = "broker_session"    // executor lost its authenticated session
	TriggerLargeLoss        Trigger = "large_loss"        // soft trigger after a single big losing trade
)

// SystemGuardState is the single process-wide guard record
type SystemGuardState struct {
	Allowed               bool       `json:"allowed"`
	TradingEnabled        bool       `json:"trading_enabled"`
	Reason                string     `json:"reason"`
	Trigger               Trigger    `json:"trigger"`
	TrippedAt             *time.Time `json:"tripped_at,omitempty"`
	SoftUntil             *time.Time `json:"soft_until,omitempty"`
	LastRecoveryAttemptAt *time.Time `json:"last_recovery_attempt_at,omitempty"`
	Version               int64      `json:"version"`
}

// Normalize enforces allowed == false whenever trading is disabled
func (s SystemGuardState) Normalize() SystemGuardState {
	if !s.TradingEnabled {
		s.Allowed = false
	}
	return s
}

// ActiveGuardState is the seed record written by migrations
func ActiveGuardState() SystemGuardState {
	return SystemGuardState{Allowed: true, TradingEnabled: true}
}

// DailyLimitState holds one account's counters for one UTC day
type DailyLimitState struct {
	Account      string  `json:"account"`
	Date         string  `json:"date"`
	TradeCount   int     `json:"trade_count"`
	RealizedLoss float64 `json:"realized_loss"`
}

// BreakerStatus is the circuit breaker state
type BreakerStatus string

const (
	BreakerClosed   BreakerStatus = "CLOSED"
	BreakerOpen     BreakerStatus = "OPEN"
	BreakerHalfOpen BreakerStatus = "HALF_OPEN"
)

// CircuitBreakerState is stored per execution channel
type CircuitBreakerState struct {
	Channel             string        `json:"channel"`
	Status              BreakerStatus `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	OpenedAt            *time.Time    `json:"opened_at,omitempty"`
	Cooldown            time.Duration `json:"cooldown"`
	ReopenCount         int           `json:"reopen_count"`
	TrialStartedAt      *time.Time    `json:"trial_started_at,omitempty"`
	Version             int64         `json:"version"`
}

// ClosedBreaker returns the initial record for a channel
func ClosedBreaker(channel string) CircuitBreakerState {
	return CircuitBreakerState{Channel: channel, Status: BreakerClosed}
}

// ExposureKind distinguishes per-symbol from per-class exposure rows
type ExposureKind string

const (
	ExposureSymbol ExposureKind = "symbol"
	ExposureClass  ExposureKind = "class"
)

// ExposureState maps symbols and asset classes to held notional
type ExposureState struct {
	Account  string             `json:"account"`
	BySymbol map[string]float64 `json:"by_symbol"`
	ByClass  map[string]float64 `json:"by_class"`
}

// NewExposureState returns an empty snapshot
func NewExposureState(account string) ExposureState {
	return ExposureState{
		Account:  account,
		BySymbol: make(map[string]float64),
		ByClass:  make(map[string]float64),
	}
}

// Total returns account-wide notional. Every fill writes a symbol row while
// class rows depend on configuration, so the symbol sums are used.
func (e ExposureState) Total() float64 {
	total := 0.0
	for _, v := range e.BySymbol {
		total += v
	}
	return total
}

// Reservation holds capacity for an approved decision until its fill is
// booked, the executor reports a failure, or it expires
type Reservation struct {
	ID        string    `json:"id"` // decision ID
	Account   string    `json:"account"`
	Symbol    string    `json:"symbol"`
	Class     string    `json:"class"`
	Notional  float64   `json:"notional"`
	Trial     bool      `json:"trial"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Reserved sums outstanding reservations per symbol and class
type Reserved struct {
	Trades   int
	BySymbol map[string]float64
	ByClass  map[string]float64
}

// SumReservations folds rs into per-key totals
func SumReservations(rs []Reservation) Reserved {
	out := Reserved{BySymbol: make(map[string]float64), ByClass: make(map[string]float64)}
	for _, r := range rs {
		out.Trades++
		out.BySymbol[r.Symbol] += r.Notional
		out.ByClass[r.Class] += r.Notional
	}
	return out
}

// Total returns reserved account-wide notional
func (r Reserved) Total() float64 {
	total := 0.0
	for _, v := range r.BySymbol {
		total += v
	}
	return total
}

// FillRecord is the persisted effect of one executed trade
type FillRecord struct {
	Account       string
	Date          string
	RealizedLoss  float64 // positive amount, gains are zero
	Symbol        string
	Class         string
	ExposureDelta float64 // signed notional change
	ReservationID string  // released in the same write, may be empty
}

// Store is the storage boundary for all guard state. Versioned records use
// compare-and-swap; counters use atomic increments so no caller performs an
// unguarded read-modify-write.
type Store interface {
	GetSystemGuard(ctx context.Context) (SystemGuardState, error)
	// SwapSystemGuard writes next only if the stored version equals expected.
	// It returns false without error when the version moved.
	SwapSystemGuard(ctx context.Context, expected int64, next SystemGuardState) (bool, error)

	// LatestDailyLimit returns the most recent counters for account, which may
	// belong to an earlier day. A zero record is returned when none exist.
	LatestDailyLimit(ctx context.Context, account string) (DailyLimitState, error)
	// RecordTrade atomically increments the counters for (account, date).
	RecordTrade(ctx context.Context, account, date string, realizedLoss float64) (DailyLimitState, error)

	GetCircuitBreaker(ctx context.Context, channel string) (CircuitBreakerState, error)
	SwapCircuitBreaker(ctx context.Context, expected int64, next CircuitBreakerState) (bool, error)

	// RecordFill books an executed trade in one atomic unit: the daily
	// counters for (account, date), the exposure rows for symbol/class and
	// the release of fill.ReservationID.
	RecordFill(ctx context.Context, fill FillRecord) (DailyLimitState, error)

	GetExposure(ctx context.Context, account string) (ExposureState, error)
	// AddExposure atomically adds delta notional to the symbol and class rows.
	AddExposure(ctx context.Context, account, symbol, class string, delta float64) error

	// PutReservation stores r, replacing any reservation with the same ID.
	PutReservation(ctx context.Context, r Reservation) error
	// ReleaseReservation deletes the reservation and reports whether it existed.
	ReleaseReservation(ctx context.Context, account, id string) (bool, error)
	// ActiveReservations returns account's reservations that expire after now.
	ActiveReservations(ctx context.Context, account string, now time.Time) ([]Reservation, error)
}

// Locker serializes one guard-check-and-reserve cycle per key
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
