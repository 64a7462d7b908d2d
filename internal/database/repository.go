package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"trade-guard/internal/guarderr"
	"trade-guard/internal/state"
)

// Repository is the PostgreSQL guard state store. Counters are updated with
// atomic upserts and versioned rows with compare-and-swap, so it satisfies
// state.Store without any application-side read-modify-write.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

var _ state.Store = (*Repository)(nil)

// ============================================================================
// SYSTEM GUARD
// ============================================================================

func (r *Repository) GetSystemGuard(ctx context.Context) (state.SystemGuardState, error) {
	query := `
		SELECT allowed, trading_enabled, reason, trip_trigger, tripped_at, soft_until,
			last_recovery_attempt_at, version
		FROM system_guard
		WHERE id = 1
	`

	var (
		s       state.SystemGuardState
		trigger string
	)
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&s.Allowed,
		&s.TradingEnabled,
		&s.Reason,
		&trigger,
		&s.TrippedAt,
		&s.SoftUntil,
		&s.LastRecoveryAttemptAt,
		&s.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return state.SystemGuardState{}, guarderr.StateRead("system_guard", guarderr.ErrStateNotFound)
	}
	if err != nil {
		return state.SystemGuardState{}, guarderr.StateRead("system_guard", err)
	}

	s.Trigger = state.Trigger(trigger)
	return s.Normalize(), nil
}

func (r *Repository) SwapSystemGuard(ctx context.Context, expected int64, next state.SystemGuardState) (bool, error) {
	next = next.Normalize()
	query := `
		UPDATE system_guard
		SET allowed = $2, trading_enabled = $3, reason = $4, trip_trigger = $5,
			tripped_at = $6, soft_until = $7, last_recovery_attempt_at = $8,
			version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1 AND version = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		expected,
		next.Allowed,
		next.TradingEnabled,
		next.Reason,
		string(next.Trigger),
		next.TrippedAt,
		next.SoftUntil,
		next.LastRecoveryAttemptAt,
	)
	if err != nil {
		return false, guarderr.StateWrite("system_guard", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ============================================================================
// DAILY TRADE COUNTERS
// ============================================================================

func (r *Repository) LatestDailyLimit(ctx context.Context, account string) (state.DailyLimitState, error) {
	query := `
		SELECT trade_date::text, trade_count, realized_loss::float8
		FROM daily_trade_counters
		WHERE account_id = $1
		ORDER BY trade_date DESC
		LIMIT 1
	`

	rec := state.DailyLimitState{Account: account}
	err := r.db.Pool.QueryRow(ctx, query, account).Scan(&rec.Date, &rec.TradeCount, &rec.RealizedLoss)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return state.DailyLimitState{}, guarderr.StateRead("daily_trade_counters", err)
	}
	return rec, nil
}

const recordTradeSQL = `
	INSERT INTO daily_trade_counters (account_id, trade_date, trade_count, realized_loss)
	VALUES ($1, $2::date, 1, GREATEST($3::float8, 0))
	ON CONFLICT (account_id, trade_date) DO UPDATE SET
		trade_count = daily_trade_counters.trade_count + 1,
		realized_loss = daily_trade_counters.realized_loss + EXCLUDED.realized_loss,
		updated_at = CURRENT_TIMESTAMP
	RETURNING trade_count, realized_loss::float8
`

func (r *Repository) RecordTrade(ctx context.Context, account, date string, realizedLoss float64) (state.DailyLimitState, error) {
	rec := state.DailyLimitState{Account: account, Date: date}
	err := r.db.Pool.QueryRow(ctx, recordTradeSQL, account, date, realizedLoss).Scan(&rec.TradeCount, &rec.RealizedLoss)
	if err != nil {
		return state.DailyLimitState{}, guarderr.StateWrite("daily_trade_counters", err)
	}
	return rec, nil
}

// RecordFill books the counters and both exposure rows in one transaction
func (r *Repository) RecordFill(ctx context.Context, fill state.FillRecord) (state.DailyLimitState, error) {
	rec := state.DailyLimitState{Account: fill.Account, Date: fill.Date}

	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, recordTradeSQL, fill.Account, fill.Date, fill.RealizedLoss).
			Scan(&rec.TradeCount, &rec.RealizedLoss); err != nil {
			return err
		}
		if fill.ReservationID != "" {
			if _, err := tx.Exec(ctx, releaseReservationSQL, fill.Account, fill.ReservationID); err != nil {
				return fmt.Errorf("reservation %s: %w", fill.ReservationID, err)
			}
		}
		if fill.ExposureDelta == 0 {
			return nil
		}
		return addExposure(ctx, tx, fill.Account, fill.Symbol, fill.Class, fill.ExposureDelta)
	})
	if err != nil {
		return state.DailyLimitState{}, guarderr.StateWrite("fill", err)
	}
	return rec, nil
}

// ============================================================================
// CIRCUIT BREAKER
// ============================================================================

func (r *Repository) GetCircuitBreaker(ctx context.Context, channel string) (state.CircuitBreakerState, error) {
	query := `
		SELECT status, consecutive_failures, opened_at, cooldown_ms, reopen_count,
			trial_started_at, version
		FROM circuit_breaker
		WHERE channel = $1
	`

	var (
		cb         = state.CircuitBreakerState{Channel: channel}
		status     string
		cooldownMs int64
	)
	err := r.db.Pool.QueryRow(ctx, query, channel).Scan(
		&status,
		&cb.ConsecutiveFailures,
		&cb.OpenedAt,
		&cooldownMs,
		&cb.ReopenCount,
		&cb.TrialStartedAt,
		&cb.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// no row yet: a closed breaker at version 0, created on first swap
		return state.ClosedBreaker(channel), nil
	}
	if err != nil {
		return state.CircuitBreakerState{}, guarderr.StateRead("circuit_breaker", err)
	}

	cb.Status = state.BreakerStatus(status)
	cb.Cooldown = time.Duration(cooldownMs) * time.Millisecond
	return cb, nil
}

func (r *Repository) SwapCircuitBreaker(ctx context.Context, expected int64, next state.CircuitBreakerState) (bool, error) {
	query := `
		INSERT INTO circuit_breaker (channel, status, consecutive_failures, opened_at,
			cooldown_ms, reopen_count, trial_started_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::bigint + 1)
		ON CONFLICT (channel) DO UPDATE SET
			status = EXCLUDED.status,
			consecutive_failures = EXCLUDED.consecutive_failures,
			opened_at = EXCLUDED.opened_at,
			cooldown_ms = EXCLUDED.cooldown_ms,
			reopen_count = EXCLUDED.reopen_count,
			trial_started_at = EXCLUDED.trial_started_at,
			version = circuit_breaker.version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE circuit_breaker.version = $8::bigint
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		next.Channel,
		string(next.Status),
		next.ConsecutiveFailures,
		next.OpenedAt,
		next.Cooldown.Milliseconds(),
		next.ReopenCount,
		next.TrialStartedAt,
		expected,
	)
	if err != nil {
		return false, guarderr.StateWrite("circuit_breaker", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ============================================================================
// EXPOSURE
// ============================================================================

func (r *Repository) GetExposure(ctx context.Context, account string) (state.ExposureState, error) {
	query := `
		SELECT kind, key, notional::float8
		FROM exposure
		WHERE account_id = $1 AND notional > 0
	`

	rows, err := r.db.Pool.Query(ctx, query, account)
	if err != nil {
		return state.ExposureState{}, guarderr.StateRead("exposure", err)
	}
	defer rows.Close()

	snap := state.NewExposureState(account)
	for rows.Next() {
		var (
			kind, key string
			notional  float64
		)
		if err := rows.Scan(&kind, &key, &notional); err != nil {
			return state.ExposureState{}, guarderr.StateRead("exposure", err)
		}
		switch state.ExposureKind(kind) {
		case state.ExposureSymbol:
			snap.BySymbol[key] = notional
		case state.ExposureClass:
			snap.ByClass[key] = notional
		}
	}
	if err := rows.Err(); err != nil {
		return state.ExposureState{}, guarderr.StateRead("exposure", err)
	}
	return snap, nil
}

func (r *Repository) AddExposure(ctx context.Context, account, symbol, class string, delta float64) error {
	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		return addExposure(ctx, tx, account, symbol, class, delta)
	})
	if err != nil {
		return guarderr.StateWrite("exposure", err)
	}
	return nil
}

func addExposure(ctx context.Context, tx pgx.Tx, account, symbol, class string, delta float64) error {
	query := `
		INSERT INTO exposure (account_id, kind, key, notional)
		VALUES ($1, $2, $3, GREATEST($4::float8, 0))
		ON CONFLICT (account_id, kind, key) DO UPDATE SET
			notional = GREATEST(exposure.notional + $4::float8, 0),
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := tx.Exec(ctx, query, account, string(state.ExposureSymbol), symbol, delta); err != nil {
		return fmt.Errorf("symbol %s: %w", symbol, err)
	}
	if class == "" {
		return nil
	}
	if _, err := tx.Exec(ctx, query, account, string(state.ExposureClass), class, delta); err != nil {
		return fmt.Errorf("class %s: %w", class, err)
	}
	return nil
}

// ============================================================================
// RESERVATIONS
// ============================================================================

const releaseReservationSQL = `DELETE FROM guard_reservations WHERE account_id = $1 AND id = $2`

// PutReservation stores r and drops the account's expired rows
func (r *Repository) PutReservation(ctx context.Context, res state.Reservation) error {
	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM guard_reservations WHERE account_id = $1 AND expires_at <= $2`,
			res.Account, time.Now().UTC()); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO guard_reservations (id, account_id, symbol, class, notional, trial, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				symbol = EXCLUDED.symbol,
				class = EXCLUDED.class,
				notional = EXCLUDED.notional,
				trial = EXCLUDED.trial,
				expires_at = EXCLUDED.expires_at
		`, res.ID, res.Account, res.Symbol, res.Class, res.Notional, res.Trial, res.ExpiresAt)
		return err
	})
	if err != nil {
		return guarderr.StateWrite("guard_reservations", err)
	}
	return nil
}

func (r *Repository) ReleaseReservation(ctx context.Context, account, id string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, releaseReservationSQL, account, id)
	if err != nil {
		return false, guarderr.StateWrite("guard_reservations", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) ActiveReservations(ctx context.Context, account string, now time.Time) ([]state.Reservation, error) {
	query := `
		SELECT id, symbol, class, notional::float8, trial, expires_at
		FROM guard_reservations
		WHERE account_id = $1 AND expires_at > $2
		ORDER BY id
	`

	rows, err := r.db.Pool.Query(ctx, query, account, now)
	if err != nil {
		return nil, guarderr.StateRead("guard_reservations", err)
	}
	defer rows.Close()

	var out []state.Reservation
	for rows.Next() {
		res := state.Reservation{Account: account}
		if err := rows.Scan(&res.ID, &res.Symbol, &res.Class, &res.Notional, &res.Trial, &res.ExpiresAt); err != nil {
			return nil, guarderr.StateRead("guard_reservations", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, guarderr.StateRead("guard_reservations", err)
	}
	return out, nil
}
