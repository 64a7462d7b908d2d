package database

import (
	"context"
	"encoding/json"
	"fmt"

	"trade-guard/internal/guard"
)

// ============================================================================
// GUARD DECISIONS
// ============================================================================

// Record appends d to the guard_decisions audit table
func (r *Repository) Record(ctx context.Context, d guard.Decision) error {
	reasons, err := json.Marshal(nonNil(d.Reasons))
	if err != nil {
		return fmt.Errorf("failed to encode reasons: %w", err)
	}
	adjustments, err := json.Marshal(nonNil(d.Adjustments))
	if err != nil {
		return fmt.Errorf("failed to encode adjustments: %w", err)
	}

	query := `
		INSERT INTO guard_decisions (id, account_id, symbol, allowed, recovered, trial,
			reasons, adjustments, risk_adjusted_size, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.db.Pool.Exec(ctx, query,
		d.ID,
		d.Account,
		d.Symbol,
		d.Allowed,
		d.Recovered,
		d.Trial,
		reasons,
		adjustments,
		d.RiskAdjustedSize,
		d.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record guard decision: %w", err)
	}
	return nil
}

// RecentDecisions returns up to limit decisions for account, newest first
func (r *Repository) RecentDecisions(ctx context.Context, account string, limit int) ([]guard.Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, account_id, symbol, allowed, recovered, trial, reasons, adjustments,
			risk_adjusted_size::float8, evaluated_at
		FROM guard_decisions
		WHERE account_id = $1
		ORDER BY evaluated_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, account, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query guard decisions: %w", err)
	}
	defer rows.Close()

	var decisions []guard.Decision
	for rows.Next() {
		var (
			d                    guard.Decision
			reasons, adjustments []byte
		)
		if err := rows.Scan(
			&d.ID,
			&d.Account,
			&d.Symbol,
			&d.Allowed,
			&d.Recovered,
			&d.Trial,
			&reasons,
			&adjustments,
			&d.RiskAdjustedSize,
			&d.EvaluatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan guard decision: %w", err)
		}
		if err := json.Unmarshal(reasons, &d.Reasons); err != nil {
			return nil, fmt.Errorf("failed to decode reasons for %s: %w", d.ID, err)
		}
		if err := json.Unmarshal(adjustments, &d.Adjustments); err != nil {
			return nil, fmt.Errorf("failed to decode adjustments for %s: %w", d.ID, err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
