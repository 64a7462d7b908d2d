// Package journal keeps a local SQLite audit trail of guard decisions. It is
// a record of what was decided, never an input to a decision.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trade-guard/internal/guard"
)

// SQLite is the decision journal
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the journal at path
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// one writer; sqlite serializes writes anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

var _ guard.Recorder = (*SQLite)(nil)

// Record appends one decision
func (j *SQLite) Record(ctx context.Context, d guard.Decision) error {
	reasons, err := json.Marshal(orEmpty(d.Reasons))
	if err != nil {
		return err
	}
	adjustments, err := json.Marshal(orEmpty(d.Adjustments))
	if err != nil {
		return err
	}

	var size sql.NullFloat64
	if d.RiskAdjustedSize != nil {
		size = sql.NullFloat64{Float64: *d.RiskAdjustedSize, Valid: true}
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO decisions
		(id, account, symbol, allowed, recovered, trial, reasons, adjustments, risk_adjusted_size, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Account, d.Symbol, d.Allowed, d.Recovered, d.Trial,
		string(reasons), string(adjustments), size, d.EvaluatedAt.UTC(),
	)
	return err
}

// GetDecision returns a single decision by ID
func (j *SQLite) GetDecision(ctx context.Context, id string) (guard.Decision, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, account, symbol, allowed, recovered, trial, reasons, adjustments, risk_adjusted_size, evaluated_at
		FROM decisions
		WHERE id = ?`, id)

	d, err := scanDecision(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return guard.Decision{}, fmt.Errorf("decision %q not found", id)
		}
		return guard.Decision{}, err
	}
	return d, nil
}

// ListBetween returns account's decisions evaluated within [start, end), oldest first
func (j *SQLite) ListBetween(ctx context.Context, account string, start, end time.Time) ([]guard.Decision, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, account, symbol, allowed, recovered, trial, reasons, adjustments, risk_adjusted_size, evaluated_at
		FROM decisions
		WHERE account = ? AND evaluated_at >= ? AND evaluated_at < ?
		ORDER BY evaluated_at ASC, id ASC`, account, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []guard.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Summary counts decisions for account within [start, end)
type Summary struct {
	Total     int `json:"total"`
	Allowed   int `json:"allowed"`
	Denied    int `json:"denied"`
	Recovered int `json:"recovered"`
}

// Summarize aggregates the journal for a window
func (j *SQLite) Summarize(ctx context.Context, account string, start, end time.Time) (Summary, error) {
	var s Summary
	err := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(allowed), 0),
			COALESCE(SUM(1 - allowed), 0),
			COALESCE(SUM(recovered), 0)
		FROM decisions
		WHERE account = ? AND evaluated_at >= ? AND evaluated_at < ?`,
		account, start.UTC(), end.UTC()).Scan(&s.Total, &s.Allowed, &s.Denied, &s.Recovered)
	return s, err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDecision(s scanner) (guard.Decision, error) {
	var (
		d                    guard.Decision
		reasons, adjustments string
		size                 sql.NullFloat64
	)
	if err := s.Scan(
		&d.ID,
		&d.Account,
		&d.Symbol,
		&d.Allowed,
		&d.Recovered,
		&d.Trial,
		&reasons,
		&adjustments,
		&size,
		&d.EvaluatedAt,
	); err != nil {
		return guard.Decision{}, err
	}
	if err := json.Unmarshal([]byte(reasons), &d.Reasons); err != nil {
		return guard.Decision{}, fmt.Errorf("decision %s: bad reasons: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(adjustments), &d.Adjustments); err != nil {
		return guard.Decision{}, fmt.Errorf("decision %s: bad adjustments: %w", d.ID, err)
	}
	if size.Valid {
		v := size.Float64
		d.RiskAdjustedSize = &v
	}
	return d, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
