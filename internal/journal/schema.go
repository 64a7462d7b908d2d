package journal

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	account TEXT NOT NULL,
	symbol TEXT NOT NULL DEFAULT '',
	allowed INTEGER NOT NULL,
	recovered INTEGER NOT NULL DEFAULT 0,
	trial INTEGER NOT NULL DEFAULT 0,
	reasons TEXT NOT NULL DEFAULT '[]',
	adjustments TEXT NOT NULL DEFAULT '[]',
	risk_adjusted_size REAL,
	evaluated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_account_time ON decisions(account, evaluated_at);
`
