package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Migrations run in order at startup; each statement is idempotent. Schema
// changes append here, never edit in place.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		shares INTEGER NOT NULL DEFAULT 0,
		price_snapshot REAL NOT NULL DEFAULT 0,
		confidence INTEGER NOT NULL,
		sentiment TEXT NOT NULL DEFAULT '',
		reasoning TEXT NOT NULL DEFAULT '',
		risk_factors TEXT NOT NULL DEFAULT '[]',
		quality_scores TEXT NOT NULL DEFAULT '{}',
		trigger_reason TEXT NOT NULL DEFAULT '',
		query_type TEXT NOT NULL DEFAULT '',
		executed INTEGER NOT NULL DEFAULT 0,
		execution_reason TEXT NOT NULL DEFAULT '',
		order_id TEXT NOT NULL DEFAULT '',
		fill_price REAL,
		outcome_pnl REAL,
		outcome_pnl_pct REAL,
		closed_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_symbol_ts ON decisions(symbol, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(timestamp)`,

	`CREATE TABLE IF NOT EXISTS llm_interactions (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		query_type TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		classification TEXT NOT NULL DEFAULT '',
		latency_ms INTEGER NOT NULL DEFAULT 0,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_interactions_ts ON llm_interactions(timestamp)`,

	`CREATE TABLE IF NOT EXISTS patterns (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		conditions TEXT NOT NULL DEFAULT '{}',
		success_rate REAL NOT NULL,
		sample_size INTEGER NOT NULL,
		avg_return REAL NOT NULL DEFAULT 0,
		risk_reward REAL NOT NULL DEFAULT 0,
		discovered_at DATETIME NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS daily_performance (
		date TEXT PRIMARY KEY,
		pnl REAL NOT NULL DEFAULT 0,
		win_rate REAL NOT NULL DEFAULT 0,
		trades INTEGER NOT NULL DEFAULT 0,
		regime TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS overnight_analyses (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		date TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		iterations INTEGER NOT NULL DEFAULT 0,
		depth TEXT NOT NULL DEFAULT 'standard',
		conversation TEXT NOT NULL DEFAULT '[]',
		action TEXT NOT NULL,
		confidence REAL NOT NULL,
		entry_price REAL,
		target_price REAL,
		stop_loss REAL,
		reasoning TEXT NOT NULL DEFAULT '',
		UNIQUE(symbol, date)
	)`,

	`CREATE TABLE IF NOT EXISTS learned_lessons (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		source TEXT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		lesson TEXT NOT NULL
	)`,
}

func migrate(db *sqlx.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
