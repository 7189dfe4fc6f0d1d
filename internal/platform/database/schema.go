package database

import "database/sql"

// Schema statements are idempotent; cmd/migrate applies them on bootstrap
// and tests apply them against in-memory databases.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS webhook_events (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		brand_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		target_url TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 5,
		next_attempt_at INTEGER,
		last_error TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (provider, brand_id, idempotency_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_events_due
		ON webhook_events (status, next_attempt_at)`,
	`CREATE TABLE IF NOT EXISTS webhook_attempts (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL REFERENCES webhook_events(id),
		attempt_number INTEGER NOT NULL,
		status_code INTEGER,
		error TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_attempts_event
		ON webhook_attempts (event_id, attempt_number)`,
	`CREATE TABLE IF NOT EXISTS escalation_rules (
		id TEXT PRIMARY KEY,
		brand_id TEXT NOT NULL,
		level TEXT NOT NULL,
		threshold_hours INTEGER NOT NULL,
		notify_channels TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS escalation_events (
		id TEXT PRIMARY KEY,
		approval_id TEXT NOT NULL,
		brand_id TEXT NOT NULL,
		level TEXT NOT NULL,
		scheduled_at INTEGER NOT NULL,
		triggered_at INTEGER,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_escalation_events_due
		ON escalation_events (status, scheduled_at)`,
	`CREATE TABLE IF NOT EXISTS post_approvals (
		id TEXT PRIMARY KEY,
		brand_id TEXT NOT NULL,
		post_id TEXT NOT NULL,
		title TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		requested_by TEXT NOT NULL,
		resolved_by TEXT,
		resolved_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		brand_id TEXT NOT NULL,
		post_id TEXT,
		actor_id TEXT NOT NULL,
		actor_email TEXT NOT NULL,
		action TEXT NOT NULL,
		metadata TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_brand
		ON audit_logs (brand_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		brand_id TEXT NOT NULL,
		name TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		key_prefix TEXT NOT NULL,
		scopes TEXT NOT NULL,
		last_used_at INTEGER,
		expires_at INTEGER,
		created_at INTEGER NOT NULL,
		revoked_at INTEGER
	)`,
}

func Migrate(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
